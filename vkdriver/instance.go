package vkdriver

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	vk "github.com/vulkan-go/vulkan"

	"vulkan-compute-studio/gpu"
)

const validationLayer = "VK_LAYER_KHRONOS_validation\x00"

// SwapchainExtension is the device extension required for presenting.
const SwapchainExtension = vk.KhrSwapchainExtensionName

// Surface is a window Vulkan can present to.
type Surface interface {
	// InstanceProcAddr returns the loader entry point the window system
	// was initialised with.
	InstanceProcAddr() unsafe.Pointer
	RequiredInstanceExtensions() []string
	CreateSurface(instance vk.Instance) (vk.Surface, error)

	// FramebufferSize is the size of the drawable area in pixels.
	FramebufferSize() (width, height int)
}

// Config holds the options for creating an Instance.
type Config struct {
	AppName string

	// Validation enables the Khronos validation layer.
	Validation bool

	// Surface is nil for headless instances.
	Surface Surface

	Log logrus.FieldLogger
}

// Instance is the Vulkan implementation of gpu.Instance.
type Instance struct {
	instance vk.Instance
	surface  vk.Surface
	window   Surface
	layers   []string
	log      logrus.FieldLogger
}

var _ gpu.Instance = (*Instance)(nil)

// NewInstance loads Vulkan, creates an instance and, when a window is
// configured, its presentation surface.
func NewInstance(cfg Config) (*Instance, error) {
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	if cfg.Surface != nil {
		vk.SetGetInstanceProcAddr(cfg.Surface.InstanceProcAddr())
	} else if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
		return nil, errors.Wrap(err, "failed to load the Vulkan library")
	}

	if err := vk.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to init Vulkan Go")
	}

	inst := &Instance{
		window:  cfg.Surface,
		surface: vk.NullSurface,
		log:     log,
	}
	if cfg.Validation {
		inst.layers = []string{validationLayer}
		if !checkValidationSupport(inst.layers) {
			return nil, errors.New("validation layers requested but not available")
		}
	}

	appInfo := vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		PApplicationName:   cString(cfg.AppName),
		ApplicationVersion: vk.MakeVersion(1, 0, 0),
		PEngineName:        "No Engine\x00",
		EngineVersion:      vk.MakeVersion(1, 0, 0),
		ApiVersion:         vk.ApiVersion10,
	}

	var extensions []string
	if cfg.Surface != nil {
		extensions = cStrings(cfg.Surface.RequiredInstanceExtensions())
	}

	createInfo := vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        &appInfo,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
		EnabledLayerCount:       uint32(len(inst.layers)),
		PpEnabledLayerNames:     inst.layers,
	}

	if err := vk.Error(vk.CreateInstance(&createInfo, nil, &inst.instance)); err != nil {
		return nil, errors.Wrap(err, "failed to create Vulkan instance")
	}
	if err := vk.InitInstance(inst.instance); err != nil {
		vk.DestroyInstance(inst.instance, nil)
		return nil, errors.Wrap(err, "failed to load instance functions")
	}

	if cfg.Surface != nil {
		surface, err := cfg.Surface.CreateSurface(inst.instance)
		if err != nil {
			vk.DestroyInstance(inst.instance, nil)
			return nil, errors.Wrap(err, "cannot create surface within the window")
		}
		inst.surface = surface
	}

	log.WithFields(logrus.Fields{
		"validation": cfg.Validation,
		"headless":   cfg.Surface == nil,
	}).Debug("vulkan instance created")

	return inst, nil
}

// Headless reports whether the instance has no presentation surface.
func (inst *Instance) Headless() bool {
	return inst.surface == vk.NullSurface
}

// PhysicalDevices returns the devices of the instance in the order the
// driver enumerates them.
func (inst *Instance) PhysicalDevices() ([]gpu.PhysicalDevice, error) {
	var deviceCount uint32
	err := vk.Error(vk.EnumeratePhysicalDevices(inst.instance, &deviceCount, nil))
	if err != nil {
		return nil, errors.Wrap(err, "failed to get the number of physical devices")
	}
	if deviceCount == 0 {
		return nil, nil
	}

	handles := make([]vk.PhysicalDevice, deviceCount)
	err = vk.Error(vk.EnumeratePhysicalDevices(inst.instance, &deviceCount, handles))
	if err != nil {
		return nil, errors.Wrap(err, "failed to enumerate the physical devices")
	}

	devices := make([]gpu.PhysicalDevice, 0, deviceCount)
	for _, handle := range handles[:deviceCount] {
		devices = append(devices, newPhysicalDevice(inst, handle))
	}
	return devices, nil
}

// CreateDevice creates a logical device with one queue on each of the
// requested families.
func (inst *Instance) CreateDevice(
	pd gpu.PhysicalDevice,
	desc gpu.DeviceDesc,
) (gpu.Device, error) {
	physical, ok := pd.(*PhysicalDevice)
	if !ok || physical.instance != inst {
		return nil, errors.New("physical device does not belong to this instance")
	}

	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, 0, len(desc.Families))
	for _, familyIndex := range desc.Families {
		queueCreateInfos = append(
			queueCreateInfos,
			vk.DeviceQueueCreateInfo{
				SType:            vk.StructureTypeDeviceQueueCreateInfo,
				QueueFamilyIndex: familyIndex,
				QueueCount:       1,
				PQueuePriorities: []float32{1.0},
			},
		)
	}

	extensions := cStrings(desc.Extensions)
	createInfo := vk.DeviceCreateInfo{
		SType:            vk.StructureTypeDeviceCreateInfo,
		PEnabledFeatures: []vk.PhysicalDeviceFeatures{{}},

		PQueueCreateInfos:    queueCreateInfos,
		QueueCreateInfoCount: uint32(len(queueCreateInfos)),

		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,

		EnabledLayerCount:   uint32(len(inst.layers)),
		PpEnabledLayerNames: inst.layers,
	}

	var device vk.Device
	err := vk.Error(vk.CreateDevice(physical.handle, &createInfo, nil, &device))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create logical device")
	}

	return newDevice(physical, device), nil
}

// Destroy releases the surface and the instance. Devices have to be
// destroyed before.
func (inst *Instance) Destroy() {
	if inst.surface != vk.NullSurface {
		vk.DestroySurface(inst.instance, inst.surface, nil)
		inst.surface = vk.NullSurface
	}
	vk.DestroyInstance(inst.instance, nil)
}

func checkValidationSupport(layers []string) bool {
	var count uint32
	if vk.EnumerateInstanceLayerProperties(&count, nil) != vk.Success {
		return false
	}
	availableLayers := make([]vk.LayerProperties, count)

	if vk.EnumerateInstanceLayerProperties(&count, availableLayers) != vk.Success {
		return false
	}

	available := make(map[string]struct{}, count)
	for _, layer := range availableLayers {
		layer.Deref()
		available[cString(vk.ToString(layer.LayerName[:]))] = struct{}{}
	}

	for _, layer := range layers {
		if _, ok := available[layer]; !ok {
			return false
		}
	}
	return true
}
