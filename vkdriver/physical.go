package vkdriver

import (
	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"

	"vulkan-compute-studio/gpu"
)

// PhysicalDevice is the Vulkan implementation of gpu.PhysicalDevice. The
// static properties are read once when the device is enumerated.
type PhysicalDevice struct {
	instance *Instance
	handle   vk.PhysicalDevice

	props    gpu.DeviceProperties
	families []gpu.QueueFamily
	memory   []gpu.MemoryType
}

var _ gpu.PhysicalDevice = (*PhysicalDevice)(nil)

func newPhysicalDevice(inst *Instance, handle vk.PhysicalDevice) *PhysicalDevice {
	pd := &PhysicalDevice{
		instance: inst,
		handle:   handle,
	}

	var properties vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(handle, &properties)
	properties.Deref()
	properties.Limits.Deref()

	pd.props = gpu.DeviceProperties{
		Name:                   vk.ToString(properties.DeviceName[:]),
		APIVersion:             properties.ApiVersion,
		Discrete:               properties.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu,
		MaxComputeSharedMemory: properties.Limits.MaxComputeSharedMemorySize,
	}

	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(handle, &queueFamilyCount, nil)

	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(handle, &queueFamilyCount, queueFamilies)

	for _, family := range queueFamilies {
		family.Deref()
		pd.families = append(pd.families, gpu.QueueFamily{
			Flags: queueFlags(family.QueueFlags),
			Count: family.QueueCount,
		})
	}

	var memProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(handle, &memProperties)
	memProperties.Deref()

	for i := uint32(0); i < memProperties.MemoryTypeCount; i++ {
		memType := memProperties.MemoryTypes[i]
		memType.Deref()

		heap := memProperties.MemoryHeaps[memType.HeapIndex]
		heap.Deref()

		pd.memory = append(pd.memory, gpu.MemoryType{
			Flags:     memoryProperties(memType.PropertyFlags),
			HeapIndex: memType.HeapIndex,
			HeapSize:  uint64(heap.Size),
		})
	}

	return pd
}

func (pd *PhysicalDevice) Properties() gpu.DeviceProperties {
	return pd.props
}

func (pd *PhysicalDevice) QueueFamilies() []gpu.QueueFamily {
	return pd.families
}

func (pd *PhysicalDevice) MemoryTypes() []gpu.MemoryType {
	return pd.memory
}

// SupportsPresent reports whether family can present to the instance surface.
func (pd *PhysicalDevice) SupportsPresent(family uint32) (bool, error) {
	if pd.instance.Headless() {
		return false, nil
	}

	var hasPresent vk.Bool32
	err := vk.Error(
		vk.GetPhysicalDeviceSurfaceSupport(pd.handle, family, pd.instance.surface, &hasPresent),
	)
	if err != nil {
		return false, errors.Wrapf(err, "querying surface support for queue family %d", family)
	}
	return hasPresent.B(), nil
}

// SupportsExtensions reports whether every named device extension is
// available.
func (pd *PhysicalDevice) SupportsExtensions(names []string) (bool, error) {
	var extensionsCount uint32
	res := vk.EnumerateDeviceExtensionProperties(pd.handle, "", &extensionsCount, nil)
	if err := vk.Error(res); err != nil {
		return false, errors.Wrap(err, "enumerating device extension properties count")
	}

	availableExtensions := make([]vk.ExtensionProperties, extensionsCount)
	res = vk.EnumerateDeviceExtensionProperties(pd.handle, "", &extensionsCount,
		availableExtensions)
	if err := vk.Error(res); err != nil {
		return false, errors.Wrap(err, "getting device extension properties")
	}

	requiredExtensions := make(map[string]struct{}, len(names))
	for _, name := range names {
		requiredExtensions[cString(name)] = struct{}{}
	}

	for _, extension := range availableExtensions {
		extension.Deref()
		delete(requiredExtensions, cString(vk.ToString(extension.ExtensionName[:])))
	}

	return len(requiredExtensions) == 0, nil
}

func (pd *PhysicalDevice) SwapchainSupport() (gpu.SwapchainSupport, error) {
	details, err := pd.querySwapChainSupport()
	if err != nil {
		return gpu.SwapchainSupport{}, err
	}
	return gpu.SwapchainSupport{
		Formats:      len(details.formats),
		PresentModes: len(details.presentModes),
	}, nil
}

type swapChainSupportDetails struct {
	capabilities vk.SurfaceCapabilities
	formats      []vk.SurfaceFormat
	presentModes []vk.PresentMode
}

func (pd *PhysicalDevice) querySwapChainSupport() (swapChainSupportDetails, error) {
	details := swapChainSupportDetails{}
	if pd.instance.Headless() {
		return details, errors.New("instance has no surface")
	}
	surface := pd.instance.surface

	var capabilities vk.SurfaceCapabilities
	res := vk.GetPhysicalDeviceSurfaceCapabilities(pd.handle, surface, &capabilities)
	if err := vk.Error(res); err != nil {
		return details, errors.Wrap(err, "failed to query device surface capabilities")
	}
	capabilities.Deref()
	capabilities.CurrentExtent.Deref()
	capabilities.MinImageExtent.Deref()
	capabilities.MaxImageExtent.Deref()

	details.capabilities = capabilities

	var formatCount uint32
	res = vk.GetPhysicalDeviceSurfaceFormats(pd.handle, surface, &formatCount, nil)
	if err := vk.Error(res); err != nil {
		return details, errors.Wrap(err, "failed to query device surface formats")
	}

	if formatCount != 0 {
		formats := make([]vk.SurfaceFormat, formatCount)
		vk.GetPhysicalDeviceSurfaceFormats(pd.handle, surface, &formatCount, formats)
		for _, format := range formats {
			format.Deref()
			details.formats = append(details.formats, format)
		}
	}

	var presentModeCount uint32
	res = vk.GetPhysicalDeviceSurfacePresentModes(
		pd.handle, surface, &presentModeCount, nil,
	)
	if err := vk.Error(res); err != nil {
		return details, errors.Wrap(err, "failed to query device surface present modes")
	}

	if presentModeCount != 0 {
		presentModes := make([]vk.PresentMode, presentModeCount)
		vk.GetPhysicalDeviceSurfacePresentModes(
			pd.handle, surface, &presentModeCount, presentModes,
		)
		details.presentModes = presentModes
	}

	return details, nil
}
