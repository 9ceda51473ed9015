package gpu

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"vulkan-compute-studio/queues"
)

// Requirements is what a program needs from the device it runs on.
type Requirements struct {
	// Present requires graphics and presentation queue families, the
	// Extensions and an adequate swapchain. When false the first device with
	// a compute family is used.
	Present bool

	// Extensions lists the device extensions which must be supported.
	Extensions []string
}

// Context is the result of capability negotiation: the selected physical device,
// the logical device and one queue per role. It is created once by Negotiate
// and released once by Destroy.
type Context struct {
	Physical   PhysicalDevice
	Device     Device
	Properties DeviceProperties
	Families   queues.FamilyIndices

	ComputeQueue  QueueID
	GraphicsQueue QueueID
	PresentQueue  QueueID

	// Log is used by every component created from the context.
	Log logrus.FieldLogger

	requirements Requirements
}

// Negotiate selects a physical device satisfying req, validates its queue
// families and creates the logical device.
func Negotiate(inst Instance, req Requirements, log logrus.FieldLogger) (*Context, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	devices, err := inst.PhysicalDevices()
	if err != nil {
		return nil, errors.Wrap(err, "failed to enumerate the physical devices")
	}
	if len(devices) == 0 {
		return nil, capabilityError(ErrNoDevice)
	}

	physical, err := pickPhysicalDevice(devices, req, log)
	if err != nil {
		return nil, err
	}

	indices, err := findQueueFamilies(physical, req)
	if err != nil {
		return nil, err
	}
	if err := indices.Validate(req.Present); err != nil {
		return nil, capabilityError(err)
	}

	props := physical.Properties()
	log.WithFields(logrus.Fields{
		"device":                 props.Name,
		"api":                    versionString(props.APIVersion),
		"discrete":               props.Discrete,
		"computeSharedMemoryKiB": props.MaxComputeSharedMemory / 1024,
		"families":               indices.Unique(),
	}).Info("selected physical device")

	device, err := inst.CreateDevice(physical, DeviceDesc{
		Families:   indices.Unique(),
		Extensions: req.Extensions,
	})
	if err != nil {
		return nil, creationError(err, "failed to create logical device")
	}

	ctx := &Context{
		Physical:     physical,
		Device:       device,
		Properties:   props,
		Families:     indices,
		Log:          log,
		requirements: req,
	}

	ctx.ComputeQueue = device.Queue(indices.Compute.Get())
	if req.Present {
		ctx.GraphicsQueue = device.Queue(indices.Graphics.Get())
		ctx.PresentQueue = device.Queue(indices.Present.Get())
	}

	return ctx, nil
}

// pickPhysicalDevice returns the first device in headless mode and the first
// suitable one otherwise.
func pickPhysicalDevice(devices []PhysicalDevice, req Requirements, log logrus.FieldLogger) (PhysicalDevice, error) {
	if !req.Present {
		return devices[0], nil
	}

	for _, device := range devices {
		suitable, err := isDeviceSuitable(device, req)
		if err != nil {
			return nil, err
		}

		log.WithFields(logrus.Fields{
			"device":   device.Properties().Name,
			"suitable": suitable,
		}).Debug("available device")

		if suitable {
			return device, nil
		}
	}

	return nil, capabilityError(ErrNoSuitableDevice)
}

func isDeviceSuitable(device PhysicalDevice, req Requirements) (bool, error) {
	indices, err := findQueueFamilies(device, req)
	if err != nil {
		return false, err
	}

	extensionsSupported, err := device.SupportsExtensions(req.Extensions)
	if err != nil {
		return false, errors.Wrap(err, "enumerating device extension properties")
	}

	swapChainAdequate := false
	if extensionsSupported {
		support, err := device.SwapchainSupport()
		if err != nil {
			return false, errors.Wrap(err, "querying swap chain support")
		}
		swapChainAdequate = support.Formats > 0 && support.PresentModes > 0
	}

	return indices.IsComplete() && extensionsSupported && swapChainAdequate, nil
}

func findQueueFamilies(device PhysicalDevice, req Requirements) (queues.FamilyIndices, error) {
	var canPresent queues.PresentSupport
	if req.Present {
		canPresent = device.SupportsPresent
	}
	return queues.Find(device.QueueFamilies(), canPresent)
}

// SharingFamilies returns the distinct queue families which access shared
// buffers. More than one entry means the buffers need concurrent sharing.
func (c *Context) SharingFamilies() []uint32 {
	if !c.requirements.Present {
		return []uint32{c.Families.Compute.Get()}
	}

	compute := c.Families.Compute.Get()
	graphics := c.Families.Graphics.Get()
	if compute == graphics {
		return []uint32{compute}
	}
	return []uint32{compute, graphics}
}

// PresentFamilies returns the graphics and present families used by the
// swapchain images.
func (c *Context) PresentFamilies() []uint32 {
	graphics := c.Families.Graphics.Get()
	present := c.Families.Present.Get()
	if graphics == present {
		return []uint32{graphics}
	}
	return []uint32{graphics, present}
}

// Destroy waits for the device to become idle and destroys it.
func (c *Context) Destroy() {
	if c.Device == nil {
		return
	}
	if err := c.Device.WaitIdle(); err != nil {
		c.Log.WithError(err).Warn("waiting for device idle before destroy")
	}
	c.Device.Destroy()
	c.Device = nil
}

func versionString(v uint32) string {
	return fmt.Sprintf("%d.%d.%d", v>>22, (v>>12)&0x3ff, v&0xfff)
}
