// Package gputest is an in-memory implementation of the gpu driver interfaces.
// It records every command, runs a configurable kernel for compute dispatches
// and reports synchronization mistakes as violations instead of crashing.
package gputest

import (
	"github.com/cockroachdb/errors"

	"vulkan-compute-studio/gpu"
	"vulkan-compute-studio/queues"
)

// SwapchainExtension is the only device extension fake devices support by
// default.
const SwapchainExtension = "VK_KHR_swapchain"

// Instance is a fake driver instance.
type Instance struct {
	Devices []*PhysicalDevice

	// Device is the last device created.
	Device    *Device
	Destroyed bool
}

// NewInstance returns an instance exposing devices.
func NewInstance(devices ...*PhysicalDevice) *Instance {
	return &Instance{Devices: devices}
}

// PhysicalDevices implements gpu.Instance.
func (i *Instance) PhysicalDevices() ([]gpu.PhysicalDevice, error) {
	out := make([]gpu.PhysicalDevice, 0, len(i.Devices))
	for _, d := range i.Devices {
		out = append(out, d)
	}
	return out, nil
}

// CreateDevice implements gpu.Instance. It rejects queue family indices which
// the physical device does not have.
func (i *Instance) CreateDevice(pd gpu.PhysicalDevice, desc gpu.DeviceDesc) (gpu.Device, error) {
	physical, ok := pd.(*PhysicalDevice)
	if !ok {
		return nil, errors.Newf("foreign physical device %T", pd)
	}

	seen := make(map[uint32]bool)
	for _, family := range desc.Families {
		if int(family) >= len(physical.Families) {
			return nil, errors.Newf("queue family %d does not exist", family)
		}
		if seen[family] {
			return nil, errors.Newf("queue family %d requested twice", family)
		}
		seen[family] = true
	}

	i.Device = newDevice(physical, desc)
	return i.Device, nil
}

// Destroy implements gpu.Instance.
func (i *Instance) Destroy() {
	i.Destroyed = true
}

// PhysicalDevice is a fake physical device. Its fields may be changed freely
// before negotiation.
type PhysicalDevice struct {
	Props    gpu.DeviceProperties
	Families []gpu.QueueFamily
	Memory   []gpu.MemoryType

	// Present lists the queue families which can present. A nil map means
	// none can.
	Present    map[uint32]bool
	Extensions []string
	Swapchain  gpu.SwapchainSupport

	// PresentErr is returned by SupportsPresent.
	PresentErr error
}

// NewPhysicalDevice returns a device with a single graphics, compute and
// present capable family, a device local and a host coherent memory type and
// swapchain support.
func NewPhysicalDevice(name string) *PhysicalDevice {
	return &PhysicalDevice{
		Props: gpu.DeviceProperties{
			Name:                   name,
			APIVersion:             1<<22 | 2<<12 | 131,
			Discrete:               true,
			MaxComputeSharedMemory: 48 * 1024,
		},
		Families: []gpu.QueueFamily{
			{Flags: queues.Graphics | queues.Compute | queues.Transfer, Count: 16},
		},
		Memory: []gpu.MemoryType{
			{Flags: gpu.MemoryDeviceLocal, HeapIndex: 0, HeapSize: 8 << 30},
			{Flags: gpu.MemoryHostVisible | gpu.MemoryHostCoherent, HeapIndex: 1, HeapSize: 16 << 30},
			{Flags: gpu.MemoryHostVisible | gpu.MemoryHostCached, HeapIndex: 1, HeapSize: 16 << 30},
		},
		Present:    map[uint32]bool{0: true},
		Extensions: []string{SwapchainExtension},
		Swapchain:  gpu.SwapchainSupport{Formats: 1, PresentModes: 2},
	}
}

// NewSplitPhysicalDevice returns a device whose compute, graphics and present
// roles live in three different families.
func NewSplitPhysicalDevice(name string) *PhysicalDevice {
	pd := NewPhysicalDevice(name)
	pd.Families = []gpu.QueueFamily{
		{Flags: queues.Transfer, Count: 1},
		{Flags: queues.Compute, Count: 4},
		{Flags: queues.Graphics, Count: 1},
		{Flags: queues.Transfer, Count: 1},
	}
	pd.Present = map[uint32]bool{3: true}
	return pd
}

// WithoutHostCoherentMemory removes every host coherent memory type.
func (p *PhysicalDevice) WithoutHostCoherentMemory() *PhysicalDevice {
	kept := p.Memory[:0]
	for _, m := range p.Memory {
		if m.Flags&gpu.MemoryHostCoherent == 0 {
			kept = append(kept, m)
		}
	}
	p.Memory = kept
	return p
}

// Properties implements gpu.PhysicalDevice.
func (p *PhysicalDevice) Properties() gpu.DeviceProperties {
	return p.Props
}

// QueueFamilies implements gpu.PhysicalDevice.
func (p *PhysicalDevice) QueueFamilies() []gpu.QueueFamily {
	return p.Families
}

// MemoryTypes implements gpu.PhysicalDevice.
func (p *PhysicalDevice) MemoryTypes() []gpu.MemoryType {
	return p.Memory
}

// SupportsPresent implements gpu.PhysicalDevice.
func (p *PhysicalDevice) SupportsPresent(family uint32) (bool, error) {
	if p.PresentErr != nil {
		return false, p.PresentErr
	}
	return p.Present[family], nil
}

// SupportsExtensions implements gpu.PhysicalDevice.
func (p *PhysicalDevice) SupportsExtensions(names []string) (bool, error) {
	available := make(map[string]bool, len(p.Extensions))
	for _, ext := range p.Extensions {
		available[ext] = true
	}
	for _, name := range names {
		if !available[name] {
			return false, nil
		}
	}
	return true, nil
}

// SwapchainSupport implements gpu.PhysicalDevice.
func (p *PhysicalDevice) SwapchainSupport() (gpu.SwapchainSupport, error) {
	return p.Swapchain, nil
}
