package gpu

import "github.com/cockroachdb/errors"

// Error classes. Errors returned by this package are marked with one of these
// so callers can use errors.Is on the class while keeping the detailed cause.
var (
	// ErrCapability means no suitable device, queue family or memory type
	// exists.
	ErrCapability = errors.New("capability not available")

	// ErrResourceCreation means the driver refused to create an object.
	ErrResourceCreation = errors.New("resource creation failed")

	// ErrIO means a shader binary could not be read.
	ErrIO = errors.New("i/o failure")

	// ErrDeviceLost means the device stopped responding. It is also used when
	// a fence wait times out.
	ErrDeviceLost = errors.New("device lost")
)

// Specific errors.
var (
	ErrNoDevice           = errors.New("failed to find GPUs with Vulkan support")
	ErrNoSuitableDevice   = errors.New("failed to find suitable physical devices")
	ErrNoMemoryType       = errors.New("failed to find suitable memory type")
	ErrDescriptorMismatch = errors.New("descriptor bindings do not match the set layout")
	ErrMappingClosed      = errors.New("mapped memory accessed outside of its scope")
	ErrOutOfRange         = errors.New("access outside of the buffer")
	ErrNotBound           = errors.New("buffer has no memory bound")
	ErrAlreadyBound       = errors.New("buffer already has memory bound")

	// ErrTimeout is returned by drivers when a wait expires.
	ErrTimeout = errors.New("timeout expired")

	// ErrOutOfDate is returned when the swapchain no longer matches the
	// surface and has to be recreated.
	ErrOutOfDate = errors.New("swapchain out of date")
)

func capabilityError(err error) error {
	return errors.Mark(err, ErrCapability)
}

func creationError(err error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrResourceCreation)
}
