package studio

import (
	"time"

	"github.com/cockroachdb/errors"

	"vulkan-compute-studio/gpu"
	"vulkan-compute-studio/shaders"
)

// Config holds the options of a Simulation.
type Config struct {
	// FramesInFlight is the number of frames the host may record ahead of
	// the device.
	FramesInFlight int

	// FenceTimeout bounds every fence wait. Expiry is fatal.
	FenceTimeout time.Duration

	// Feedback copies the compute output back into the input and the vertex
	// buffer after every dispatch, so the triangle keeps changing.
	Feedback bool

	// Paths of SPIR-V blobs. An empty path compiles the embedded WGSL source.
	ComputeShader  string
	VertexShader   string
	FragmentShader string

	ClearColor [4]float32
}

// DefaultConfig returns the configuration of the studio program.
func DefaultConfig() Config {
	return Config{
		FramesInFlight: 2,
		FenceTimeout:   gpu.Infinite,
		ClearColor:     gpu.DefaultClearColor,
	}
}

// Validate checks that the configuration can be used.
func (c Config) Validate() error {
	if c.FramesInFlight < 1 {
		return errors.Newf("frames in flight must be at least 1, got %d", c.FramesInFlight)
	}
	if c.FenceTimeout <= 0 {
		return errors.Newf("fence timeout must be positive, got %s", c.FenceTimeout)
	}
	return nil
}

// Programs are the SPIR-V modules of the simulation.
type Programs struct {
	Compute  []uint32
	Vertex   []uint32
	Fragment []uint32
}

// LoadPrograms reads the shader blobs named by cfg.
func LoadPrograms(cfg Config) (Programs, error) {
	var (
		p   Programs
		err error
	)

	p.Compute, err = loadShader(cfg.ComputeShader, shaders.Rotate)
	if err != nil {
		return p, errors.Wrap(err, "loading compute shader")
	}
	p.Vertex, err = loadShader(cfg.VertexShader, shaders.Vertex)
	if err != nil {
		return p, errors.Wrap(err, "loading vertex shader")
	}
	p.Fragment, err = loadShader(cfg.FragmentShader, shaders.Fragment)
	if err != nil {
		return p, errors.Wrap(err, "loading fragment shader")
	}
	return p, nil
}

func loadShader(path, source string) ([]uint32, error) {
	code, err := shaders.LoadOrCompile(path, source)
	if err != nil && path != "" {
		return nil, errors.Mark(err, gpu.ErrIO)
	}
	return code, err
}
