// Package compute runs a storage buffer kernel once over a small array of
// integers and reads the result back to the host.
package compute

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"vulkan-compute-studio/gpu"
	"vulkan-compute-studio/shaders"
	"vulkan-compute-studio/unsafer"
)

// elementSize is the size of one int32 element in bytes.
const elementSize = 4

// Config holds the options of a one-shot run.
type Config struct {
	// ElementCount is the number of int32 elements in each buffer. The
	// dispatch launches one workgroup per element.
	ElementCount int

	// FenceTimeout bounds the wait for the dispatch. Expiry is fatal.
	FenceTimeout time.Duration

	// ShaderPath names a SPIR-V blob. An empty path compiles the embedded
	// doubling kernel.
	ShaderPath string
}

// DefaultConfig returns the configuration of the simple-compute program.
func DefaultConfig() Config {
	return Config{
		ElementCount: 10,
		FenceTimeout: gpu.Infinite,
	}
}

// Validate checks that the configuration can be used.
func (c Config) Validate() error {
	if c.ElementCount < 1 {
		return errors.Newf("element count must be at least 1, got %d", c.ElementCount)
	}
	if c.FenceTimeout <= 0 {
		return errors.Newf("fence timeout must be positive, got %s", c.FenceTimeout)
	}
	return nil
}

// LoadProgram reads the compute shader named by cfg.
func LoadProgram(cfg Config) ([]uint32, error) {
	code, err := shaders.LoadOrCompile(cfg.ShaderPath, shaders.Double)
	if err != nil {
		if cfg.ShaderPath != "" {
			err = errors.Mark(err, gpu.ErrIO)
		}
		return nil, errors.Wrap(err, "loading compute shader")
	}
	return code, nil
}

// Result is the outcome of a run.
type Result struct {
	Input  []int32
	Output []int32
}

type run struct {
	cfg Config
	ctx *gpu.Context
	log logrus.FieldLogger

	allocator *gpu.Allocator
	builder   *gpu.PipelineBuilder
	engine    *gpu.CommandEngine

	input  *gpu.Buffer
	output *gpu.Buffer

	pipeline    *gpu.ComputePipeline
	descriptors *gpu.DescriptorSet
	computeRun  *gpu.ComputeRun
}

// Run fills the input buffer with 0..ElementCount-1, dispatches code once and
// returns what the kernel wrote to the output buffer. Every object it creates
// is released before it returns. A kernel whose storage arrays do not match
// ElementCount is rejected before anything is created.
func Run(ctx *gpu.Context, code []uint32, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	size := uint64(cfg.ElementCount) * elementSize
	if err := shaders.CheckStorageRegion(code, size); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "checkComputeShader"), gpu.ErrDescriptorMismatch)
	}

	r := &run{
		cfg:       cfg,
		ctx:       ctx,
		log:       ctx.Log.WithField("component", "compute"),
		allocator: gpu.NewAllocator(ctx),
		builder:   gpu.NewPipelineBuilder(ctx),
	}
	defer r.close()

	if err := r.init(code); err != nil {
		return nil, err
	}
	return r.execute()
}

func (r *run) size() uint64 {
	return uint64(r.cfg.ElementCount) * elementSize
}

func (r *run) init(code []uint32) error {
	var err error

	r.engine, err = gpu.NewCommandEngine(r.ctx, r.cfg.FenceTimeout)
	if err != nil {
		return errors.Wrap(err, "createCommandEngine")
	}

	r.input, err = r.allocator.NewBuffer(r.size(), gpu.BufferUsageStorage)
	if err != nil {
		return errors.Wrap(err, "createInputBuffer")
	}
	r.output, err = r.allocator.NewBuffer(r.size(), gpu.BufferUsageStorage)
	if err != nil {
		return errors.Wrap(err, "createOutputBuffer")
	}

	r.pipeline, err = r.builder.BuildCompute(code)
	if err != nil {
		return errors.Wrap(err, "createComputePipeline")
	}

	r.descriptors, err = r.builder.CreateDescriptorSet(
		r.pipeline,
		[]*gpu.Buffer{r.input, r.output},
		r.size(),
	)
	if err != nil {
		return errors.Wrap(err, "createDescriptorSet")
	}

	r.computeRun, err = r.engine.NewComputeRun()
	if err != nil {
		return errors.Wrap(err, "createComputeRun")
	}
	return nil
}

func (r *run) execute() (*Result, error) {
	input := make([]int32, r.cfg.ElementCount)
	for i := range input {
		input[i] = int32(i)
	}

	if err := r.allocator.Write(r.input, unsafer.SliceToBytes(input)); err != nil {
		return nil, errors.Wrap(err, "writing input buffer")
	}

	start := time.Now()
	err := r.engine.RunCompute(r.computeRun, r.pipeline, r.descriptors, uint32(r.cfg.ElementCount))
	if err != nil {
		return nil, errors.Wrap(err, "runCompute")
	}

	data, err := r.allocator.Read(r.output)
	if err != nil {
		return nil, errors.Wrap(err, "reading output buffer")
	}

	r.log.WithFields(logrus.Fields{
		"elements": r.cfg.ElementCount,
		"elapsed":  time.Since(start),
	}).Debug("dispatch completed")

	return &Result{
		Input:  input,
		Output: unsafer.BytesToSlice[int32](data),
	}, nil
}

// close releases everything in reverse creation order. It waits for the
// device first since a failed wait may leave the dispatch running.
func (r *run) close() {
	if err := r.ctx.Device.WaitIdle(); err != nil {
		r.log.WithError(err).Warn("waiting for device idle before cleanup")
	}

	if r.engine != nil {
		r.engine.DestroyComputeRun(r.computeRun)
		r.computeRun = nil
	}
	r.builder.DestroyDescriptorSet(r.descriptors)
	r.descriptors = nil
	r.builder.DestroyCompute(r.pipeline)
	r.pipeline = nil

	r.allocator.Destroy(r.output)
	r.output = nil
	r.allocator.Destroy(r.input)
	r.input = nil

	if r.engine != nil {
		r.engine.Destroy()
		r.engine = nil
	}
}
