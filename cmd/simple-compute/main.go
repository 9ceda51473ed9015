// Command simple-compute doubles an array of integers on the first Vulkan
// device and prints the input and the output.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"vulkan-compute-studio/compute"
	"vulkan-compute-studio/gpu"
	"vulkan-compute-studio/vkdriver"
)

func init() {
	defaults := compute.DefaultConfig()

	flag.BoolVar(&args.debug, "debug", false, "Enable Vulkan validation layers and debug logging")
	flag.StringVar(&args.shader, "shader", "", "Path to the compute shader SPIR-V blob (default: embedded doubling kernel)")
	flag.IntVar(&args.elements, "elements", defaults.ElementCount, "Number of int32 elements to process")
	flag.DurationVar(&args.fenceTimeout, "fence-timeout", defaults.FenceTimeout, "Maximum time to wait for the dispatch")
}

var args struct {
	debug        bool
	shader       string
	elements     int
	fenceTimeout time.Duration
}

func main() {
	flag.Parse()

	if args.debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	cfg := compute.Config{
		ElementCount: args.elements,
		FenceTimeout: args.fenceTimeout,
		ShaderPath:   args.shader,
	}

	res, err := run(cfg)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"shader": cfg.ShaderPath,
			"error":  err,
		}).Error("Compute run failed")
		os.Exit(1)
	}

	fmt.Println("input: ", res.Input)
	fmt.Println("output:", res.Output)
}

func run(cfg compute.Config) (*compute.Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	code, err := compute.LoadProgram(cfg)
	if err != nil {
		return nil, err
	}

	inst, err := vkdriver.NewInstance(vkdriver.Config{
		AppName:    "Simple Compute",
		Validation: args.debug,
	})
	if err != nil {
		return nil, errors.Wrap(err, "createInstance")
	}
	defer inst.Destroy()

	ctx, err := gpu.Negotiate(inst, gpu.Requirements{}, logrus.StandardLogger())
	if err != nil {
		return nil, errors.Wrap(err, "pickPhysicalDevice")
	}
	defer ctx.Destroy()

	return compute.Run(ctx, code, cfg)
}
