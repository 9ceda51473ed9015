package main

import (
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"vulkan-compute-studio/gpu"
	"vulkan-compute-studio/studio"
	"vulkan-compute-studio/vkdriver"
	"vulkan-compute-studio/window"
)

func init() {
	// This is needed to arrange that main() runs on main thread.
	// See documentation for functions that are only allowed to be called
	// from the main thread.
	runtime.LockOSThread()

	defaults := studio.DefaultConfig()

	flag.BoolVar(&args.debug, "debug", false, "Enable Vulkan validation layers and debug logging")
	flag.BoolVar(&args.feedback, "feedback", defaults.Feedback, "Feed the compute output back into the vertex buffer every tick")
	flag.StringVar(&args.computeShader, "compute-shader", "", "Path to the compute shader SPIR-V blob")
	flag.StringVar(&args.vertexShader, "vertex-shader", "", "Path to the vertex shader SPIR-V blob")
	flag.StringVar(&args.fragmentShader, "fragment-shader", "", "Path to the fragment shader SPIR-V blob")
	flag.DurationVar(&args.fenceTimeout, "fence-timeout", defaults.FenceTimeout, "Maximum time to wait for a fence")
	flag.IntVar(&args.frames, "frames", defaults.FramesInFlight, "Number of frames in flight")
	flag.IntVar(&args.width, "width", 800, "Window width")
	flag.IntVar(&args.height, "height", 600, "Window height")
	flag.BoolVar(&args.resizable, "resizable", false, "Allow resizing the window")
}

var args struct {
	debug          bool
	feedback       bool
	computeShader  string
	vertexShader   string
	fragmentShader string
	fenceTimeout   time.Duration
	frames         int
	width          int
	height         int
	resizable      bool
}

func main() {
	flag.Parse()

	if args.debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	cfg := studio.DefaultConfig()
	cfg.Feedback = args.feedback
	cfg.ComputeShader = args.computeShader
	cfg.VertexShader = args.vertexShader
	cfg.FragmentShader = args.fragmentShader
	cfg.FenceTimeout = args.fenceTimeout
	cfg.FramesInFlight = args.frames

	app := &StudioApp{
		width:      args.width,
		height:     args.height,
		resizable:  args.resizable,
		validation: args.debug,
		config:     cfg,
		log:        logrus.StandardLogger(),
	}
	if err := app.Run(); err != nil {
		logrus.WithFields(logrus.Fields{
			"error": err,
		}).Error("Studio failed")
		os.Exit(1)
	}
}

// StudioApp runs the compute studio in a window until it is closed.
type StudioApp struct {
	width      int
	height     int
	resizable  bool
	validation bool

	config studio.Config
	log    logrus.FieldLogger

	window   *window.Window
	instance *vkdriver.Instance
	ctx      *gpu.Context
	sim      *studio.Simulation
}

// Run runs the studio program.
func (a *StudioApp) Run() error {
	if err := a.config.Validate(); err != nil {
		return errors.Wrap(err, "config")
	}

	programs, err := studio.LoadPrograms(a.config)
	if err != nil {
		return errors.Wrap(err, "loadShaders")
	}

	if err := a.initWindow(); err != nil {
		return errors.Wrap(err, "initWindow")
	}
	defer a.cleanWindow()

	if err := a.initVulkan(programs); err != nil {
		return errors.Wrap(err, "initVulkan")
	}
	defer a.cleanVulkan()

	if err := a.mainLoop(); err != nil {
		return errors.Wrap(err, "mainLoop")
	}
	return nil
}

func (a *StudioApp) initWindow() error {
	w, err := window.Open(window.Config{
		Title:     "Vulkan Compute Studio",
		Width:     a.width,
		Height:    a.height,
		Resizable: a.resizable,
	})
	if err != nil {
		return err
	}
	a.window = w
	return nil
}

func (a *StudioApp) cleanWindow() {
	a.window.Close()
}

func (a *StudioApp) initVulkan(programs studio.Programs) error {
	var err error

	a.instance, err = vkdriver.NewInstance(vkdriver.Config{
		AppName:    "Vulkan Compute Studio",
		Validation: a.validation,
		Surface:    a.window,
		Log:        a.log,
	})
	if err != nil {
		return errors.Wrap(err, "createInstance")
	}

	a.ctx, err = gpu.Negotiate(a.instance, gpu.Requirements{
		Present:    true,
		Extensions: []string{vkdriver.SwapchainExtension},
	}, a.log)
	if err != nil {
		return errors.Wrap(err, "pickPhysicalDevice")
	}

	a.sim, err = studio.New(a.ctx, a.window, programs, a.config)
	if err != nil {
		return errors.Wrap(err, "createSimulation")
	}
	return nil
}

// cleanVulkan releases whatever initVulkan managed to create.
func (a *StudioApp) cleanVulkan() {
	if a.sim != nil {
		a.sim.Close()
	}
	if a.ctx != nil {
		a.ctx.Destroy()
	}
	if a.instance != nil {
		a.instance.Destroy()
	}
}

func (a *StudioApp) mainLoop() error {
	start := time.Now()

	for !a.window.ShouldClose() {
		a.window.PollEvents()
		if err := a.sim.Tick(); err != nil {
			return errors.Wrapf(err, "tick %d", a.sim.Ticks())
		}
	}

	a.log.WithFields(logrus.Fields{
		"ticks":   a.sim.Ticks(),
		"elapsed": time.Since(start).Round(time.Millisecond),
	}).Info("window closed")
	return nil
}
