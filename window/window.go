// Package window wraps a GLFW window which Vulkan can present to.
package window

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/vulkan-go/vulkan"

	"vulkan-compute-studio/vkdriver"
)

// Config describes the window to open.
type Config struct {
	Title     string
	Width     int
	Height    int
	Resizable bool
}

// Window is a GLFW window without a client API.
type Window struct {
	window *glfw.Window

	frameBufferResized bool
}

var _ vkdriver.Surface = (*Window)(nil)

// Open initialises GLFW and creates the window. It must be called from the
// main thread.
func Open(cfg Config) (*Window, error) {
	if err := glfw.Init(); err != nil {
		return nil, errors.Wrap(err, "glfw.Init")
	}

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	resizable := glfw.False
	if cfg.Resizable {
		resizable = glfw.True
	}
	glfw.WindowHint(glfw.Resizable, resizable)

	window, err := glfw.CreateWindow(cfg.Width, cfg.Height, cfg.Title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, errors.Wrap(err, "creating window")
	}

	w := &Window{window: window}
	window.SetFramebufferSizeCallback(w.frameBufferResizeCallback)
	return w, nil
}

func (w *Window) frameBufferResizeCallback(_ *glfw.Window, _, _ int) {
	w.frameBufferResized = true
}

// InstanceProcAddr returns the Vulkan loader entry point found by GLFW.
func (w *Window) InstanceProcAddr() unsafe.Pointer {
	return glfw.GetVulkanGetInstanceProcAddress()
}

func (w *Window) RequiredInstanceExtensions() []string {
	return w.window.GetRequiredInstanceExtensions()
}

func (w *Window) CreateSurface(instance vk.Instance) (vk.Surface, error) {
	surfacePtr, err := w.window.CreateWindowSurface(instance, nil)
	if err != nil {
		return vk.NullSurface, errors.Wrap(err, "cannot create surface within GLFW window")
	}
	return vk.SurfaceFromPointer(surfacePtr), nil
}

func (w *Window) FramebufferSize() (width, height int) {
	return w.window.GetFramebufferSize()
}

// TakeResized reports whether the framebuffer changed size since the last
// call.
func (w *Window) TakeResized() bool {
	resized := w.frameBufferResized
	w.frameBufferResized = false
	return resized
}

// WaitForSize blocks while the window is minimised.
func (w *Window) WaitForSize() {
	for {
		width, height := w.window.GetFramebufferSize()
		if width != 0 || height != 0 {
			return
		}
		glfw.WaitEvents()
	}
}

func (w *Window) PollEvents() {
	glfw.PollEvents()
}

func (w *Window) ShouldClose() bool {
	return w.window.ShouldClose()
}

// Close destroys the window and terminates GLFW.
func (w *Window) Close() {
	w.window.Destroy()
	glfw.Terminate()
}
