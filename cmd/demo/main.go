// Command demo is a minimal GLFW-backed host for the gpu package: it
// owns the window and its Vulkan surface and drives the renderer's
// frame loop, the native-surface glue cmd/demo exists for (SPEC_FULL.md
// §13). It is illustrative, not a game — there is nothing here beyond
// what's needed to get a cleared swapchain on screen.
package main

import (
	"errors"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/skforge/skrender/config"
	"github.com/skforge/skrender/gpu"
	"github.com/skforge/skrender/internal/core"
)

func init() {
	// GLFW must be driven from the main OS thread.
	runtime.LockOSThread()
}

const (
	windowWidth  = 1280
	windowHeight = 720
)

func main() {
	if err := run(); err != nil {
		core.LogFatal("%v", err)
		os.Exit(1)
	}
}

func run() error {
	if err := glfw.Init(); err != nil {
		return err
	}
	defer glfw.Terminate()

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	glfw.WindowHint(glfw.Resizable, glfw.True)

	window, err := glfw.CreateWindow(windowWidth, windowHeight, "skrender demo", nil, nil)
	if err != nil {
		return err
	}
	defer window.Destroy()

	settings := config.Default()
	settings.RequiredExtensions = window.GetRequiredInstanceExtensions()

	ctx, err := gpu.Init(settings, settings.AppName)
	if err != nil {
		return err
	}
	defer ctx.Shutdown()

	nativeSurface, err := window.CreateWindowSurface(ctx.Instance, nil)
	if err != nil {
		return err
	}

	surface, err := gpu.CreateSurface(ctx, vk.SurfaceFromPointer(nativeSurface), windowWidth, windowHeight)
	if err != nil {
		return err
	}
	defer surface.Destroy()

	bindPool := gpu.NewBindPool(4096)
	destroyList := gpu.NewDestroyList(bindPool)
	threads := gpu.NewThreadTable(ctx, bindPool)
	thread, err := threads.ThreadInit()
	if err != nil {
		return err
	}
	defer threads.ThreadShutdown(thread)

	cache := gpu.NewPipelineCache(ctx, destroyList)

	renderer, err := gpu.NewRenderer(ctx, threads, thread, cache, bindPool, destroyList)
	if err != nil {
		return err
	}
	defer renderer.Destroy()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	quit := false
	go func() {
		<-sigCh
		quit = true
	}()

	for !window.ShouldClose() && !quit {
		glfw.PollEvents()

		color, err := surface.NextTex(^uint64(0))
		if err != nil {
			if w, h := window.GetFramebufferSize(); w > 0 && h > 0 {
				if resizeErr := surface.Resize(uint32(w), uint32(h)); resizeErr != nil {
					core.LogError("surface resize failed: %v", resizeErr)
				}
			}
			continue
		}

		if err := renderer.FrameBegin(); err != nil {
			return err
		}

		clearColor := [4]float32{0.02, 0.02, 0.05, 1.0}
		if err := renderer.BeginPass(color, nil, nil, true, false, clearColor, 1.0, 0); err != nil {
			return err
		}
		if err := renderer.EndPass(); err != nil {
			return err
		}

		if err := renderer.FrameEnd([]*gpu.Surface{surface}); err != nil {
			return err
		}

		if _, err := surface.Present(ctx.PresentQueue); err != nil {
			if !errors.Is(err, core.ErrNeedsResize) {
				return err
			}
			if w, h := window.GetFramebufferSize(); w > 0 && h > 0 {
				if resizeErr := surface.Resize(uint32(w), uint32(h)); resizeErr != nil {
					core.LogError("surface resize failed: %v", resizeErr)
				}
			}
		}
	}

	return nil
}
