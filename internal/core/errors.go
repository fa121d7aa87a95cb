package core

import "errors"

var (
	// Command substrate (§4.C)
	ErrThreadTableFull    = errors.New("thread table full")
	ErrThreadNotInited    = errors.New("thread_init was never called on this thread")
	ErrRefCountImbalance  = errors.New("command batch ref count imbalance")
	ErrRingExhausted      = errors.New("command ring exhausted: no free or retirable slot")
	ErrFutureInvalidated  = errors.New("future's slot generation no longer matches: slot was reused")
	ErrNotRecording       = errors.New("no command batch is open on this thread")
	ErrForeignCommandFree = errors.New("released a command buffer not owned by the calling thread")

	// Device / surface (§4.L)
	ErrDeviceLost  = errors.New("vulkan device lost")
	ErrSurfaceLost = errors.New("surface lost")
	ErrNeedsResize = errors.New("surface out of date, needs resize")

	// Shader metadata (§4.A)
	ErrBadShaderFormat   = errors.New("bad shader file format")
	ErrOldShaderVersion  = errors.New("shader file version is older than supported")
	ErrCorruptShaderData = errors.New("corrupt shader file data")
	ErrShaderOOM         = errors.New("out of memory while loading shader file")

	// Bind pool (§4.D)
	ErrBindPoolExhausted = errors.New("bind pool exhausted")

	// Pipeline cache (§4.K)
	ErrPipelineCompile = errors.New("pipeline compilation failed")

	// Memory allocation (§4.E, §4.F, §4.G)
	ErrNoSuitableMemory = errors.New("no physical device memory type satisfies the requested properties")

	// Misc
	ErrUnknown = errors.New("unknown error")
)
