// Package gpu is the Vulkan renderer core: the command-submission
// substrate, pipeline/render-pass cache, image-layout tracker, frame
// pipeline, and the texture/buffer/material/mesh/render-list resource
// types built on top of them (spec §4.B-§4.M). It is built directly on
// github.com/goki/vulkan, the same binding the teacher uses.
package gpu

import (
	"fmt"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/skforge/skrender/config"
	"github.com/skforge/skrender/internal/core"
)

// Context is the process-wide Vulkan handle set every component in this
// package is built against. It is created once by Init and passed
// explicitly (or reached through the Renderer facade that owns one) —
// never an implicit package-level singleton (§9 design note on the
// source's `_skr_vk` global).
type Context struct {
	Instance       vk.Instance
	Allocator      *vk.AllocationCallbacks
	PhysicalDevice vk.PhysicalDevice
	Device         vk.Device

	GraphicsQueue      vk.Queue
	PresentQueue       vk.Queue
	GraphicsQueueIndex uint32
	PresentQueueIndex  uint32

	// graphicsQueueMu serialises vkQueueSubmit and vkQueuePresentKHR (§5).
	graphicsQueueMu sync.Mutex

	Properties vk.PhysicalDeviceProperties
	Memory     vk.PhysicalDeviceMemoryProperties

	DepthFormat vk.Format

	// PushDescriptorsAvailable is true when VK_KHR_push_descriptor was
	// enabled; the command substrate uses it to skip transient
	// descriptor-pool allocation (§4.C).
	PushDescriptorsAvailable bool

	MaxFramesInFlight uint32

	// FlightIndex is frame_number mod MaxFramesInFlight (Glossary).
	FlightIndex uint32

	debugMessenger vk.DebugReportCallback
}

// Init creates the Vulkan instance, selects a physical device, and
// creates the logical device per Settings (§6). Physical-device
// selection and extension negotiation follow the teacher's device.go
// shape (graphics/present queue family scan, depth-format probe,
// extension enumeration), adapted to this package's single-graphics-
// queue scope (§1 Non-goals: "no multi-queue scheduling beyond one
// graphics queue") so there is no separate transfer/compute queue
// search.
//
// Init runs before any Surface exists (cmd/demo creates the native
// surface only after Init returns), so present-queue selection cannot
// probe vkGetPhysicalDeviceSurfaceSupportKHR against a real surface.
// Following the common desktop-driver assumption the teacher's own
// queue-scoring loop relies on (a queue family exposing
// VK_QUEUE_GRAPHICS_BIT also supports presentation), the graphics
// queue family is reused as the present queue family; CreateSurface
// re-verifies this against the real surface and logs a critical if it
// does not hold, since recovering would require recreating the device.
func Init(settings *config.Settings, appName string) (*Context, error) {
	if settings == nil {
		settings = config.Default()
	}
	if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
		return nil, fmt.Errorf("vulkan loader: %w", err)
	}
	if err := vk.Init(); err != nil {
		return nil, fmt.Errorf("vulkan init: %w", err)
	}

	appInfo := vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		PApplicationName:   appName,
		ApplicationVersion: vk.MakeVersion(settings.AppVersionMajor, settings.AppVersionMinor, settings.AppVersionPatch),
		PEngineName:        "skrender",
		EngineVersion:      vk.MakeVersion(1, 0, 0),
		ApiVersion:         vk.ApiVersion11,
	}

	layers := settings.ValidationLayers()
	extensions := settings.InstanceExtensions()

	instanceInfo := vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        &appInfo,
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     layers,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
	}

	var instance vk.Instance
	if res := vk.CreateInstance(&instanceInfo, nil, &instance); res != vk.Success {
		err := fmt.Errorf("vkCreateInstance failed: %s", vk.Error(res))
		core.LogError(err.Error())
		return nil, err
	}
	vk.InitInstance(instance)

	ctx := &Context{
		Instance:          instance,
		MaxFramesInFlight: uint32(settings.MaxFramesInFlight),
	}

	if settings.EnableValidation {
		if err := ctx.createDebugMessenger(); err != nil {
			core.LogWarn("debug messenger unavailable: %v", err)
		}
	}

	if err := ctx.pickPhysicalDevice(); err != nil {
		vk.DestroyInstance(instance, nil)
		return nil, err
	}
	if err := ctx.createLogicalDevice(); err != nil {
		vk.DestroyInstance(instance, nil)
		return nil, err
	}
	if err := ctx.detectDepthFormat(); err != nil {
		core.LogWarn("%v", err)
	}

	return ctx, nil
}

// createDebugMessenger installs a VK_EXT_debug_utils report callback that
// routes validation-layer messages through the package logger. Mirrors
// the teacher's debug-messenger wiring in spirit; failure is non-fatal
// since validation is an opt-in diagnostic aid (§6 Settings).
func (c *Context) createDebugMessenger() error {
	createInfo := vk.DebugReportCallbackCreateInfo{
		SType: vk.StructureTypeDebugReportCallbackCreateInfo,
		Flags: vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
		PfnCallback: func(flags vk.DebugReportFlags, objType vk.DebugReportObjectType, obj uint64, location uint64, msgCode int32, pLayerPrefix string, pMsg string, pUserData unsafe.Pointer) vk.Bool32 {
			switch {
			case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
				core.LogError("validation [%s]: %s", pLayerPrefix, pMsg)
			case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
				core.LogWarn("validation [%s]: %s", pLayerPrefix, pMsg)
			default:
				core.LogDebug("validation [%s]: %s", pLayerPrefix, pMsg)
			}
			return vk.Bool32(vk.False)
		},
	}
	var messenger vk.DebugReportCallback
	if res := vk.CreateDebugReportCallback(c.Instance, &createInfo, c.Allocator, &messenger); res != vk.Success {
		return fmt.Errorf("vkCreateDebugReportCallbackEXT failed: %s", vk.Error(res))
	}
	c.debugMessenger = messenger
	return nil
}

// physicalDeviceGraphicsFamily scores one physical device's queue
// families for a graphics-capable queue, per the teacher's
// PhysicalDeviceMeetsRequirements queue scan (§4.C: one graphics queue,
// no multi-queue scheduling).
func physicalDeviceGraphicsFamily(device vk.PhysicalDevice) (uint32, bool) {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &count, nil)
	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &count, families)
	for i := uint32(0); i < count; i++ {
		families[i].Deref()
		if vk.QueueFlagBits(families[i].QueueFlags)&vk.QueueGraphicsBit != 0 {
			return i, true
		}
	}
	return 0, false
}

func deviceHasExtension(device vk.PhysicalDevice, name string) bool {
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, nil); res != vk.Success || count == 0 {
		return false
	}
	props := make([]vk.ExtensionProperties, count)
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, props); res != vk.Success {
		return false
	}
	for i := range props {
		props[i].Deref()
		if vkCString(props[i].ExtensionName[:]) == name {
			return true
		}
	}
	return false
}

func vkCString(b []byte) string {
	n := len(b)
	for i, c := range b {
		if c == 0 {
			n = i
			break
		}
	}
	return string(b[:n])
}

// pickPhysicalDevice walks vkEnumeratePhysicalDevices and selects the
// first device exposing a graphics queue family and VK_KHR_swapchain
// support, preferring a discrete GPU when one is present. Grounded on
// the teacher's SelectPhysicalDevice scan and logging shape.
func (c *Context) pickPhysicalDevice() error {
	var count uint32
	if res := vk.EnumeratePhysicalDevices(c.Instance, &count, nil); res != vk.Success {
		return fmt.Errorf("vkEnumeratePhysicalDevices failed: %s", vk.Error(res))
	}
	if count == 0 {
		return fmt.Errorf("no devices which support Vulkan were found")
	}
	devices := make([]vk.PhysicalDevice, count)
	if res := vk.EnumeratePhysicalDevices(c.Instance, &count, devices); res != vk.Success {
		return fmt.Errorf("vkEnumeratePhysicalDevices failed: %s", vk.Error(res))
	}

	var chosen vk.PhysicalDevice
	var chosenFamily uint32
	var chosenProps vk.PhysicalDeviceProperties
	foundDiscrete := false

	for _, device := range devices {
		if !deviceHasExtension(device, "VK_KHR_swapchain") {
			continue
		}
		family, ok := physicalDeviceGraphicsFamily(device)
		if !ok {
			continue
		}
		var props vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(device, &props)
		props.Deref()

		isDiscrete := props.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu
		if chosen == nil || (isDiscrete && !foundDiscrete) {
			chosen = device
			chosenFamily = family
			chosenProps = props
			foundDiscrete = foundDiscrete || isDiscrete
		}
	}

	if chosen == nil {
		return fmt.Errorf("no physical device meets requirements (graphics queue + VK_KHR_swapchain)")
	}

	var memory vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(chosen, &memory)
	memory.Deref()

	core.LogInfo("selected physical device %q", vkCString(chosenProps.DeviceName[:]))

	c.PhysicalDevice = chosen
	c.GraphicsQueueIndex = chosenFamily
	c.PresentQueueIndex = chosenFamily
	c.Properties = chosenProps
	c.Memory = memory
	c.PushDescriptorsAvailable = deviceHasExtension(chosen, "VK_KHR_push_descriptor")
	return nil
}

// createLogicalDevice creates the VkDevice and retrieves the graphics
// and present queues (identical, per Init's single-queue-family
// assumption). Grounded on the teacher's DeviceCreate queue-create-info
// construction, trimmed to one queue family.
func (c *Context) createLogicalDevice() error {
	queuePriority := float32(1.0)
	queueInfo := vk.DeviceQueueCreateInfo{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: c.GraphicsQueueIndex,
		QueueCount:       1,
		PQueuePriorities: []float32{queuePriority},
	}

	extensionNames := []string{"VK_KHR_swapchain"}
	if c.PushDescriptorsAvailable {
		extensionNames = append(extensionNames, "VK_KHR_push_descriptor")
	}

	features := vk.PhysicalDeviceFeatures{
		SamplerAnisotropy: vk.True,
	}

	deviceInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    1,
		PQueueCreateInfos:       []vk.DeviceQueueCreateInfo{queueInfo},
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{features},
		EnabledExtensionCount:   uint32(len(extensionNames)),
		PpEnabledExtensionNames: extensionNames,
	}

	var device vk.Device
	if res := vk.CreateDevice(c.PhysicalDevice, &deviceInfo, c.Allocator, &device); res != vk.Success {
		return fmt.Errorf("vkCreateDevice failed: %s", vk.Error(res))
	}
	c.Device = device
	vk.InitDevice(device)

	var graphicsQueue vk.Queue
	vk.GetDeviceQueue(device, c.GraphicsQueueIndex, 0, &graphicsQueue)
	c.GraphicsQueue = graphicsQueue
	c.PresentQueue = graphicsQueue

	core.LogInfo("logical device created (push descriptors: %t)", c.PushDescriptorsAvailable)
	return nil
}

// detectDepthFormat probes the first supported depth-stencil format
// among D32_SFLOAT, D32_SFLOAT_S8_UINT, D24_UNORM_S8_UINT, in that
// preference order. Grounded verbatim on the teacher's
// DeviceDetectDepthFormat candidate list and feature-flag probe.
func (c *Context) detectDepthFormat() error {
	candidates := []vk.Format{
		vk.FormatD32Sfloat,
		vk.FormatD32SfloatS8Uint,
		vk.FormatD24UnormS8Uint,
	}
	const want = vk.FormatFeatureFlagBits(vk.FormatFeatureDepthStencilAttachmentBit)
	for _, format := range candidates {
		var props vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(c.PhysicalDevice, format, &props)
		props.Deref()
		if vk.FormatFeatureFlagBits(props.LinearTilingFeatures)&want == want ||
			vk.FormatFeatureFlagBits(props.OptimalTilingFeatures)&want == want {
			c.DepthFormat = format
			return nil
		}
	}
	return fmt.Errorf("no supported depth-stencil format found")
}

// VerifyPresentSupport confirms the graphics queue family can present
// to surface, logging a critical if it cannot — the device was created
// before any surface existed (see Init), so this is a late sanity check
// rather than a selection input.
func (c *Context) VerifyPresentSupport(surface vk.Surface) {
	var supported vk.Bool32
	if res := vk.GetPhysicalDeviceSurfaceSupport(c.PhysicalDevice, c.GraphicsQueueIndex, surface, &supported); res != vk.Success {
		core.LogWarn("vkGetPhysicalDeviceSurfaceSupportKHR failed: %s", vk.Error(res))
		return
	}
	if supported == vk.False {
		core.LogCritical("graphics queue family %d does not support presenting to this surface", c.GraphicsQueueIndex)
	}
}

// FindMemoryIndex returns the index of a physical-device memory type
// satisfying typeFilter's bitmask and propertyFlags, or -1.
func (c *Context) FindMemoryIndex(typeFilter uint32, propertyFlags vk.MemoryPropertyFlagBits) int32 {
	for i := uint32(0); i < c.Memory.MemoryTypeCount; i++ {
		c.Memory.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && (vk.MemoryPropertyFlagBits(c.Memory.MemoryTypes[i].PropertyFlags)&propertyFlags) == propertyFlags {
			return int32(i)
		}
	}
	core.LogWarn("unable to find suitable memory type for filter %#x, flags %#x", typeFilter, propertyFlags)
	return -1
}

// SubmitLocked runs fn while holding the graphics-queue mutex, the
// serialisation point named in §5 for vkQueueSubmit/vkQueuePresentKHR.
func (c *Context) SubmitLocked(fn func() vk.Result) vk.Result {
	c.graphicsQueueMu.Lock()
	defer c.graphicsQueueMu.Unlock()
	return fn()
}

// Shutdown waits for the device to go idle and tears down the instance.
// Per §5, vkDeviceWaitIdle is the only unconditional suspension point at
// teardown.
func (c *Context) Shutdown() {
	if c.Device != nil {
		vk.DeviceWaitIdle(c.Device)
		vk.DestroyDevice(c.Device, c.Allocator)
	}
	if c.debugMessenger != nil {
		vk.DestroyDebugReportCallback(c.Instance, c.debugMessenger, c.Allocator)
	}
	if c.Instance != nil {
		vk.DestroyInstance(c.Instance, c.Allocator)
	}
}

// ResultIsSuccess mirrors the teacher's VulkanResultIsSuccess helper.
func ResultIsSuccess(result vk.Result) bool {
	return result == vk.Success
}
