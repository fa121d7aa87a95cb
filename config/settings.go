// Package config loads renderer-wide Settings (§6 of SPEC_FULL.md) from a
// TOML file, the same unmarshal-into-typed-struct idiom the teacher used
// for per-shader .shadercfg files.
package config

import (
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Settings are the recognised Init options (§6 External Interfaces).
type Settings struct {
	AppName            string   `toml:"app_name"`
	AppVersionMajor    uint32   `toml:"app_version_major"`
	AppVersionMinor    uint32   `toml:"app_version_minor"`
	AppVersionPatch    uint32   `toml:"app_version_patch"`
	EnableValidation   bool     `toml:"enable_validation"`
	RequiredExtensions []string `toml:"required_extensions"`
	MaxFramesInFlight  int      `toml:"max_frames_in_flight"`
}

const validationLayerName = "VK_LAYER_KHRONOS_validation"
const debugUtilsExtensionName = "VK_EXT_debug_utils"

// Default returns the engine's built-in defaults: validation off, triple
// buffering.
func Default() *Settings {
	return &Settings{
		AppName:           "skrender",
		AppVersionMajor:   1,
		MaxFramesInFlight: 3,
	}
}

// Load reads and unmarshals a TOML settings file, filling in defaults for
// anything the file omits.
func Load(path string) (*Settings, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s := Default()
	if err := toml.Unmarshal(b, s); err != nil {
		return nil, err
	}
	if s.MaxFramesInFlight <= 0 {
		s.MaxFramesInFlight = 3
	}
	return s, nil
}

// ValidationLayers returns the Vulkan instance layers this renderer needs,
// appending the validation layer when EnableValidation is set.
func (s *Settings) ValidationLayers() []string {
	if !s.EnableValidation {
		return nil
	}
	return []string{validationLayerName}
}

// InstanceExtensions returns RequiredExtensions plus the debug-utils
// extension when validation is enabled.
func (s *Settings) InstanceExtensions() []string {
	exts := append([]string{}, s.RequiredExtensions...)
	if s.EnableValidation {
		exts = append(exts, debugUtilsExtensionName)
	}
	return exts
}
