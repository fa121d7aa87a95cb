package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsOnOmittedFields(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "settings.toml")
	if err := os.WriteFile(p, []byte(`app_name = "demo"`), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if s.AppName != "demo" {
		t.Fatalf("app name = %q", s.AppName)
	}
	if s.MaxFramesInFlight != 3 {
		t.Fatalf("max frames in flight = %d, want default 3", s.MaxFramesInFlight)
	}
}

func TestValidationAppendsLayerAndExtension(t *testing.T) {
	s := Default()
	s.EnableValidation = true
	layers := s.ValidationLayers()
	if len(layers) != 1 || layers[0] != validationLayerName {
		t.Fatalf("layers = %v", layers)
	}
	exts := s.InstanceExtensions()
	found := false
	for _, e := range exts {
		if e == debugUtilsExtensionName {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected debug utils extension in %v", exts)
	}
}

func TestValidationOffOmitsExtras(t *testing.T) {
	s := Default()
	if len(s.ValidationLayers()) != 0 {
		t.Fatalf("expected no layers when validation disabled")
	}
}
