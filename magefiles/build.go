//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// Demo builds the cmd/demo binary. This project never compiles shaders
// itself (§1 Non-goals: "we consume [SPIR-V], we do not produce it") —
// SKSHADER blobs are produced by an external toolchain and only loaded at
// runtime by shaderfile.Load, unlike the teacher's `mage build:shaders`
// which shelled out to glslc.
func (Build) Demo() error {
	fmt.Println("Build demo...")
	_, err := executeCmd("go", withArgs("build", "-o", "bin/skrender-demo", "./cmd/demo"), withStream())
	return err
}

// Vet runs go vet across the module.
func (Build) Vet() error {
	_, err := executeCmd("go", withArgs("vet", "./..."), withStream())
	return err
}
