//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Demo runs cmd/demo, the GLFW-backed illustration of driving the
// renderer to a cleared swapchain.
func (Run) Demo() error {
	fmt.Println("Run demo...")
	_, err := executeCmd("go", withArgs("run", "./cmd/demo"), withStream())
	return err
}

// Tests runs the module's test suite.
func (Run) Tests() error {
	fmt.Println("Run tests...")
	_, err := executeCmd("go", withArgs("test", "./..."), withStream())
	return err
}
