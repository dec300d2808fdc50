// Package main provides build targets for dastyar using Mage.
//
// Usage:
//
//	mage build             Compile the dastyar binary to bin/
//	mage test:all          Run all tests
//	mage test:unit         Run unit tests (exclude test/integration)
//	mage test:integration  Run the end-to-end tests
//	mage lint              Run golangci-lint
//	mage check             Validate the shipped definitions
//	mage clean             Remove build artifacts
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binGo      = "go"
	binLint    = "golangci-lint"
	binaryName = "dastyar"
	binaryDir  = "bin"
	cmdDir     = "./cmd/dastyar"
	modulePath = "github.com/pitabwire/dastyar"
)

// Build compiles the dastyar binary to bin/ with the version and commit
// stamped in.
func Build() error {
	if err := os.MkdirAll(binaryDir, 0o755); err != nil {
		return err
	}
	version, err := sh.Output("git", "describe", "--tags", "--always", "--dirty")
	if err != nil {
		version = "dev"
	}
	commit, err := sh.Output("git", "rev-parse", "--short", "HEAD")
	if err != nil {
		commit = "none"
	}
	ldflags := fmt.Sprintf("-s -w -X main.version=%s -X main.commit=%s", version, commit)
	return sh.RunV(binGo, "build", "-v", "-ldflags", ldflags, "-o", filepath.Join(binaryDir, binaryName), cmdDir)
}

// Test groups test targets (all, unit, integration).
type Test mg.Namespace

// All runs every test with the race detector.
func (Test) All() error {
	return sh.RunV(binGo, "test", "-race", "./...")
}

// Unit runs the tests of every package outside test/integration.
func (Test) Unit() error {
	pkgs, err := sh.Output(binGo, "list", "./...")
	if err != nil {
		return err
	}
	var unitPkgs []string
	for pkg := range strings.SplitSeq(pkgs, "\n") {
		if pkg != "" && !strings.HasPrefix(pkg, modulePath+"/test/") {
			unitPkgs = append(unitPkgs, pkg)
		}
	}
	args := append([]string{"test", "-race"}, unitPkgs...)
	return sh.RunV(binGo, args...)
}

// Integration runs the end-to-end tests.
func (Test) Integration() error {
	return sh.RunV(binGo, "test", "-race", "-count=1", "./test/integration/...")
}

// Lint runs golangci-lint.
func Lint() error {
	return sh.RunV(binLint, "run", "./...")
}

// Check builds the binary and validates the shipped definitions and role
// policy against the example configuration.
func Check() error {
	mg.Deps(Build)
	return sh.RunV(filepath.Join(binaryDir, binaryName), "check", "--config", "config.example.yaml")
}

// Clean removes build artifacts.
func Clean() error {
	if err := os.RemoveAll(binaryDir); err != nil {
		return err
	}
	return sh.RunV(binGo, "clean")
}
