// Package cmd contains testing utilities shared between integration tests.
// This file provides common functions for setting up test environments,
// capturing output, and verifying the expected data layout.
package cmd

import (
	"bytes"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	logger "github.com/wogdump/wogdump/internal/logging"
)

// setupTestEnvironment points the CLI at a fresh base directory under
// tempDir and restores all global state when the test finishes.
func setupTestEnvironment(t *testing.T, tempDir string) {
	t.Helper()

	ResetGlobalState()
	baseDir = filepath.Join(tempDir, "wog-data")
	Logger = logger.Logger{}

	t.Cleanup(func() {
		ResetGlobalState()
	})
}

// captureOutput captures both stdout and stderr during function execution.
func captureOutput(fn func() error) (string, error) {
	// Save original stdout and stderr
	originalStdout := os.Stdout
	originalStderr := os.Stderr

	// Create pipes to capture output
	stdoutReader, stdoutWriter, _ := os.Pipe()
	stderrReader, stderrWriter, _ := os.Pipe()

	// Replace stdout and stderr
	os.Stdout = stdoutWriter
	os.Stderr = stderrWriter

	// Channel to collect output
	outputChan := make(chan string, 2)

	// Start goroutines to read from pipes
	go func() {
		var buf bytes.Buffer
		_, err := io.Copy(&buf, stdoutReader)
		if err != nil {
			log.Fatalf("Failed to run copy command: %s", err)
		}
		outputChan <- buf.String()
	}()

	go func() {
		var buf bytes.Buffer
		_, err := io.Copy(&buf, stderrReader)
		if err != nil {
			log.Fatalf("Failed to run copy command: %s", err)
		}
		outputChan <- buf.String()
	}()

	// Execute the function
	err := fn()

	// Close writers to signal EOF
	stdoutWriter.Close()
	stderrWriter.Close()

	// Restore original stdout and stderr
	os.Stdout = originalStdout
	os.Stderr = originalStderr

	// Collect output
	stdout := <-outputChan
	stderr := <-outputChan

	return stdout + stderr, err
}

// runCommand executes the root command with the given args and returns
// the combined stdout and stderr output.
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	RootCmd.SetArgs(args)
	return captureOutput(func() error {
		return RootCmd.Execute()
	})
}

// verifyDataLayout verifies that the expected data directories were created.
func verifyDataLayout(t *testing.T, base string) {
	t.Helper()

	for _, dir := range []string{"assets", "decrypted", "runtime"} {
		path := filepath.Join(base, dir)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			t.Errorf("%s directory was not created", path)
		}
	}

	configFile := filepath.Join(base, "wogdump.toml")
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		t.Errorf("Config file was not created at %s", configFile)
	}
}
