package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// libraryName is the onnxruntime shared library file name for this OS.
func libraryName() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}

func librarySearchDirs() []string {
	dirs := []string{"lib", "."}
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Join(filepath.Dir(exe), "lib"))
	}
	if runtime.GOOS != "windows" {
		dirs = append(dirs, "/usr/local/lib", "/usr/lib", "/opt/onnxruntime/lib")
	}
	return dirs
}

// resolveLibraryPath returns configured when set, otherwise the first known location
// that holds the library.
func resolveLibraryPath(configured string, dirs []string) (string, error) {
	if configured != "" {
		if _, err := os.Stat(configured); err != nil {
			return "", fmt.Errorf("onnxruntime library not found: %s", configured)
		}
		return configured, nil
	}

	name := libraryName()
	for _, dir := range dirs {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			abs, err := filepath.Abs(candidate)
			if err != nil {
				return candidate, nil
			}
			return abs, nil
		}
	}

	return "", fmt.Errorf("onnxruntime library %s not found; set ORT_LIBRARY_PATH", name)
}

// resolveModelPath validates the model file and makes its path absolute.
func resolveModelPath(modelPath string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(modelPath))
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for model: %w", err)
	}

	info, err := os.Stat(abs)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("model file not found: %s", abs)
	}
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("model path is a directory: %s", abs)
	}

	return abs, nil
}
