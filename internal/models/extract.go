package models

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	// ModelFileName is the default layout model file name.
	ModelFileName = "doclayout_yolo.onnx"
	// CompressedSuffix marks a gzip-compressed model on disk.
	CompressedSuffix = ".gz"
)

// EnsureModelExtracted returns a path to an uncompressed model. A path ending
// in .gz is decompressed next to itself once; later calls reuse the result.
func EnsureModelExtracted(path string) (string, error) {
	if !strings.HasSuffix(path, CompressedSuffix) {
		return path, nil
	}
	modelPath := strings.TrimSuffix(path, CompressedSuffix)

	if info, err := os.Stat(modelPath); err == nil && info.Size() > 0 {
		return modelPath, nil
	}

	compressed, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open compressed model: %w", err)
	}
	defer compressed.Close()

	gzReader, err := gzip.NewReader(compressed)
	if err != nil {
		return "", fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzReader.Close()

	// A partially written model is never visible at modelPath.
	tmp, err := os.CreateTemp(filepath.Dir(modelPath), filepath.Base(modelPath)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create model file: %w", err)
	}
	if _, err := io.Copy(tmp, gzReader); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to extract model: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to extract model: %w", err)
	}
	if err := os.Rename(tmp.Name(), modelPath); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to move extracted model: %w", err)
	}
	return modelPath, nil
}
