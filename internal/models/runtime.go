// Package models holds the layout-detection model runtime shared by all translations.
package models

import (
	"errors"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"pdf-translate-api/internal/logger"
)

// ErrUnavailable is reported by a Runtime that holds no model.
var ErrUnavailable = errors.New("layout model unavailable")

// Config locates the model and the onnxruntime shared library.
type Config struct {
	ModelPath         string
	SharedLibraryPath string
}

// Runtime is a loaded layout model or the unavailable marker. It is built once
// at startup and only read afterwards, so it is safe for concurrent use.
type Runtime struct {
	path    string
	inputs  []ort.InputOutputInfo
	outputs []ort.InputOutputInfo
	session *ort.DynamicAdvancedSession
	reason  error
}

var (
	envOnce sync.Once
	envErr  error
)

func initEnvironment(libPath string) error {
	envOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}

// Unavailable returns the marker runtime used when no model could be loaded.
func Unavailable(reason error) *Runtime {
	if reason == nil {
		reason = ErrUnavailable
	}
	return &Runtime{reason: reason}
}

// LoadAvailable loads the model described by cfg. Callers fall back to
// Unavailable when it fails.
func LoadAvailable(cfg Config) (*Runtime, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("%w: no model path configured", ErrUnavailable)
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	modelPath, err := EnsureModelExtracted(cfg.ModelPath)
	if err != nil {
		return nil, err
	}

	if err := initEnvironment(cfg.SharedLibraryPath); err != nil {
		return nil, fmt.Errorf("failed to initialize onnxruntime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect model %s: %w", modelPath, err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("model %s declares no inputs or outputs", modelPath)
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, ioNames(inputs), ioNames(outputs), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create model session: %w", err)
	}

	logger.Info("layout model loaded",
		logger.String("path", modelPath),
		logger.String("input", inputs[0].Name),
		logger.String("inputShape", inputs[0].Dimensions.String()),
		logger.Int("outputs", len(outputs)))

	return &Runtime{
		path:    modelPath,
		inputs:  inputs,
		outputs: outputs,
		session: session,
	}, nil
}

func ioNames(infos []ort.InputOutputInfo) []string {
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names
}

// Available reports whether a model is loaded.
func (r *Runtime) Available() bool {
	return r != nil && r.session != nil
}

// Reason explains why the runtime is unavailable, or returns nil.
func (r *Runtime) Reason() error {
	if r == nil {
		return ErrUnavailable
	}
	return r.reason
}

// Path is the uncompressed model file, empty when unavailable.
func (r *Runtime) Path() string {
	if !r.Available() {
		return ""
	}
	return r.path
}

func (r *Runtime) InputNames() []string {
	if !r.Available() {
		return nil
	}
	return ioNames(r.inputs)
}

func (r *Runtime) OutputNames() []string {
	if !r.Available() {
		return nil
	}
	return ioNames(r.outputs)
}

// Session exposes the inference session to engines that run the model in-process.
func (r *Runtime) Session() *ort.DynamicAdvancedSession {
	if !r.Available() {
		return nil
	}
	return r.session
}

// Close releases the session. It is called once at shutdown.
func (r *Runtime) Close() error {
	if !r.Available() {
		return nil
	}
	return r.session.Destroy()
}
