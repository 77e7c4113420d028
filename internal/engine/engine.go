// Package engine defines the translation engine contract and its implementations.
//
// An engine receives the raw bytes of one PDF plus a parameter bundle and
// returns the mono and dual artifacts together, or fails. Two engines exist:
// Pdf2zhEngine drives pdf2zh in a Python subprocess, NativeEngine extracts
// text in Go, translates it through an OpenAI-compatible chat model and
// rebuilds the PDFs with pdfcpu.
package engine

import (
	"context"
	"fmt"
	"strings"

	"pdf-translate-api/internal/config"
	"pdf-translate-api/internal/logger"
	"pdf-translate-api/internal/models"
	"pdf-translate-api/internal/python"
	"pdf-translate-api/internal/types"
	"pdf-translate-api/internal/validator"
)

// Engine performs one translation. Implementations must honor ctx
// cancellation and must return either a complete result or an error.
type Engine interface {
	Name() string
	Translate(ctx context.Context, pdf []byte, params Params) (*types.TranslationResult, error)
}

// Params is the validated parameter bundle handed to an engine.
type Params struct {
	LangIn         string
	LangOut        string
	Service        string // raw identifier; engines split it themselves
	ThreadCount    int
	ModelOverride  string
	PromptCallback string
	Model          *models.Runtime
}

// BuildParams assembles the bundle for req. It performs no validation.
// A nil model is replaced by the unavailable marker.
func BuildParams(req *types.TranslationRequest, model *models.Runtime) Params {
	if model == nil {
		model = models.Unavailable(nil)
	}
	return Params{
		LangIn:         req.LangIn,
		LangOut:        req.LangOut,
		Service:        req.Service,
		ThreadCount:    req.ThreadCount,
		ModelOverride:  req.ModelOverride,
		PromptCallback: req.PromptCallback,
		Model:          model,
	}
}

// ServiceIdentifier resolves the service with the model override applied.
// An explicit override replaces any model embedded in the identifier.
func (p Params) ServiceIdentifier() types.ServiceIdentifier {
	id := validator.ParseServiceIdentifier(p.Service)
	if p.ModelOverride != "" {
		id.Model = p.ModelOverride
	}
	return id
}

// Options carries the settings engines need from the service configuration.
type Options struct {
	WorkDir       string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	CachePath     string
	// FontFile is a TrueType font (.ttf or .ttc) installed into pdfcpu
	// before the native engine stamps text.
	FontFile string
	// FontName is the pdfcpu font used when stamping translated text.
	FontName string
}

// OptionsFromConfig maps the service configuration to engine options.
func OptionsFromConfig(cfg *types.Config, workDir string) Options {
	return Options{
		WorkDir:       workDir,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		OpenAIModel:   cfg.OpenAIModel,
		CachePath:     cfg.CachePath,
		FontFile:      cfg.FontFile,
		FontName:      cfg.FontName,
	}
}

// New builds the engine named by kind.
func New(kind string, opts Options, py *python.Env, log logger.Logger) (Engine, error) {
	switch kind {
	case config.EnginePdf2zh:
		return NewPdf2zhEngine(py, opts, log), nil
	case config.EngineNative:
		fontName, err := InstallFont(opts.FontFile, opts.FontName)
		if err != nil {
			return nil, err
		}
		opts.FontName = fontName
		if !HasUnicodeFont(opts.FontName) {
			log.Warn("no Unicode font configured, native engine limited to Latin targets",
				logger.String("languages", strings.Join(CoreFontLanguages(), ",")))
		}
		translator := NewEinoTranslator(opts)
		cache := NewTranslationCache(opts.CachePath)
		if err := cache.Load(); err != nil {
			log.Warn("translation cache not loaded, starting empty", logger.Err(err))
		}
		return NewNativeEngine(translator, cache, opts, log), nil
	default:
		return nil, fmt.Errorf("unknown engine %q", kind)
	}
}
