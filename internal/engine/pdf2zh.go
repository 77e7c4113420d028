package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"pdf-translate-api/internal/logger"
	"pdf-translate-api/internal/python"
	"pdf-translate-api/internal/types"
)

const (
	Pdf2zhEngineName     = "pdf2zh"
	pdf2zhBridgeFileName = "pdf2zh_bridge.py"
)

// Pdf2zhEngine runs pdf2zh in a Python subprocess, one process per request.
type Pdf2zhEngine struct {
	py   *python.Env
	opts Options
	log  logger.Logger

	scriptOnce sync.Once
	scriptPath string
	scriptErr  error
}

func NewPdf2zhEngine(py *python.Env, opts Options, log logger.Logger) *Pdf2zhEngine {
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	return &Pdf2zhEngine{py: py, opts: opts, log: log}
}

func (e *Pdf2zhEngine) Name() string { return Pdf2zhEngineName }

// bridgeParams is the JSON document read by the bridge script. LayoutModel is
// false for the unavailable marker, and the bridge then leaves model
// selection to pdf2zh.
type bridgeParams struct {
	LangIn      string `json:"lang_in"`
	LangOut     string `json:"lang_out"`
	Service     string `json:"service"`
	Thread      int    `json:"thread"`
	Prompt      string `json:"prompt,omitempty"`
	LayoutModel bool   `json:"layout_model"`
	ModelPath   string `json:"model_path,omitempty"`
}

func newBridgeParams(p Params) bridgeParams {
	return bridgeParams{
		LangIn:      p.LangIn,
		LangOut:     p.LangOut,
		Service:     p.ServiceIdentifier().String(),
		Thread:      p.ThreadCount,
		Prompt:      p.PromptCallback,
		LayoutModel: p.Model.Available(),
		ModelPath:   p.Model.Path(),
	}
}

func (e *Pdf2zhEngine) ensureScript() (string, error) {
	e.scriptOnce.Do(func() {
		if err := os.MkdirAll(e.opts.WorkDir, 0755); err != nil {
			e.scriptErr = fmt.Errorf("failed to create work dir: %w", err)
			return
		}
		path := filepath.Join(e.opts.WorkDir, pdf2zhBridgeFileName)
		if err := os.WriteFile(path, []byte(pdf2zhBridgeScript), 0644); err != nil {
			e.scriptErr = fmt.Errorf("failed to write bridge script: %w", err)
			return
		}
		e.scriptPath = path
	})
	return e.scriptPath, e.scriptErr
}

// openAIEnv forwards the configured OpenAI credentials to pdf2zh.
func (e *Pdf2zhEngine) openAIEnv() []string {
	var env []string
	if e.opts.OpenAIAPIKey != "" {
		env = append(env, "OPENAI_API_KEY="+e.opts.OpenAIAPIKey)
	}
	if e.opts.OpenAIBaseURL != "" {
		env = append(env, "OPENAI_BASE_URL="+e.opts.OpenAIBaseURL)
	}
	if e.opts.OpenAIModel != "" {
		env = append(env, "OPENAI_MODEL="+e.opts.OpenAIModel)
	}
	return env
}

func (e *Pdf2zhEngine) Translate(ctx context.Context, pdf []byte, params Params) (*types.TranslationResult, error) {
	script, err := e.ensureScript()
	if err != nil {
		return nil, err
	}

	jobDir, err := os.MkdirTemp(e.opts.WorkDir, "pdf2zh-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create job dir: %w", err)
	}
	defer os.RemoveAll(jobDir)

	inputPath := filepath.Join(jobDir, "input.pdf")
	if err := os.WriteFile(inputPath, pdf, 0644); err != nil {
		return nil, fmt.Errorf("failed to write input: %w", err)
	}

	bp := newBridgeParams(params)
	data, err := json.Marshal(bp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode parameters: %w", err)
	}
	paramsPath := filepath.Join(jobDir, "params.json")
	if err := os.WriteFile(paramsPath, data, 0600); err != nil {
		return nil, fmt.Errorf("failed to write parameters: %w", err)
	}

	e.log.Info("starting pdf2zh",
		logger.String("service", bp.Service),
		logger.String("langIn", bp.LangIn),
		logger.String("langOut", bp.LangOut),
		logger.Int("thread", bp.Thread),
		logger.Bool("layoutModel", bp.LayoutModel))

	start := time.Now()
	if _, err := e.py.RunScript(ctx, jobDir, e.openAIEnv(), script, inputPath, paramsPath, jobDir); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("pdf2zh interrupted: %w", err)
		}
		return nil, fmt.Errorf("pdf2zh failed: %w", err)
	}

	mono, err := readArtifact(filepath.Join(jobDir, "mono.pdf"))
	if err != nil {
		return nil, err
	}
	dual, err := readArtifact(filepath.Join(jobDir, "dual.pdf"))
	if err != nil {
		return nil, err
	}

	e.log.Info("pdf2zh finished",
		logger.Duration("took", time.Since(start)),
		logger.Int("monoBytes", len(mono)),
		logger.Int("dualBytes", len(dual)))
	return &types.TranslationResult{Mono: mono, Dual: dual}, nil
}

func readArtifact(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("missing output %s: %w", filepath.Base(path), err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty output %s", filepath.Base(path))
	}
	return data, nil
}
