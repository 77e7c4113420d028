package engine

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf-translate-api/internal/logger"
	"pdf-translate-api/internal/models"
	"pdf-translate-api/internal/python"
)

// fakePdf2zh stands in for the interpreter. It receives
// <script> <input.pdf> <params.json> <output_dir> and runs body.
func fakePdf2zh(t *testing.T, body string) *python.Env {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake interpreter requires a unix shell")
	}
	path := filepath.Join(t.TempDir(), "python")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return python.New(python.Config{PythonPath: path})
}

const writeBothArtifacts = `cp "$3" "$4/params.copy"
printf 'MONO:' > "$4/mono.pdf"; cat "$2" >> "$4/mono.pdf"
printf 'DUAL:' > "$4/dual.pdf"; cat "$2" >> "$4/dual.pdf"`

func TestPdf2zhEngineSuccess(t *testing.T) {
	py := fakePdf2zh(t, writeBothArtifacts+`
grep -q '"service":"openai:gpt-4.1"' "$3" || { echo "bad service" >&2; exit 7; }
grep -q '"thread":6' "$3" || { echo "bad thread" >&2; exit 7; }
grep -q '"layout_model":false' "$3" || { echo "bad layout flag" >&2; exit 7; }`)
	workDir := t.TempDir()
	e := NewPdf2zhEngine(py, Options{WorkDir: workDir, OpenAIAPIKey: "sk"}, logger.Nop())

	p := Params{LangIn: "en", LangOut: "zh", Service: "OpenAI:gpt-4o", ModelOverride: "gpt-4.1", ThreadCount: 6,
		Model: models.Unavailable(nil)}
	res, err := e.Translate(context.Background(), []byte("%PDF-1.7 body"), p)
	require.NoError(t, err)
	assert.Equal(t, "MONO:%PDF-1.7 body", string(res.Mono))
	assert.Equal(t, "DUAL:%PDF-1.7 body", string(res.Dual))

	_, err = os.Stat(filepath.Join(workDir, pdf2zhBridgeFileName))
	assert.NoError(t, err, "bridge script is written to the work dir")

	entries, err := os.ReadDir(workDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "job directories are removed")
}

func TestPdf2zhEngineFailureCarriesStderr(t *testing.T) {
	py := fakePdf2zh(t, `echo "RuntimeError: service quota exceeded" >&2; exit 1`)
	e := NewPdf2zhEngine(py, Options{WorkDir: t.TempDir()}, logger.Nop())

	_, err := e.Translate(context.Background(), []byte("%PDF"), Params{Service: "google", ThreadCount: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pdf2zh failed")
	assert.Contains(t, err.Error(), "service quota exceeded")
}

func TestPdf2zhEngineMissingDual(t *testing.T) {
	py := fakePdf2zh(t, `printf 'MONO' > "$4/mono.pdf"`)
	e := NewPdf2zhEngine(py, Options{WorkDir: t.TempDir()}, logger.Nop())

	res, err := e.Translate(context.Background(), []byte("%PDF"), Params{Service: "google", ThreadCount: 1})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Contains(t, err.Error(), "dual.pdf")
}

func TestPdf2zhEngineCancelled(t *testing.T) {
	py := fakePdf2zh(t, `sleep 30`)
	e := NewPdf2zhEngine(py, Options{WorkDir: t.TempDir()}, logger.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err := e.Translate(ctx, []byte("%PDF"), Params{Service: "google", ThreadCount: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewBridgeParams(t *testing.T) {
	p := Params{
		LangIn: "de", LangOut: "en", Service: "ollama:qwen2.5:7b", ThreadCount: 2,
		PromptCallback: "Translate ${text}",
	}
	bp := newBridgeParams(p)
	assert.Equal(t, "ollama:qwen2.5:7b", bp.Service)
	assert.Empty(t, bp.ModelPath, "no model path without a loaded model")
	assert.False(t, bp.LayoutModel)

	data, err := json.Marshal(bp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"lang_in":"de","lang_out":"en","service":"ollama:qwen2.5:7b","thread":2,"prompt":"Translate ${text}","layout_model":false}`, string(data))
}

func TestOpenAIEnv(t *testing.T) {
	e := NewPdf2zhEngine(nil, Options{OpenAIAPIKey: "sk", OpenAIModel: "m"}, logger.Nop())
	assert.Equal(t, []string{"OPENAI_API_KEY=sk", "OPENAI_MODEL=m"}, e.openAIEnv())
}

func TestBridgeScriptHonorsLayoutFlag(t *testing.T) {
	assert.Contains(t, pdf2zhBridgeScript, `if not params.get("layout_model")`)
	assert.NotContains(t, pdf2zhBridgeScript, "load_available", "pdf2zh picks its own model when none is passed")
}
