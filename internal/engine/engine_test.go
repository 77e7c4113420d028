package engine

import (
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdftypes "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf-translate-api/internal/config"
	"pdf-translate-api/internal/logger"
	"pdf-translate-api/internal/models"
	"pdf-translate-api/internal/python"
	"pdf-translate-api/internal/types"
)

func TestBuildParams(t *testing.T) {
	req := &types.TranslationRequest{
		FileBytes:      []byte("%PDF"),
		FileName:       "doc.pdf",
		LangIn:         "en",
		LangOut:        "ja",
		Service:        "OpenAI:gpt-4o",
		ThreadCount:    8,
		ModelOverride:  "gpt-4.1",
		PromptCallback: "Translate ${text}",
	}

	p := BuildParams(req, nil)
	assert.Equal(t, "en", p.LangIn)
	assert.Equal(t, "ja", p.LangOut)
	assert.Equal(t, "OpenAI:gpt-4o", p.Service, "raw identifier is passed through")
	assert.Equal(t, 8, p.ThreadCount)
	assert.Equal(t, "gpt-4.1", p.ModelOverride)
	assert.Equal(t, "Translate ${text}", p.PromptCallback)
	require.NotNil(t, p.Model)
	assert.False(t, p.Model.Available(), "nil model becomes the unavailable marker")
}

func TestBuildParamsKeepsModelHandle(t *testing.T) {
	handle := models.Unavailable(nil)
	p := BuildParams(&types.TranslationRequest{}, handle)
	assert.Same(t, handle, p.Model)
}

func TestParamsServiceIdentifier(t *testing.T) {
	tests := []struct {
		service  string
		override string
		want     types.ServiceIdentifier
	}{
		{"google", "", types.ServiceIdentifier{Base: "google"}},
		{"OpenAI:gpt-4o", "", types.ServiceIdentifier{Base: "openai", Model: "gpt-4o"}},
		{"openai", "gpt-4.1", types.ServiceIdentifier{Base: "openai", Model: "gpt-4.1"}},
		{"openai:gpt-4o", "gpt-4.1", types.ServiceIdentifier{Base: "openai", Model: "gpt-4.1"}},
		{"ollama:qwen2.5:7b", "", types.ServiceIdentifier{Base: "ollama", Model: "qwen2.5:7b"}},
	}
	for _, tt := range tests {
		t.Run(tt.service+"+"+tt.override, func(t *testing.T) {
			p := Params{Service: tt.service, ModelOverride: tt.override}
			assert.Equal(t, tt.want, p.ServiceIdentifier())
		})
	}
}

func TestNewSelectsEngine(t *testing.T) {
	opts := Options{WorkDir: t.TempDir()}
	py := python.New(python.Config{})

	e, err := New(config.EnginePdf2zh, opts, py, logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, Pdf2zhEngineName, e.Name())

	e, err = New(config.EngineNative, opts, py, logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, NativeEngineName, e.Name())

	_, err = New("babeldoc", opts, py, logger.Nop())
	assert.Error(t, err)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := &types.Config{
		OpenAIAPIKey:  "sk",
		OpenAIBaseURL: "https://llm.internal/v1",
		OpenAIModel:   "m",
		CachePath:     "/var/cache/seg.json",
		FontFile:      "/fonts/NotoSansSC-Regular.ttf",
		FontName:      "NotoSansSC-Regular",
	}
	opts := OptionsFromConfig(cfg, "/work")
	assert.Equal(t, "/work", opts.WorkDir)
	assert.Equal(t, "sk", opts.OpenAIAPIKey)
	assert.Equal(t, "https://llm.internal/v1", opts.OpenAIBaseURL)
	assert.Equal(t, "m", opts.OpenAIModel)
	assert.Equal(t, "/var/cache/seg.json", opts.CachePath)
	assert.Equal(t, "/fonts/NotoSansSC-Regular.ttf", opts.FontFile)
	assert.Equal(t, "NotoSansSC-Regular", opts.FontName)
}

func TestShouldTranslate(t *testing.T) {
	assert.True(t, ShouldTranslate("Introduction"))
	assert.True(t, ShouldTranslate("引言"))
	assert.False(t, ShouldTranslate("12"))
	assert.False(t, ShouldTranslate("x = 3.14"))
	assert.False(t, ShouldTranslate(""))
}

func TestStampDescription(t *testing.T) {
	desc := stampDescription(72, 700.25, 11, "")
	assert.Equal(t, "pos:bl, off:72.0 700.2, points:11, scale:1 abs, rot:0, fillc:#000000, bgcol:#FFFFFF, op:1", desc)

	tests := []struct {
		size float64
		want string
	}{
		{0, "points:10,"},
		{-3, "points:10,"},
		{0.2, "points:1,"},
		{9.6, "points:10,"},
		{10.4, "points:10,"},
		{14, "points:14,"},
	}
	for _, tt := range tests {
		assert.Contains(t, stampDescription(0, 0, tt.size, ""), tt.want, "size %v", tt.size)
	}
	assert.Contains(t, stampDescription(1, 1, 9, "NotoSansSC-Regular"), ", fontname:NotoSansSC-Regular")
}

func TestStampDescriptionParsesInPdfcpu(t *testing.T) {
	for _, size := range []float64{0, 7.3, 10.5, 11, 23.9} {
		_, err := api.TextWatermark("Einleitung", stampDescription(72, 700, size, ""), true, false, pdftypes.POINTS)
		assert.NoError(t, err, "size %v", size)
	}
}
