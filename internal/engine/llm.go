package engine

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"pdf-translate-api/internal/types"
)

// TextRequest is one segment to translate.
type TextRequest struct {
	Text    string
	LangIn  string
	LangOut string
	Service types.ServiceIdentifier
	// Prompt is an optional template using ${lang_in}, ${lang_out} and ${text}.
	Prompt string
}

// Translator translates a single text segment.
type Translator interface {
	TranslateText(ctx context.Context, req TextRequest) (string, error)
}

// chatBackend describes an OpenAI-compatible endpoint.
type chatBackend struct {
	baseURL      string
	keyEnv       string
	defaultModel string
}

// chatBackends lists the services the native engine can reach through an
// OpenAI-compatible chat API. "openai" takes its settings from Options.
var chatBackends = map[string]chatBackend{
	"openai":     {},
	"deepseek":   {baseURL: "https://api.deepseek.com/v1", keyEnv: "DEEPSEEK_API_KEY", defaultModel: "deepseek-chat"},
	"ollama":     {baseURL: "http://localhost:11434/v1", keyEnv: "OLLAMA_API_KEY", defaultModel: "gemma2"},
	"silicon":    {baseURL: "https://api.siliconflow.cn/v1", keyEnv: "SILICON_API_KEY", defaultModel: "Qwen/Qwen2.5-7B-Instruct"},
	"groq":       {baseURL: "https://api.groq.com/openai/v1", keyEnv: "GROQ_API_KEY", defaultModel: "llama-3.3-70b-versatile"},
	"grok":       {baseURL: "https://api.x.ai/v1", keyEnv: "GROK_API_KEY", defaultModel: "grok-2-1212"},
	"moonshot":   {baseURL: "https://api.moonshot.cn/v1", keyEnv: "MOONSHOT_API_KEY", defaultModel: "moonshot-v1-8k"},
	"qwen":       {baseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1", keyEnv: "DASHSCOPE_API_KEY", defaultModel: "qwen-plus"},
	"zhipu":      {baseURL: "https://open.bigmodel.cn/api/paas/v4", keyEnv: "ZHIPU_API_KEY", defaultModel: "glm-4-flash"},
	"modelscope": {baseURL: "https://api-inference.modelscope.cn/v1", keyEnv: "MODELSCOPE_API_KEY", defaultModel: "Qwen/Qwen2.5-32B-Instruct"},
}

// SupportsNativeService reports whether the native engine can serve base.
func SupportsNativeService(base string) bool {
	_, ok := chatBackends[base]
	return ok
}

var languageNames = map[string]string{
	"zh": "Simplified Chinese", "en": "English", "ja": "Japanese", "ko": "Korean",
	"es": "Spanish", "fr": "French", "de": "German", "ru": "Russian",
	"pt": "Portuguese", "it": "Italian", "ar": "Arabic", "hi": "Hindi",
	"th": "Thai", "vi": "Vietnamese", "id": "Indonesian", "tr": "Turkish",
}

func languageName(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	return code
}

// chatModel is the subset of an eino chat model used here.
type chatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

type chatModelFactory func(ctx context.Context, cfg *openai.ChatModelConfig) (chatModel, error)

func newOpenAIChatModel(ctx context.Context, cfg *openai.ChatModelConfig) (chatModel, error) {
	m, err := openai.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// EinoTranslator translates segments with eino OpenAI-compatible chat models.
// Models are created on first use per (service, model) and reused.
type EinoTranslator struct {
	opts       Options
	newModel   chatModelFactory
	lookupEnv  func(string) string
	reqTimeout time.Duration

	mu     sync.Mutex
	models map[string]chatModel
}

func NewEinoTranslator(opts Options) *EinoTranslator {
	return &EinoTranslator{
		opts:       opts,
		newModel:   newOpenAIChatModel,
		lookupEnv:  os.Getenv,
		reqTimeout: 180 * time.Second,
		models:     make(map[string]chatModel),
	}
}

// resolve returns the chat model config for id.
func (t *EinoTranslator) resolve(id types.ServiceIdentifier) (*openai.ChatModelConfig, error) {
	backend, ok := chatBackends[id.Base]
	if !ok {
		return nil, fmt.Errorf("service %q is not available in the native engine", id.Base)
	}
	cfg := &openai.ChatModelConfig{
		BaseURL: backend.baseURL,
		Model:   backend.defaultModel,
		Timeout: t.reqTimeout,
	}
	if id.Base == "openai" {
		cfg.BaseURL = t.opts.OpenAIBaseURL
		cfg.APIKey = t.opts.OpenAIAPIKey
		cfg.Model = t.opts.OpenAIModel
	} else {
		cfg.APIKey = t.lookupEnv(backend.keyEnv)
	}
	if id.Model != "" {
		cfg.Model = id.Model
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("no model configured for service %q", id.Base)
	}
	if cfg.APIKey == "" && id.Base != "ollama" {
		return nil, fmt.Errorf("no API key configured for service %q", id.Base)
	}
	return cfg, nil
}

func (t *EinoTranslator) chatModelFor(ctx context.Context, id types.ServiceIdentifier) (chatModel, error) {
	cfg, err := t.resolve(id)
	if err != nil {
		return nil, err
	}
	key := id.Base + "|" + cfg.BaseURL + "|" + cfg.Model

	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.models[key]; ok {
		return m, nil
	}
	m, err := t.newModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	t.models[key] = m
	return m, nil
}

// BuildMessages renders the chat input for req.
func BuildMessages(req TextRequest) []*schema.Message {
	if req.Prompt != "" {
		prompt := strings.NewReplacer(
			"${lang_in}", req.LangIn,
			"${lang_out}", req.LangOut,
			"${text}", req.Text,
		).Replace(req.Prompt)
		return []*schema.Message{schema.UserMessage(prompt)}
	}
	system := fmt.Sprintf("You are a professional translator. Translate the user's text from %s to %s. "+
		"Keep formulas, numbers, citations and placeholders unchanged. Output only the translation.",
		languageName(req.LangIn), languageName(req.LangOut))
	return []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(req.Text),
	}
}

func (t *EinoTranslator) TranslateText(ctx context.Context, req TextRequest) (string, error) {
	m, err := t.chatModelFor(ctx, req.Service)
	if err != nil {
		return "", err
	}
	resp, err := m.Generate(ctx, BuildMessages(req))
	if err != nil {
		return "", fmt.Errorf("%s: %w", req.Service.Base, err)
	}
	if resp == nil {
		return "", fmt.Errorf("%s: empty response", req.Service.Base)
	}
	return strings.TrimSpace(resp.Content), nil
}
