// Package validator checks translation requests against the supported
// languages and services before any work is dispatched.
package validator

import (
	"strings"

	"pdf-translate-api/internal/types"
)

const (
	MinThreadCount     = 1
	MaxThreadCount     = 16
	DefaultThreadCount = 4
	DefaultLangIn      = "en"
	DefaultLangOut     = "zh"
	DefaultService     = "google"
)

// SupportedServices lists the translation backends a request may name.
var SupportedServices = []string{
	"google", "bing", "deepl", "deeplx", "deepseek", "ollama", "openai",
	"azure-openai", "gemini", "zhipu", "silicon", "groq", "grok", "moonshot",
	"qwen", "tencent", "azure", "dify", "anythingllm", "modelscope",
	"xinference", "anthropic", "argos",
}

// SupportedLanguages lists ISO 639-1 codes accepted for lang_in and lang_out.
var SupportedLanguages = []string{
	"zh", "en", "ja", "ko", "es", "fr", "de", "ru",
	"pt", "it", "ar", "hi", "th", "vi", "id", "tr",
}

var (
	serviceSet  = toSet(SupportedServices)
	languageSet = toSet(SupportedLanguages)
)

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}

// ParseServiceIdentifier splits "base[:model]" on the first colon. The base is
// lower-cased; the model is kept verbatim and may itself contain colons.
func ParseServiceIdentifier(raw string) types.ServiceIdentifier {
	base, model, _ := strings.Cut(raw, ":")
	return types.ServiceIdentifier{
		Base:  strings.ToLower(base),
		Model: model,
	}
}

// IsSupportedService reports whether the identifier's base is known.
func IsSupportedService(raw string) bool {
	return serviceSet[ParseServiceIdentifier(raw).Base]
}

// IsSupportedLanguage reports whether code is an accepted language code.
// Matching is exact.
func IsSupportedLanguage(code string) bool {
	return languageSet[code]
}

// ValidateFileName requires a .pdf extension, case-insensitively.
func ValidateFileName(name string) error {
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		return types.NewAppError(types.ErrInvalidFileType, "Only PDF files are supported", nil)
	}
	return nil
}

// ValidateLanguages checks the source then the target language.
func ValidateLanguages(langIn, langOut string) error {
	if !IsSupportedLanguage(langIn) {
		return types.NewAppError(types.ErrUnsupportedLanguage, "Unsupported source language: "+langIn, nil)
	}
	if !IsSupportedLanguage(langOut) {
		return types.NewAppError(types.ErrUnsupportedLanguage, "Unsupported target language: "+langOut, nil)
	}
	return nil
}

func ValidateService(raw string) error {
	if !IsSupportedService(raw) {
		return types.NewAppError(types.ErrUnsupportedService, "Unsupported translation service: "+raw, nil)
	}
	return nil
}

func ValidateThreadCount(n int) error {
	if n < MinThreadCount || n > MaxThreadCount {
		return types.NewAppError(types.ErrInvalidParameter,
			"Thread count must be between 1 and 16", nil)
	}
	return nil
}

// Validate runs every check in order: file type, source language, target
// language, service, thread count. Only the first failure is returned.
func Validate(req *types.TranslationRequest) error {
	if err := ValidateFileName(req.FileName); err != nil {
		return err
	}
	if err := ValidateLanguages(req.LangIn, req.LangOut); err != nil {
		return err
	}
	if err := ValidateService(req.Service); err != nil {
		return err
	}
	return ValidateThreadCount(req.ThreadCount)
}
