// Package types defines the data model shared across the translation service.
package types

import (
	"errors"
	"net/http"
	"strings"
)

// Config is the persisted service configuration.
type Config struct {
	ListenAddr            string   `json:"listen_addr"`
	MaxConcurrent         int      `json:"max_concurrent"`          // translations running at once
	MaxQueued             int      `json:"max_queued"`              // requests allowed to wait for a slot
	RequestTimeoutSeconds int      `json:"request_timeout_seconds"` // 0 disables the per-request deadline
	MaxUploadBytes        int64    `json:"max_upload_bytes"`
	Engine                string   `json:"engine"` // "pdf2zh" or "native"
	PythonPath            string   `json:"python_path"`
	WorkDir               string   `json:"work_dir"`
	ModelPath             string   `json:"model_path"`      // layout model (.onnx or .onnx.gz)
	OnnxRuntimeLib        string   `json:"onnxruntime_lib"` // onnxruntime shared library
	OpenAIAPIKey          string   `json:"openai_api_key"`
	OpenAIBaseURL         string   `json:"openai_base_url"`
	OpenAIModel           string   `json:"openai_model"`
	CachePath             string   `json:"cache_path"`
	FontFile              string   `json:"font_file"` // .ttf/.ttc installed for native stamping
	FontName              string   `json:"font_name"` // PostScript name of font_file, or a core font
	LogFile               string   `json:"log_file"`
	LogLevel              string   `json:"log_level"`
	DatabaseURL           string   `json:"database_url"`
	ArchiveBucket         string   `json:"archive_bucket"`
	ArchiveDir            string   `json:"archive_dir"` // used when archive_bucket is empty
	CORSOrigins           []string `json:"cors_origins"`
}

// OutputShape selects which artifact a translate endpoint returns.
type OutputShape int

const (
	ShapeMono OutputShape = iota
	ShapeDual
	ShapeCombined
)

func (s OutputShape) String() string {
	switch s {
	case ShapeMono:
		return "mono"
	case ShapeDual:
		return "dual"
	case ShapeCombined:
		return "combined"
	default:
		return "unknown"
	}
}

// ServiceIdentifier is a translation backend name with an optional model,
// written as "base" or "base:model".
type ServiceIdentifier struct {
	Base  string
	Model string
}

func (s ServiceIdentifier) String() string {
	if s.Model == "" {
		return s.Base
	}
	return s.Base + ":" + s.Model
}

// TranslationRequest is one inbound translation call. It is built once per
// request and not modified afterwards.
type TranslationRequest struct {
	FileBytes      []byte
	FileName       string
	LangIn         string
	LangOut        string
	Service        string // raw identifier, possibly "base:model"
	ThreadCount    int
	ModelOverride  string
	PromptCallback string
}

// TranslationResult holds both artifacts of one translation.
type TranslationResult struct {
	Mono []byte
	Dual []byte
}

// Complete reports whether both artifacts are present.
func (r *TranslationResult) Complete() bool {
	return r != nil && len(r.Mono) > 0 && len(r.Dual) > 0
}

// ErrorCode classifies failures for the HTTP error envelope.
type ErrorCode string

const (
	ErrInvalidFileType     ErrorCode = "INVALID_FILE_TYPE"
	ErrUnsupportedLanguage ErrorCode = "UNSUPPORTED_LANGUAGE"
	ErrUnsupportedService  ErrorCode = "UNSUPPORTED_SERVICE"
	ErrInvalidParameter    ErrorCode = "INVALID_PARAMETER"
	ErrTranslationFailed   ErrorCode = "TRANSLATION_FAILED"
	ErrServiceBusy         ErrorCode = "SERVICE_BUSY"
	ErrConfig              ErrorCode = "CONFIG_ERROR"
	ErrInternal            ErrorCode = "INTERNAL_ERROR"
)

// AppError is a classified application error.
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	Cause   error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error code to a response status.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ErrInvalidFileType, ErrUnsupportedLanguage, ErrUnsupportedService, ErrInvalidParameter:
		return http.StatusBadRequest
	case ErrServiceBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsClientError reports whether the error is caused by request input.
func (e *AppError) IsClientError() bool {
	return e.HTTPStatus() < http.StatusInternalServerError
}

func NewAppError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func NewAppErrorWithDetails(code ErrorCode, message, details string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Details: details,
		Cause:   cause,
	}
}

// NewTranslationFailed wraps an engine failure. The underlying message is kept
// as Details so it can be surfaced to the client.
func NewTranslationFailed(cause error) *AppError {
	details := "unknown error"
	if cause != nil {
		details = strings.TrimSpace(cause.Error())
	}
	return NewAppErrorWithDetails(ErrTranslationFailed, "Translation failed", details, cause)
}

// AsAppError extracts an *AppError from err's chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
