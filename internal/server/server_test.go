package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf-translate-api/internal/dispatch"
	"pdf-translate-api/internal/engine"
	"pdf-translate-api/internal/logger"
	"pdf-translate-api/internal/store"
	"pdf-translate-api/internal/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeEngine struct {
	calls  atomic.Int32
	mu     sync.Mutex
	params engine.Params
	input  []byte
	err    error
	panicV interface{}
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Translate(_ context.Context, pdf []byte, p engine.Params) (*types.TranslationResult, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.params, f.input = p, pdf
	f.mu.Unlock()
	if f.panicV != nil {
		panic(f.panicV)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &types.TranslationResult{Mono: []byte("%PDF-mono"), Dual: []byte("%PDF-dual-longer")}, nil
}

type memRecorder struct {
	mu   sync.Mutex
	jobs []store.Job
}

func (m *memRecorder) Record(_ context.Context, j store.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, j)
	return nil
}

func (m *memRecorder) Recent(_ context.Context, limit int) ([]store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > 0 && limit < len(m.jobs) {
		return m.jobs[:limit], nil
	}
	return m.jobs, nil
}

func (m *memRecorder) Enabled() bool { return true }

func (m *memRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

type memArchiver struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (a *memArchiver) Save(_ context.Context, jobID, name string, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.objects[jobID+"/"+name] = data
	return nil
}

func (a *memArchiver) Enabled() bool { return true }

func (a *memArchiver) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.objects)
}

func newTestServer(eng *fakeEngine, opts Options) *Server {
	d := dispatch.New(eng, nil, dispatch.Options{MaxConcurrent: 2, MaxQueued: 2}, logger.Nop())
	return New(d, nil, nil, opts, logger.Nop())
}

func multipartBody(t *testing.T, fileName string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	if fileName != "" {
		part, err := w.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func postTranslate(t *testing.T, s *Server, path, fileName string, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, fileName, []byte("%PDF-1.7 input"), fields)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func get(s *Server, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestInfoEndpoints(t *testing.T) {
	s := newTestServer(&fakeEngine{}, Options{})

	for _, path := range []string{"/", "/health"} {
		rec := get(s, path)
		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "healthy", body["status"])
		assert.Equal(t, "1.0.0", body["version"])
		assert.Equal(t, "PDFMathTranslate API", body["service"])
	}

	var health HealthDetails
	require.NoError(t, json.Unmarshal(get(s, "/health").Body.Bytes(), &health))
	assert.Equal(t, "fake", health.Engine)
	assert.False(t, health.ModelAvailable)

	var services struct{ Services []string }
	require.NoError(t, json.Unmarshal(get(s, "/services").Body.Bytes(), &services))
	assert.Len(t, services.Services, 23)
	assert.Equal(t, "google", services.Services[0])

	var langs struct {
		Languages []string
		Note      string
	}
	require.NoError(t, json.Unmarshal(get(s, "/languages").Body.Bytes(), &langs))
	assert.Len(t, langs.Languages, 16)
	assert.Equal(t, languagesNote, langs.Note)
}

func TestUnknownRoutesUseErrorEnvelope(t *testing.T) {
	s := newTestServer(&fakeEngine{}, Options{})

	tests := []struct {
		method string
		path   string
		status int
		msg    string
	}{
		{http.MethodGet, "/nope", http.StatusNotFound, "Not Found"},
		{http.MethodPost, "/translate/pdf", http.StatusNotFound, "Not Found"},
		{http.MethodGet, "/translate", http.StatusMethodNotAllowed, "Method Not Allowed"},
		{http.MethodDelete, "/health", http.StatusMethodNotAllowed, "Method Not Allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			require.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
			body := decodeError(t, rec)
			assert.Equal(t, tt.msg, body.Error)
			assert.Equal(t, tt.status, body.StatusCode)
		})
	}
}

func TestRequestIDHeader(t *testing.T) {
	s := newTestServer(&fakeEngine{}, Options{})

	rec := get(s, "/health")
	assert.Len(t, rec.Header().Get(RequestIDHeader), 36)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "trace-123")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "trace-123", rec.Header().Get(RequestIDHeader))
}

func TestCORSAllowsAnyOrigin(t *testing.T) {
	s := newTestServer(&fakeEngine{}, Options{})
	req := httptest.NewRequest(http.MethodGet, "/services", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSPreflightPassesMethodCheck(t *testing.T) {
	s := newTestServer(&fakeEngine{}, Options{})
	req := httptest.NewRequest(http.MethodOptions, "/translate", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestTranslateMono(t *testing.T) {
	eng := &fakeEngine{}
	s := newTestServer(eng, Options{})

	rec := postTranslate(t, s, "/translate/mono", "doc.pdf", map[string]string{"lang_in": "en", "lang_out": "zh"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="doc-zh.pdf"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "%PDF-mono", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(JobIDHeader))
	assert.Equal(t, "%PDF-1.7 input", string(eng.input))
}

func TestTranslateDual(t *testing.T) {
	s := newTestServer(&fakeEngine{}, Options{})

	rec := postTranslate(t, s, "/translate/dual", "doc.pdf", map[string]string{"lang_out": "zh"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="doc-dual-zh.pdf"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "%PDF-dual-longer", rec.Body.String())
}

func TestTranslateCombined(t *testing.T) {
	s := newTestServer(&fakeEngine{}, Options{})

	rec := postTranslate(t, s, "/translate", "doc.pdf", map[string]string{"lang_out": "ja"})
	require.Equal(t, http.StatusOK, rec.Code)

	var body CombinedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "success", body.Status)
	assert.Equal(t, "Translation completed successfully", body.Message)
	assert.Equal(t, "doc.pdf", body.OriginalFilename)
	assert.Equal(t, "doc-ja.pdf", body.MonoFilename)
	assert.Equal(t, "doc-dual-ja.pdf", body.DualFilename)
	assert.Equal(t, combinedNote, body.Note)

	mono, err := base64.StdEncoding.DecodeString(body.MonoBase64)
	require.NoError(t, err)
	assert.Equal(t, body.MonoSizeBytes, len(mono))
	dual, err := base64.StdEncoding.DecodeString(body.DualBase64)
	require.NoError(t, err)
	assert.Equal(t, body.DualSizeBytes, len(dual))
	assert.Equal(t, "%PDF-dual-longer", string(dual))
}

func TestTranslateDefaultsAndParams(t *testing.T) {
	eng := &fakeEngine{}
	s := newTestServer(eng, Options{})

	rec := postTranslate(t, s, "/translate/mono", "doc.pdf", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "en", eng.params.LangIn)
	assert.Equal(t, "zh", eng.params.LangOut)
	assert.Equal(t, "google", eng.params.Service)
	assert.Equal(t, 4, eng.params.ThreadCount)
	assert.Empty(t, eng.params.ModelOverride)

	rec = postTranslate(t, s, "/translate/mono", "doc.pdf", map[string]string{
		"service": "OpenAI:gpt-4o", "thread": "8", "model": "gpt-4.1", "callback": "Translate ${text}",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OpenAI:gpt-4o", eng.params.Service)
	assert.Equal(t, 8, eng.params.ThreadCount)
	assert.Equal(t, "gpt-4.1", eng.params.ModelOverride)
	assert.Equal(t, "Translate ${text}", eng.params.PromptCallback)
}

func TestTranslateRejectsBadInput(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		fields  map[string]string
		message string
	}{
		{"not a pdf", "x.txt", nil, "Only PDF files are supported"},
		{"source language", "doc.pdf", map[string]string{"lang_in": "xx"}, "Unsupported source language: xx"},
		{"target language", "doc.pdf", map[string]string{"lang_out": "EN"}, "Unsupported target language: EN"},
		{"service", "doc.pdf", map[string]string{"service": "babelfish:v2"}, "Unsupported translation service: babelfish:v2"},
		{"padded service", "doc.pdf", map[string]string{"service": " OpenAI :gpt-4o"}, "Unsupported translation service:  OpenAI :gpt-4o"},
		{"thread not a number", "doc.pdf", map[string]string{"thread": "many"}, "Invalid thread count: many"},
		{"thread out of range", "doc.pdf", map[string]string{"thread": "64"}, "Thread count must be between 1 and 16"},
		{"missing file", "", nil, "No file uploaded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &fakeEngine{}
			s := newTestServer(eng, Options{})
			for _, path := range []string{"/translate/mono", "/translate/dual", "/translate"} {
				rec := postTranslate(t, s, path, tt.file, tt.fields)
				require.Equal(t, http.StatusBadRequest, rec.Code)
				body := decodeError(t, rec)
				assert.Equal(t, tt.message, body.Error)
				assert.Equal(t, http.StatusBadRequest, body.StatusCode)
				assert.Empty(t, body.Detail)
			}
			assert.Zero(t, eng.calls.Load(), "engine must not be invoked")
		})
	}
}

func TestTranslateUploadTooLarge(t *testing.T) {
	eng := &fakeEngine{}
	s := newTestServer(eng, Options{MaxUploadBytes: 64})

	body, contentType := multipartBody(t, "doc.pdf", bytes.Repeat([]byte("x"), 4096), nil)
	req := httptest.NewRequest(http.MethodPost, "/translate/mono", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec).Error, "File too large")
	assert.Zero(t, eng.calls.Load())
}

func TestTranslateEngineFailure(t *testing.T) {
	for _, path := range []string{"/translate/mono", "/translate/dual", "/translate"} {
		t.Run(path, func(t *testing.T) {
			s := newTestServer(&fakeEngine{err: errors.New("deepl quota exceeded")}, Options{})
			rec := postTranslate(t, s, path, "doc.pdf", nil)

			require.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
			assert.Empty(t, rec.Header().Get("Content-Disposition"))
			body := decodeError(t, rec)
			assert.Equal(t, "Translation failed: deepl quota exceeded", body.Error)
			assert.Equal(t, "deepl quota exceeded", body.Detail)
			assert.Equal(t, http.StatusInternalServerError, body.StatusCode)
		})
	}
}

func TestTranslateEnginePanic(t *testing.T) {
	s := newTestServer(&fakeEngine{panicV: "nil map"}, Options{})
	rec := postTranslate(t, s, "/translate/mono", "doc.pdf", nil)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "Translation failed: engine panic: nil map", body.Error)

	assert.Equal(t, http.StatusOK, get(s, "/health").Code, "process keeps serving")
}

func TestHandlerPanicUsesGenericEnvelope(t *testing.T) {
	s := newTestServer(&fakeEngine{}, Options{})
	s.router.GET("/boom", func(*gin.Context) { panic("unexpected state") })

	rec := get(s, "/boom")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "Internal server error", body.Error)
	assert.Equal(t, "unexpected state", body.Detail)
}

func TestAuditAndArchive(t *testing.T) {
	rec := &memRecorder{}
	arc := &memArchiver{objects: map[string][]byte{}}
	eng := &fakeEngine{}
	d := dispatch.New(eng, nil, dispatch.Options{MaxConcurrent: 1}, logger.Nop())
	s := New(d, rec, arc, Options{}, logger.Nop())

	resp := postTranslate(t, s, "/translate/dual", "论文.pdf", map[string]string{"service": "deepseek"})
	require.Equal(t, http.StatusOK, resp.Code)
	jobID := resp.Header().Get(JobIDHeader)

	eng.err = errors.New("boom")
	resp = postTranslate(t, s, "/translate", "b.pdf", nil)
	require.Equal(t, http.StatusInternalServerError, resp.Code)

	require.NoError(t, s.Shutdown(context.Background()))
	assert.Equal(t, 2, rec.count())
	assert.Equal(t, 2, arc.count(), "only the successful job is archived")
	assert.Equal(t, []byte("%PDF-mono"), arc.objects[jobID+"/论文-zh.pdf"])

	byID := map[string]store.Job{}
	for _, j := range rec.jobs {
		byID[j.ID] = j
	}
	ok := byID[jobID]
	assert.Equal(t, store.StatusSucceeded, ok.Status)
	assert.Equal(t, "dual", ok.Shape)
	assert.Equal(t, "deepseek", ok.Service)
	assert.Equal(t, int64(len("%PDF-dual-longer")), ok.DualBytes)

	var failed store.Job
	for _, j := range rec.jobs {
		if j.ID != jobID {
			failed = j
		}
	}
	assert.Equal(t, store.StatusFailed, failed.Status)
	assert.Contains(t, failed.Error, "boom")
}

func TestJobsEndpoint(t *testing.T) {
	s := newTestServer(&fakeEngine{}, Options{})
	assert.Equal(t, http.StatusNotFound, get(s, "/jobs").Code)

	rec := &memRecorder{jobs: []store.Job{
		{ID: "a", Status: store.StatusSucceeded, CreatedAt: time.Now()},
		{ID: "b", Status: store.StatusFailed, CreatedAt: time.Now()},
	}}
	d := dispatch.New(&fakeEngine{}, nil, dispatch.Options{MaxConcurrent: 1}, logger.Nop())
	s = New(d, rec, nil, Options{}, logger.Nop())

	resp := get(s, "/jobs?"+url.Values{"limit": {"1"}}.Encode())
	require.Equal(t, http.StatusOK, resp.Code)
	var body struct{ Jobs []store.Job }
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Len(t, body.Jobs, 1)
	assert.Equal(t, "a", body.Jobs[0].ID)

	assert.Equal(t, http.StatusBadRequest, get(s, "/jobs?limit=zero").Code)
}

func TestServiceBusy(t *testing.T) {
	eng := &blockingEngine{release: make(chan struct{}), started: make(chan struct{}, 1)}
	d := dispatch.New(eng, nil, dispatch.Options{MaxConcurrent: 1, MaxQueued: 0}, logger.Nop())
	s := New(d, nil, nil, Options{}, logger.Nop())

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() { done <- postTranslate(t, s, "/translate/mono", "a.pdf", nil) }()
	<-eng.started

	rec := postTranslate(t, s, "/translate/mono", "b.pdf", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeError(t, rec)
	assert.True(t, strings.HasPrefix(body.Error, "Service busy"))
	assert.Equal(t, http.StatusServiceUnavailable, body.StatusCode)

	close(eng.release)
	assert.Equal(t, http.StatusOK, (<-done).Code)
}

type blockingEngine struct {
	release chan struct{}
	started chan struct{}
}

func (b *blockingEngine) Name() string { return "blocking" }

func (b *blockingEngine) Translate(ctx context.Context, _ []byte, _ engine.Params) (*types.TranslationResult, error) {
	b.started <- struct{}{}
	select {
	case <-b.release:
		return &types.TranslationResult{Mono: []byte("m"), Dual: []byte("d")}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
