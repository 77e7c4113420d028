package server

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"pdf-translate-api/internal/logger"
	"pdf-translate-api/internal/store"
	"pdf-translate-api/internal/types"
	"pdf-translate-api/internal/validator"
)

const (
	languagesNote = "Use ISO 639-1 language codes (e.g., 'en' for English, 'zh' for Chinese)"
	combinedNote  = "Use /translate/mono or /translate/dual endpoints to download PDF directly"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Service string `json:"service"`
}

type HealthDetails struct {
	HealthResponse
	Engine         string `json:"engine"`
	ModelAvailable bool   `json:"model_available"`
	InFlight       int64  `json:"in_flight"`
	Queued         int64  `json:"queued"`
}

// CombinedResponse is returned by POST /translate.
type CombinedResponse struct {
	Status           string `json:"status"`
	Message          string `json:"message"`
	OriginalFilename string `json:"original_filename"`
	MonoFilename     string `json:"mono_filename"`
	DualFilename     string `json:"dual_filename"`
	MonoSizeBytes    int    `json:"mono_size_bytes"`
	DualSizeBytes    int    `json:"dual_size_bytes"`
	MonoBase64       string `json:"mono_base64"`
	DualBase64       string `json:"dual_base64"`
	Note             string `json:"note"`
}

func healthy() HealthResponse {
	return HealthResponse{Status: "healthy", Version: Version, Service: ServiceName}
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, healthy())
}

func (s *Server) handleHealth(c *gin.Context) {
	stats := s.dispatcher.Stats()
	c.JSON(http.StatusOK, HealthDetails{
		HealthResponse: healthy(),
		Engine:         s.dispatcher.EngineName(),
		ModelAvailable: s.dispatcher.ModelAvailable(),
		InFlight:       stats.InFlight,
		Queued:         stats.Queued,
	})
}

func (s *Server) handleServices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"services": validator.SupportedServices})
}

func (s *Server) handleLanguages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"languages": validator.SupportedLanguages, "note": languagesNote})
}

func (s *Server) handleJobs(c *gin.Context) {
	if !s.recorder.Enabled() {
		c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{
			Error:      "Job history is disabled",
			StatusCode: http.StatusNotFound,
		})
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.abortWithError(c, types.NewAppError(types.ErrInvalidParameter, "limit must be a positive integer", err))
			return
		}
		limit = n
	}
	jobs, err := s.recorder.Recent(c.Request.Context(), limit)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	if jobs == nil {
		jobs = []store.Job{}
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// handleTranslate serves the three translate endpoints. Only the response
// shape differs between them.
func (s *Server) handleTranslate(shape types.OutputShape) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.opts.MaxUploadBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxUploadBytes)
		}

		fh, err := c.FormFile("file")
		if err != nil {
			s.abortWithError(c, s.uploadError(err))
			return
		}
		req, err := parseRequest(c, fh.Filename)
		if err != nil {
			s.abortWithError(c, err)
			return
		}
		if err := validator.Validate(req); err != nil {
			s.abortWithError(c, err)
			return
		}
		if req.FileBytes, err = readUpload(fh); err != nil {
			s.abortWithError(c, err)
			return
		}

		jobID := uuid.NewString()
		c.Header(JobIDHeader, jobID)
		log := s.requestLogger(c).With(logger.String("jobId", jobID))
		log.Info("translation requested",
			logger.String("file", req.FileName),
			logger.String("shape", shape.String()),
			logger.String("langIn", req.LangIn),
			logger.String("langOut", req.LangOut),
			logger.String("service", req.Service),
			logger.Int("thread", req.ThreadCount))

		start := time.Now()
		result, err := s.dispatcher.Dispatch(c.Request.Context(), req)
		s.recordJob(jobID, req, shape, result, err, time.Since(start))
		if err != nil {
			s.abortWithError(c, err)
			return
		}
		s.archiveResult(jobID, req, result)

		monoName := MonoFileName(req.FileName, req.LangOut)
		dualName := DualFileName(req.FileName, req.LangOut)
		switch shape {
		case types.ShapeMono:
			c.Header("Content-Disposition", ContentDisposition(monoName))
			c.Data(http.StatusOK, "application/pdf", result.Mono)
		case types.ShapeDual:
			c.Header("Content-Disposition", ContentDisposition(dualName))
			c.Data(http.StatusOK, "application/pdf", result.Dual)
		default:
			c.JSON(http.StatusOK, CombinedResponse{
				Status:           "success",
				Message:          "Translation completed successfully",
				OriginalFilename: req.FileName,
				MonoFilename:     monoName,
				DualFilename:     dualName,
				MonoSizeBytes:    len(result.Mono),
				DualSizeBytes:    len(result.Dual),
				MonoBase64:       base64.StdEncoding.EncodeToString(result.Mono),
				DualBase64:       base64.StdEncoding.EncodeToString(result.Dual),
				Note:             combinedNote,
			})
		}
	}
}

func (s *Server) uploadError(err error) error {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large"):
		return types.NewAppError(types.ErrInvalidParameter,
			fmt.Sprintf("File too large: limit is %d bytes", s.opts.MaxUploadBytes), err)
	case errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart):
		return types.NewAppError(types.ErrInvalidParameter, "No file uploaded", err)
	default:
		return types.NewAppError(types.ErrInvalidParameter, "Invalid multipart form: "+err.Error(), err)
	}
}

// parseRequest reads the form fields, applying the documented defaults to
// fields the client omitted.
func parseRequest(c *gin.Context, fileName string) (*types.TranslationRequest, error) {
	thread := validator.DefaultThreadCount
	if raw, ok := c.GetPostForm("thread"); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, types.NewAppError(types.ErrInvalidParameter, "Invalid thread count: "+raw, err)
		}
		thread = n
	}
	return &types.TranslationRequest{
		FileName:       fileName,
		LangIn:         c.DefaultPostForm("lang_in", validator.DefaultLangIn),
		LangOut:        c.DefaultPostForm("lang_out", validator.DefaultLangOut),
		Service:        c.DefaultPostForm("service", validator.DefaultService),
		ThreadCount:    thread,
		ModelOverride:  strings.TrimSpace(c.PostForm("model")),
		PromptCallback: c.PostForm("callback"),
	}, nil
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, types.NewAppError(types.ErrInvalidFileType, "Uploaded file is empty", nil)
	}
	return data, nil
}

func (s *Server) recordJob(jobID string, req *types.TranslationRequest, shape types.OutputShape,
	result *types.TranslationResult, dispatchErr error, took time.Duration) {
	if !s.recorder.Enabled() {
		return
	}
	job := store.Job{
		ID:         jobID,
		FileName:   req.FileName,
		LangIn:     req.LangIn,
		LangOut:    req.LangOut,
		Service:    req.Service,
		Model:      req.ModelOverride,
		Thread:     req.ThreadCount,
		Shape:      shape.String(),
		Status:     store.StatusSucceeded,
		DurationMs: took.Milliseconds(),
		CreatedAt:  time.Now(),
	}
	if dispatchErr != nil {
		job.Status = store.StatusFailed
		job.Error = dispatchErr.Error()
	} else {
		job.MonoBytes = int64(len(result.Mono))
		job.DualBytes = int64(len(result.Dual))
	}
	s.runBackground(func(ctx context.Context) {
		if err := s.recorder.Record(ctx, job); err != nil {
			s.log.Error("failed to record job", err, logger.String("jobId", jobID))
		}
	})
}

func (s *Server) archiveResult(jobID string, req *types.TranslationRequest, result *types.TranslationResult) {
	if !s.archiver.Enabled() {
		return
	}
	artifacts := map[string][]byte{
		MonoFileName(req.FileName, req.LangOut): result.Mono,
		DualFileName(req.FileName, req.LangOut): result.Dual,
	}
	s.runBackground(func(ctx context.Context) {
		for name, data := range artifacts {
			if err := s.archiver.Save(ctx, jobID, name, data); err != nil {
				s.log.Error("failed to archive artifact", err,
					logger.String("jobId", jobID), logger.String("name", name))
			}
		}
	})
}
