package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pdf-translate-api/internal/logger"
	"pdf-translate-api/internal/types"
)

const NativeEngineName = "native"

// NativeEngine translates PDFs without Python: rows are extracted with
// ledongthuc/pdf, translated through a Translator and stamped back with pdfcpu.
type NativeEngine struct {
	translator Translator
	cache      *TranslationCache
	opts       Options
	log        logger.Logger
}

func NewNativeEngine(translator Translator, cache *TranslationCache, opts Options, log logger.Logger) *NativeEngine {
	if cache == nil {
		cache = NewTranslationCache("")
	}
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	return &NativeEngine{translator: translator, cache: cache, opts: opts, log: log}
}

func (e *NativeEngine) Name() string { return NativeEngineName }

func (e *NativeEngine) Translate(ctx context.Context, data []byte, params Params) (*types.TranslationResult, error) {
	id := params.ServiceIdentifier()
	if !SupportsNativeService(id.Base) {
		return nil, fmt.Errorf("service %q is not available in the native engine", id.Base)
	}
	if !coreFontLanguages[params.LangOut] && !HasUnicodeFont(e.opts.FontName) {
		return nil, fmt.Errorf("target language %q needs a Unicode font in the native engine; set font_file", params.LangOut)
	}

	if err := os.MkdirAll(e.opts.WorkDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	jobDir, err := os.MkdirTemp(e.opts.WorkDir, "native-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create job dir: %w", err)
	}
	defer os.RemoveAll(jobDir)

	inputPath := filepath.Join(jobDir, "input.pdf")
	sourcePath := filepath.Join(jobDir, "source.pdf")
	monoPath := filepath.Join(jobDir, "mono.pdf")
	dualPath := filepath.Join(jobDir, "dual.pdf")

	if err := os.WriteFile(inputPath, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write input: %w", err)
	}
	pageCount, err := normalizePDF(inputPath, sourcePath)
	if err != nil {
		return nil, err
	}
	source, err := os.ReadFile(sourcePath)
	if err != nil {
		return nil, err
	}

	segments, _, err := ExtractSegments(source)
	if err != nil {
		return nil, err
	}
	e.log.Info("native translation started",
		logger.String("service", id.String()),
		logger.Int("pages", pageCount),
		logger.Int("segments", len(segments)),
		logger.Bool("layoutModel", params.Model.Available()))

	start := time.Now()
	translations, err := e.translateSegments(ctx, segments, params, id)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := stampTranslations(sourcePath, monoPath, segments, translations, e.opts.FontName); err != nil {
		return nil, err
	}
	if err := interleavePages(sourcePath, monoPath, dualPath, jobDir, pageCount); err != nil {
		return nil, err
	}

	mono, err := readArtifact(monoPath)
	if err != nil {
		return nil, err
	}
	dual, err := readArtifact(dualPath)
	if err != nil {
		return nil, err
	}

	if err := e.cache.Save(); err != nil {
		e.log.Warn("failed to persist translation cache", logger.Err(err))
	}
	e.log.Info("native translation finished",
		logger.Duration("took", time.Since(start)),
		logger.Int("translated", len(translations)))
	return &types.TranslationResult{Mono: mono, Dual: dual}, nil
}

// translateSegments translates each distinct row once, with at most
// params.ThreadCount requests in flight. The first failure cancels the rest.
func (e *NativeEngine) translateSegments(ctx context.Context, segments []Segment, params Params, id types.ServiceIdentifier) (map[string]string, error) {
	results := make(map[string]string)
	var mu sync.Mutex

	limit := params.ThreadCount
	if limit < 1 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	seen := make(map[string]bool)
	for _, seg := range segments {
		text := seg.Text
		if seen[text] {
			continue
		}
		seen[text] = true

		key := CacheKey{LangIn: params.LangIn, LangOut: params.LangOut, Service: id.String(), Text: text}
		if cached, ok := e.cache.Get(key); ok {
			mu.Lock()
			results[text] = cached
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			translated, err := e.translator.TranslateText(gctx, TextRequest{
				Text:    text,
				LangIn:  params.LangIn,
				LangOut: params.LangOut,
				Service: id,
				Prompt:  params.PromptCallback,
			})
			if err != nil {
				return fmt.Errorf("segment translation failed: %w", err)
			}
			e.cache.Set(key, translated)
			mu.Lock()
			results[text] = translated
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
