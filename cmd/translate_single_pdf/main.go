package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"pdf-translate-api/internal/client"
	"pdf-translate-api/internal/config"
	"pdf-translate-api/internal/engine"
	"pdf-translate-api/internal/logger"
	"pdf-translate-api/internal/models"
	"pdf-translate-api/internal/python"
	"pdf-translate-api/internal/server"
	"pdf-translate-api/internal/types"
	"pdf-translate-api/internal/validator"
)

var (
	configFlag  = flag.String("config", "", "Path to the JSON config file")
	langInFlag  = flag.String("lang-in", validator.DefaultLangIn, "Source language code")
	langOutFlag = flag.String("lang-out", validator.DefaultLangOut, "Target language code")
	serviceFlag = flag.String("service", validator.DefaultService, "Translation service, optionally service:model")
	threadFlag  = flag.Int("thread", validator.DefaultThreadCount, "Parallel translation requests inside the engine")
	modelFlag   = flag.String("model", "", "Model name override for LLM services")
	promptFlag  = flag.String("prompt", "", "Custom prompt template using ${lang_in}, ${lang_out} and ${text}")
	serverFlag  = flag.String("server", "", "Send the file to a running server instead of translating locally (e.g. http://localhost:11008)")
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: translate_single_pdf [flags] <input.pdf>")
	fmt.Fprintln(os.Stderr)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}
	if err := run(flag.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(inputPDF string) error {
	data, err := os.ReadFile(inputPDF)
	if err != nil {
		return fmt.Errorf("PDF not found: %w", err)
	}
	req := &types.TranslationRequest{
		FileBytes:      data,
		FileName:       filepath.Base(inputPDF),
		LangIn:         *langInFlag,
		LangOut:        *langOutFlag,
		Service:        *serviceFlag,
		ThreadCount:    *threadFlag,
		ModelOverride:  *modelFlag,
		PromptCallback: *promptFlag,
	}
	if err := validator.Validate(req); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Input:   %s\n", inputPDF)
	fmt.Printf("Service: %s (%s -> %s)\n", req.Service, req.LangIn, req.LangOut)

	start := time.Now()
	var result *types.TranslationResult
	if *serverFlag != "" {
		result, err = translateRemote(ctx, req)
	} else {
		result, err = translateLocal(ctx, req)
	}
	if err != nil {
		return err
	}

	dir := filepath.Dir(inputPDF)
	monoPath := filepath.Join(dir, server.MonoFileName(req.FileName, req.LangOut))
	dualPath := filepath.Join(dir, server.DualFileName(req.FileName, req.LangOut))
	if err := os.WriteFile(monoPath, result.Mono, 0644); err != nil {
		return err
	}
	if err := os.WriteFile(dualPath, result.Dual, 0644); err != nil {
		return err
	}

	fmt.Printf("\n=== Translation Complete (%s) ===\n", time.Since(start).Round(time.Second))
	fmt.Printf("Mono: %s (%d bytes)\n", monoPath, len(result.Mono))
	fmt.Printf("Dual: %s (%d bytes)\n", dualPath, len(result.Dual))
	return nil
}

func translateRemote(ctx context.Context, req *types.TranslationRequest) (*types.TranslationResult, error) {
	fmt.Printf("Server:  %s\n", *serverFlag)
	c := client.New(*serverFlag, 0)
	res, err := c.Translate(ctx, req.FileName, req.FileBytes, client.Params{
		LangIn:   req.LangIn,
		LangOut:  req.LangOut,
		Service:  req.Service,
		Thread:   req.ThreadCount,
		Model:    req.ModelOverride,
		Callback: req.PromptCallback,
	})
	if err != nil {
		return nil, err
	}
	return &types.TranslationResult{Mono: res.Mono, Dual: res.Dual}, nil
}

func translateLocal(ctx context.Context, req *types.TranslationRequest) (*types.TranslationResult, error) {
	cm, err := config.NewConfigManager(*configFlag)
	if err != nil {
		return nil, err
	}
	if err := cm.Load(); err != nil {
		return nil, err
	}
	cfg := cm.GetConfig()

	lc := logger.DefaultConfig()
	lc.Level = logger.LevelWarn
	if err := logger.Init(lc); err != nil {
		return nil, err
	}
	defer logger.Close()
	log := logger.GetLogger()

	model, err := models.LoadAvailable(models.Config{ModelPath: cfg.ModelPath, SharedLibraryPath: cfg.OnnxRuntimeLib})
	if err != nil {
		model = models.Unavailable(err)
	}
	defer model.Close()
	fmt.Printf("Engine:  %s (layout model: %v)\n", cfg.Engine, model.Available())

	py := python.New(python.Config{PythonPath: cfg.PythonPath})
	eng, err := engine.New(cfg.Engine, engine.OptionsFromConfig(cfg, cm.WorkDir()), py, log)
	if err != nil {
		return nil, err
	}

	if timeout := cm.RequestTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	result, err := eng.Translate(ctx, req.FileBytes, engine.BuildParams(req, model))
	if err != nil {
		return nil, types.NewTranslationFailed(err)
	}
	if !result.Complete() {
		return nil, types.NewTranslationFailed(fmt.Errorf("engine returned an incomplete result"))
	}
	return result, nil
}
