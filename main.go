package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/gin-gonic/gin"

	"pdf-translate-api/internal/archive"
	"pdf-translate-api/internal/config"
	"pdf-translate-api/internal/dispatch"
	"pdf-translate-api/internal/engine"
	"pdf-translate-api/internal/logger"
	"pdf-translate-api/internal/models"
	"pdf-translate-api/internal/python"
	"pdf-translate-api/internal/server"
	"pdf-translate-api/internal/store"
	"pdf-translate-api/internal/types"
)

// Command line flags
var (
	configFlag = flag.String("config", "", "Path to the JSON config file (default ~/.config/pdf-translate-api/config.json)")
	addrFlag   = flag.String("addr", "", "Listen address, overrides the config file (e.g. :11008)")
	engineFlag = flag.String("engine", "", "Translation engine: pdf2zh or native")
	debugFlag  = flag.Bool("debug", false, "Enable debug logging")
)

const shutdownTimeout = 30 * time.Second

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pdf-translate-api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cm, err := config.NewConfigManager(*configFlag)
	if err != nil {
		return err
	}
	if err := cm.Load(); err != nil {
		return err
	}
	cfg := cm.GetConfig()
	if *addrFlag != "" {
		cfg.ListenAddr = *addrFlag
	}
	if *engineFlag != "" {
		cfg.Engine = *engineFlag
		if err := config.Validate(cfg); err != nil {
			return err
		}
	}

	if err := initLogger(cfg); err != nil {
		return err
	}
	defer logger.Close()
	log := logger.GetLogger()
	log.Info("starting "+server.ServiceName,
		logger.String("version", server.Version),
		logger.String("config", cm.GetConfigPath()),
		logger.String("settings", cm.String()))

	// The layout model is loaded once before serving; failure degrades to
	// the unavailable marker instead of aborting.
	model, err := models.LoadAvailable(models.Config{
		ModelPath:         cfg.ModelPath,
		SharedLibraryPath: cfg.OnnxRuntimeLib,
	})
	if err != nil {
		log.Warn("layout model not loaded, translating without it", logger.Err(err))
		model = models.Unavailable(err)
	}
	defer model.Close()

	py := python.New(python.Config{PythonPath: cfg.PythonPath})
	eng, err := engine.New(cfg.Engine, engine.OptionsFromConfig(cfg, cm.WorkDir()), py, log)
	if err != nil {
		return err
	}
	if cfg.Engine == config.EnginePdf2zh {
		checkPdf2zh(py, log)
	}

	d := dispatch.New(eng, model, dispatch.Options{
		MaxConcurrent: cfg.MaxConcurrent,
		MaxQueued:     cfg.MaxQueued,
		Timeout:       cm.RequestTimeout(),
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	recorder, closeStore, err := openRecorder(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	archiver, closeArchive, err := openArchiver(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeArchive()

	gin.SetMode(gin.ReleaseMode)
	srv := server.New(d, recorder, archiver, server.Options{
		MaxUploadBytes: cfg.MaxUploadBytes,
		CORSOrigins:    cfg.CORSOrigins,
	}, log)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(cfg.ListenAddr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown incomplete", err)
	}
	return <-errCh
}

func initLogger(cfg *types.Config) error {
	lc := logger.DefaultConfig()
	lc.FilePath = cfg.LogFile
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	lc.Level = level
	if *debugFlag {
		lc.Level = logger.LevelDebug
	}
	return logger.Init(lc)
}

func checkPdf2zh(py *python.Env, log logger.Logger) {
	path, err := py.PythonPath()
	if err != nil {
		log.Warn("no python interpreter found, pdf2zh translations will fail", logger.Err(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if !py.HasModule(ctx, "pdf2zh") {
		log.Warn("pdf2zh is not importable", logger.String("python", path))
		return
	}
	log.Info("pdf2zh available", logger.String("python", path))
}

func openRecorder(ctx context.Context, cfg *types.Config, log logger.Logger) (store.Recorder, func(), error) {
	if cfg.DatabaseURL == "" {
		return store.Nop{}, func() {}, nil
	}
	repo, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("job store: %w", err)
	}
	dialect, _ := store.ParseDSN(cfg.DatabaseURL)
	log.Info("job audit enabled", logger.String("dialect", string(dialect)))
	return repo, func() { _ = repo.Close() }, nil
}

func openArchiver(ctx context.Context, cfg *types.Config, log logger.Logger) (archive.Archiver, func(), error) {
	switch {
	case cfg.ArchiveBucket != "":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("storage client: %w", err)
		}
		log.Info("artifact archive enabled", logger.String("bucket", cfg.ArchiveBucket))
		return archive.NewGCSArchiver(client, cfg.ArchiveBucket, log), func() { _ = client.Close() }, nil
	case cfg.ArchiveDir != "":
		a, err := archive.NewDirArchiver(cfg.ArchiveDir)
		if err != nil {
			return nil, nil, fmt.Errorf("archive directory: %w", err)
		}
		log.Info("artifact archive enabled", logger.String("dir", a.BaseDir()))
		return a, func() {}, nil
	default:
		return archive.Nop{}, func() {}, nil
	}
}
