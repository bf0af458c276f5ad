package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"catalogizer/config"
	"catalogizer/database"
	"catalogizer/internal/discovery"
	"catalogizer/internal/fs"
	"catalogizer/internal/fswatch"
	"catalogizer/internal/item"
	"catalogizer/internal/mediaprober"
	"catalogizer/internal/metadatanalyzer"
	"catalogizer/internal/notify"
	"catalogizer/internal/parsercoordinator"
	"catalogizer/internal/parserpool"
	"catalogizer/internal/pipelinemetrics"
	"catalogizer/internal/thumbnail"
	"catalogizer/repository"
)

func main() {
	configPath := flag.String("config", "./catalogizer.json", "path to the pipeline's JSON configuration file")
	libraryRoot := flag.String("library", ".", "local directory to scan for media")
	deviceUUID := flag.String("device", "local-library", "device uuid backing the scanned library root")
	metricsAddr := flag.String("metrics-addr", ":9090", "address to serve Prometheus metrics on")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal("failed to run database migrations", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	metrics := pipelinemetrics.New(reg)

	hub := notify.NewHub()
	itemStore := item.NewStore()

	tasks := repository.NewTaskRepository(db)
	media := repository.NewMediaRepository(db)
	files := repository.NewFileRepository(db)
	tracks := repository.NewTrackRepository(db)
	artists := repository.NewArtistRepository(db)
	genres := repository.NewGenreRepository(db)
	albums := repository.NewAlbumRepository(db)
	albumTracks := repository.NewAlbumTrackRepository(db)
	shows := repository.NewShowRepository(db)
	showEpisodes := repository.NewShowEpisodeRepository(db)
	movies := repository.NewMovieRepository(db)
	playlists := repository.NewPlaylistRepository(db)
	thumbnails := repository.NewThumbnailRepository(db)
	folders := repository.NewFolderRepository(db)
	devices := repository.NewDeviceRepository(db)

	fsFactory := fs.NewFactory()
	fsFactory.Register("file", fs.NewLocalDialer(*libraryRoot))
	fsFactory.Register("smb", fs.NewSmbDialer())
	fsFactory.Register("ftp", fs.NewFtpDialer())
	fsFactory.Register("webdav", fs.NewWebdavDialer())

	deviceChecker := parsercoordinator.NewDeviceChecker(folders, devices)
	coordinator := parsercoordinator.New(tasks, hub, logger, metrics)

	proberService := mediaprober.NewService(mediaprober.NewFfprobeProber("", fsFactory), itemStore, logger)
	proberPool := parserpool.New(proberService, coordinator, deviceChecker, logger, cfg.Parser.MaxQueuedPerPool)

	analyzerDeps := metadatanalyzer.Deps{
		DB:           db,
		Tasks:        tasks,
		Media:        media,
		Files:        files,
		Tracks:       tracks,
		Artists:      artists,
		Genres:       genres,
		Albums:       albums,
		AlbumTracks:  albumTracks,
		Shows:        shows,
		ShowEpisodes: showEpisodes,
		Movies:       movies,
		Playlists:    playlists,
		Thumbnails:   thumbnails,
	}

	scanner, err := discovery.New(ctx, folders, devices, coordinator, logger, *deviceUUID, *libraryRoot, cfg.Catalog.ScannerConcurrency)
	if err != nil {
		logger.Fatal("failed to construct discovery scanner", zap.Error(err))
	}

	analyzerService := metadatanalyzer.NewService(analyzerDeps, itemStore, hub, logger, fsFactory, scanner)
	analyzerPool := parserpool.New(analyzerService, coordinator, deviceChecker, logger, cfg.Parser.MaxQueuedPerPool)

	thumbnailService := thumbnail.NewService(
		thumbnail.NewFfmpegGenerator("", ""),
		cfg.Catalog.ThumbnailDir,
		db, media, thumbnails, files, logger,
	)
	thumbnailPool := parserpool.New(thumbnailService, coordinator, deviceChecker, logger, cfg.Parser.MaxQueuedPerPool)

	coordinator.RegisterPool(proberService.Name(), proberPool)
	coordinator.RegisterPool(analyzerService.Name(), analyzerPool)
	coordinator.RegisterPool(thumbnailService.Name(), thumbnailPool)

	proberPool.Start(ctx)
	analyzerPool.Start(ctx)
	thumbnailPool.Start(ctx)

	coordinator.RestoreUncompleted(ctx)

	watcher, err := fswatch.New(devices, logger, map[string]int64{})
	if err != nil {
		logger.Warn("device presence watcher unavailable", zap.Error(err))
	} else {
		go watcher.Run(ctx)
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: *metricsAddr, Handler: metricsMux}
	go func() {
		logger.Info("serving pipeline metrics", zap.String("address", *metricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped unexpectedly", zap.Error(err))
		}
	}()

	logger.Info("scanning library root", zap.String("root", *libraryRoot))
	if err := scanner.Discover(ctx, nil); err != nil {
		logger.Error("initial library scan failed", zap.Error(err))
	}

	logger.Info("catalogizer ingestion pipeline running, press ctrl-c to stop")
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server forced to shutdown", zap.Error(err))
	}

	proberPool.Stop()
	analyzerPool.Stop()
	thumbnailPool.Stop()

	logger.Info("catalogizer stopped")
}

// buildLogger constructs a zap logger from the pipeline's own logging
// config (level/format), instead of a fixed zap.NewProduction(), so
// cfg.Logging actually drives the logger it names.
func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
