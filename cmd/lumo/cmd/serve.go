package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lumoware/lumo/internal/config"
	"github.com/lumoware/lumo/internal/database"
	"github.com/lumoware/lumo/internal/ffmpeg"
	internalhttp "github.com/lumoware/lumo/internal/http"
	"github.com/lumoware/lumo/internal/metadata"
	"github.com/lumoware/lumo/internal/repository"
	"github.com/lumoware/lumo/internal/scanner"
	"github.com/lumoware/lumo/internal/scheduler"
	"github.com/lumoware/lumo/internal/streaming"
	"github.com/lumoware/lumo/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the lumo server",
	Long: `Start the lumo HTTP server.

The server provides:
- DASH streaming with on-the-fly transcoding
- Periodic library scanning and metadata matching
- Health check endpoint at /healthz`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("database", "lumo.db", "Database DSN")
	serveCmd.Flags().String("state-dir", "/var/lib/lumo/streams", "Directory for stream session state")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("database.dsn", serveCmd.Flags().Lookup("database"))
	mustBindPFlag("streaming.state_dir", serveCmd.Flags().Lookup("state-dir"))
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return err
	}

	libraryRepo := repository.NewLibraryRepository(db.DB)
	fileRepo := repository.NewMediaFileRepository(db.DB)

	prober := ffmpeg.NewProber(cfg.FFmpeg.FFprobeBin)

	enableHW := cfg.FFmpeg.EnableHWAccel
	if enableHW {
		detector := ffmpeg.NewHWAccelDetector(cfg.FFmpeg.FFmpegBin)
		ok, err := detector.Supports(cmd.Context(), ffmpeg.HWAccelVAAPI)
		if err != nil || !ok {
			logger.Warn("VAAPI unavailable in this ffmpeg build, hardware transcode disabled")
			enableHW = false
		}
	}

	manager := streaming.NewManager(streaming.Config{
		StateDir:         cfg.Streaming.StateDir,
		FFmpegBin:        cfg.FFmpeg.FFmpegBin,
		EnableHWAccel:    enableHW,
		HWDevice:         cfg.FFmpeg.HWAccelDevice,
		TargetGOP:        cfg.Streaming.TargetGOP,
		HardSeekDistance: uint32(cfg.Streaming.HardSeekDistance),
		MaxEncoders:      cfg.Streaming.EncoderSlots(),
		ReapInterval:     cfg.Streaming.ReapInterval,
		IdlePauseAfter:   cfg.Streaming.IdlePauseAfter,
		IdleDeleteAfter:  cfg.Streaming.IdleDeleteAfter,
		StderrRingSize:   int(cfg.Streaming.StderrRingSize),
		DefaultQuality:   cfg.Streaming.DefaultVideoQuality,
	}, logger)
	defer manager.Shutdown()

	sc := scanner.New(fileRepo, prober, logger)

	var matcher *metadata.Matcher
	if cfg.Metadata.TMDBAPIKey != "" {
		provider := metadata.NewTMDBProvider(cfg.Metadata.TMDBAPIKey, logger).
			WithLanguage(cfg.Metadata.Language).
			WithTimeout(cfg.Metadata.ProviderTimeout)
		matcher = metadata.NewMatcher(db.DB, provider, logger).
			WithLookupLimit(cfg.Metadata.MaxConcurrent)
	} else {
		logger.Warn("no TMDB API key configured, metadata matching disabled")
	}

	sched := scheduler.New(libraryRepo, sc, matcher, cfg.Library.ScanSchedule, logger)
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	streams := internalhttp.NewStreamHandler(manager, prober, fileRepo, logger)
	server := internalhttp.NewServer(cfg.Server, streams, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if cfg.Library.ScanOnStart {
		go sched.ScanAll(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logger.Info("lumo started",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.String("version", version.Version),
	)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		return err
	}

	cancel()
	return server.Shutdown(context.Background())
}
