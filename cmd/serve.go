package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ptz-panel/internal/config"
	"ptz-panel/internal/isapi"
	"ptz-panel/internal/motion"
	"ptz-panel/internal/panel"
	"ptz-panel/internal/server"
	"ptz-panel/internal/settings"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control panel server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()
		return serve(cmd.Context(), cfg, log)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Settings, log)
	if err != nil {
		return err
	}
	defer store.Close()

	mgr := settings.NewManager(store, log)
	mgr.Load(ctx)

	srv := server.New(server.Config{
		ListenAddr:     cfg.Listen,
		StaticDir:      cfg.StaticDir,
		AllowedOrigins: cfg.AllowedOrigins,
		MessageRate:    cfg.Session.MessageRate,
		MessageBurst:   cfg.Session.MessageBurst,
		Panel:          panelConfig(cfg),
	}, panel.ISAPIFactory(isapi.Config{Timeout: cfg.Device.Timeout}, log), mgr, log)

	log.Info("PTZ control panel",
		zap.String("listen", cfg.Listen),
		zap.String("proxy", cfg.ProxyAddress),
		zap.Strings("cameras", cfg.Cameras),
		zap.String("settings", cfg.Settings.Backend))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	return g.Wait()
}

func panelConfig(cfg *config.Config) panel.Config {
	return panel.Config{
		Proxy:   cfg.ProxyAddress,
		Cameras: cfg.Cameras,
		Rotation: motion.RotationConfig{
			Speed:    cfg.Motion.RotationSpeed,
			Interval: cfg.Motion.RotationInterval,
			InvertX:  cfg.Motion.InvertX,
			InvertY:  cfg.Motion.InvertY,
		},
		Zoom: motion.ZoomConfig{Interval: cfg.Motion.ZoomInterval},
	}
}

func openStore(ctx context.Context, cfg config.SettingsConfig, log *zap.Logger) (settings.Store, error) {
	switch cfg.Backend {
	case config.BackendFile:
		return settings.NewFileStore(cfg.Path, log), nil
	case config.BackendRedis:
		return settings.NewRedisStore(ctx, settings.RedisConfig{
			Addr:      cfg.RedisAddress,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisPrefix,
		}, log), nil
	case config.BackendMemory:
		return settings.NewMemStore(), nil
	}
	return nil, fmt.Errorf("unknown settings backend %q", cfg.Backend)
}
