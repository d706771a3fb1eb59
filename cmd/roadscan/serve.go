package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"roadscan/internal/adapters/cache"
	"roadscan/internal/adapters/detector"
	"roadscan/internal/adapters/detector/onnx"
	"roadscan/internal/adapters/detector/remote"
	"roadscan/internal/adapters/filestore"
	httpadapter "roadscan/internal/adapters/http"
	"roadscan/internal/adapters/mqtt"
	"roadscan/internal/catalog"
	"roadscan/internal/config"
	"roadscan/internal/observability"
	"roadscan/internal/ports"
	"roadscan/internal/services/detection"
	"roadscan/internal/services/history"
	"roadscan/internal/services/ingest"
	"roadscan/internal/workers/sweeper"
)

const shutdownTimeout = 15 * time.Second

func serveCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the detection HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), e.cfg, e.log)
		},
	}
	cmd.Flags().String("listen", "", "Listen address (default LISTEN_ADDR)")
	cmd.Flags().String("detector", "", "Detector backend: remote or onnx")
	bindFlags(e.v, cmd.Flags().Lookup, map[string]string{
		"listen_addr":      "listen",
		"detector_backend": "detector",
	})
	return cmd
}

func serve(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	images, err := filestore.New(cfg.UploadDir)
	if err != nil {
		return err
	}

	det, closeDetector, err := openDetector(ctx, cfg.Detector, log)
	if err != nil {
		return err
	}
	defer closeDetector()
	det = detector.Serialize(det, int64(cfg.Detector.Concurrency))

	var repo ports.DetectionRepository = st
	if cfg.StatsCacheTTL > 0 {
		repo = cache.Wrap(st, cfg.StatsCacheTTL)
	}

	metrics := observability.New()
	cat := catalog.Default()
	opts := []detection.Option{detection.WithMetrics(metrics), detection.WithLogger(log)}
	if cfg.MQTT.Broker != "" {
		pub, err := mqtt.Connect(ctx, mqtt.Config{Broker: cfg.MQTT.Broker, Topic: cfg.MQTT.Topic, ClientID: cfg.MQTT.ClientID}, log)
		if err != nil {
			log.Warn("mqtt publishing disabled", "broker", cfg.MQTT.Broker, "error", err)
		} else {
			defer pub.Close()
			opts = append(opts, detection.WithPublisher(pub))
		}
	}

	detections := detection.New(ingest.New(images), det, detection.NewRecorder(cat, repo), images, opts...)
	srv := httpadapter.New(detections, history.New(cat, repo), images, det, cat, metrics, log, httpadapter.Options{
		MaxUploadBytes: cfg.MaxUploadBytes,
		RequestTimeout: cfg.RequestTimeout,
		ModelPath:      cfg.Detector.ModelPath,
	})

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
	}
	if cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConns)
	}

	bgCtx, cancelBg := context.WithCancel(ctx)
	defer cancelBg()
	var sweepDone <-chan struct{}
	if cfg.SweepInterval > 0 {
		sw := &sweeper.Sweeper{Images: images, Refs: st, MinAge: cfg.SweepMinAge, Metrics: metrics, Log: log.With("component", "sweeper")}
		sweepDone = sw.Run(bgCtx, cfg.SweepInterval)
		log.Info("image sweeper started", "interval", cfg.SweepInterval, "min_age", cfg.SweepMinAge)
	}

	httpSrv := &http.Server{
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(log.Handler(), slog.LevelWarn),
	}
	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.Serve(ln) }()
	log.Info("listening", "addr", ln.Addr().String(), "env", cfg.Env, "store", cfg.StoreDriver, "detector", det.Info().Backend)

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown", "error", err)
	}
	cancelBg()
	if sweepDone != nil {
		<-sweepDone
	}
	return nil
}

func openDetector(ctx context.Context, cfg config.DetectorConfig, log *slog.Logger) (ports.Detector, func(), error) {
	switch cfg.Backend {
	case config.BackendONNX:
		d, err := onnx.Load(cfg.ModelPath, cfg.LibraryPath)
		if err != nil {
			return nil, nil, err
		}
		log.Info("onnx detector loaded", "model", cfg.ModelPath)
		return d, func() { d.Close() }, nil
	default:
		c, err := remote.New(cfg.InferenceURL, cfg.Timeout)
		if err != nil {
			return nil, nil, err
		}
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := c.CheckHealth(probeCtx); err != nil {
			log.Warn("inference service not reachable yet", "url", cfg.InferenceURL, "error", err)
		}
		return c, func() {}, nil
	}
}
