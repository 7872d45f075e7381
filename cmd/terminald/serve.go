package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/terminald/internal/metrics"
	"github.com/srg/terminald/internal/service"
	"github.com/srg/terminald/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the terminal service",
	Long: `Runs the terminal service on a Unix socket.

Examples:
  # Serve on the configured socket
  terminald serve

  # Also accept masters and slaves over websockets and expose metrics
  terminald serve --ws :7681 --metrics :9100

Configuration is read from --config and TERMINALD_* environment variables;
flags take precedence.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveWebSocketAddr string
	serveMetricsAddr   string
	serveVerbose       bool
)

func init() {
	serveCmd.Flags().StringVar(&serveWebSocketAddr, "ws", "", "Websocket listen address (overrides the configuration)")
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics", "", "Metrics listen address (overrides the configuration)")
	serveCmd.Flags().BoolVar(&serveVerbose, "verbose", false, "Enable debug logging")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if serveWebSocketAddr != "" {
		cfg.WebSocketAddr = serveWebSocketAddr
	}
	if serveMetricsAddr != "" {
		cfg.MetricsAddr = serveMetricsAddr
	}

	logger, err := configureLogger(cmd, "verbose", cfg.Level())
	if err != nil {
		return err
	}

	m := metrics.New()
	svc, err := service.New(service.Options{
		Sessions:          session.NewHost(logger),
		Metrics:           m,
		Logger:            logger,
		QueueCapacity:     cfg.QueueCapacity,
		CompressThreshold: cfg.CompressThreshold,
	})
	if err != nil {
		return err
	}

	ln, err := listenUnix(cfg.Socket)
	if err != nil {
		return err
	}
	defer os.Remove(cfg.Socket)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 3)
	go func() { errs <- svc.Serve(ln) }()

	var servers []*http.Server
	if cfg.WebSocketAddr != "" {
		servers = append(servers, startHTTP(cfg.WebSocketAddr, svc.WebSocketHandler(), "websocket", logger, errs))
	}
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		servers = append(servers, startHTTP(cfg.MetricsAddr, mux, "metrics", logger, errs))
	}

	logger.WithField("socket", cfg.Socket).Info("terminald is running")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case runErr = <-errs:
		logger.WithError(runErr).Error("Listener failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("HTTP shutdown failed")
		}
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Service shutdown timed out")
	}

	return runErr
}

// listenUnix listens on path, replacing a stale socket left by a previous
// run. A live socket is an error.
func listenUnix(path string) (net.Listener, error) {
	if fi, err := os.Stat(path); err == nil && fi.Mode()&os.ModeSocket != 0 {
		conn, dialErr := net.DialTimeout("unix", path, time.Second)
		if dialErr == nil {
			_ = conn.Close()
			return nil, fmt.Errorf("another terminald is listening on %s", path)
		}
		_ = os.Remove(path)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", path, err)
	}
	return ln, nil
}

func startHTTP(addr string, handler http.Handler, name string, logger *logrus.Logger, errs chan<- error) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithFields(logrus.Fields{"addr": addr, "listener": name}).Info("Listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("%s listener: %w", name, err)
		}
	}()
	return srv
}
