package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/docbro/docbro/internal/logger"
	"github.com/docbro/docbro/pkg/metrics"
	"github.com/docbro/docbro/pkg/rpc"
)

var (
	serveAddr       string
	serveProfile    string
	serveRPCTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the JSON-RPC server",
	Long: `Run the JSON-RPC server over HTTP.

The server exposes project and upload methods at POST /rpc, a health check
at GET /healthz and Prometheus metrics at GET /metrics.

Examples:
  # Serve on the default port
  docbro serve

  # Serve on a custom address with the admin capability profile
  docbro serve --addr :9382 --profile admin`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":9382", "listen address")
	serveCmd.Flags().StringVar(&serveProfile, "profile", "read_only", "capability profile: read_only or admin")
	serveCmd.Flags().DurationVar(&serveRPCTimeout, "rpc-timeout", 30*time.Second, "per-request deadline (0 disables)")
}

func capabilityProfile(name string) (rpc.ServerCapabilities, error) {
	switch name {
	case "read_only", "default_read_only":
		return rpc.DefaultReadOnlyCapabilities(), nil
	case "admin", "default_admin":
		return rpc.DefaultAdminCapabilities(), nil
	}
	return rpc.ServerCapabilities{}, fmt.Errorf("unknown capability profile %q", name)
}

func runServe(cmd *cobra.Command, _ []string) error {
	caps, err := capabilityProfile(serveProfile)
	if err != nil {
		return err
	}

	a, err := newApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	a.resolver.Watch()
	a.uploads.StartJanitor(time.Hour)
	defer a.uploads.StopJanitor()

	m := metrics.New()
	m.Attach(a.uploads.Reporter())

	server := rpc.NewServer(
		rpc.ServerInfo{Name: "docbro", Version: Version},
		caps,
		rpc.LogNotifier{},
	)
	server.SetRequestTimeout(serveRPCTimeout)
	rpc.RegisterProjectMethods(server, a.projects)
	rpc.RegisterUploadMethods(server, a.uploads)

	mux := chi.NewRouter()
	mux.Mount("/", rpc.NewHTTPHandler(server))
	mux.Handle("/metrics", m.Handler())

	httpServer := &http.Server{
		Addr:              serveAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- httpServer.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("rpc server listening", "addr", serveAddr, "profile", serveProfile)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		logger.Info("server stopped")
		return nil
	case err := <-serverDone:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
