package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/antonlok/aggregator-threadpool/internal/aggregator"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Builds the index and serves searches over HTTP",
		Long: `Starts the HTTP API right away and builds the index in the background.
/readyz reports 503 until the build has finished; /v1/search answers
queries once it has.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts, port)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides server.port)")
	return cmd
}

func runServe(ctx context.Context, opts *rootOptions, port int) error {
	a, logger, err := opts.setup(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a, logger)

	if port == 0 {
		port = a.Config().Server.Port
	}
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", port, err)
	}
	srv := &http.Server{
		Handler:           a.Server().Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return serve(ctx, srv, ln, logger, func(ctx context.Context) {
		_, err := a.Build(ctx)
		var listErr *aggregator.ListError
		if err != nil && !errors.As(err, &listErr) {
			logger.Error("index build failed", zap.Error(err))
			return
		}
		if _, err := a.Export(ctx); err != nil {
			logger.Warn("index export incomplete", zap.Error(err))
		}
	})
}

// serve runs srv on ln and build in the background until ctx is cancelled,
// then shuts the server down gracefully.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, logger *zap.Logger, build func(context.Context)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	buildDone := make(chan struct{})
	go func() {
		defer close(buildDone)
		build(ctx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	cancel()
	<-buildDone
	logger.Info("server stopped")
	return runErr
}
