package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/relayforge/interceptproxy/internal/body"
	"github.com/relayforge/interceptproxy/internal/certauthority"
	"github.com/relayforge/interceptproxy/internal/certcache"
	"github.com/relayforge/interceptproxy/internal/config"
	"github.com/relayforge/interceptproxy/internal/control"
	"github.com/relayforge/interceptproxy/internal/dispatcher"
	"github.com/relayforge/interceptproxy/internal/listener"
	"github.com/relayforge/interceptproxy/internal/logging"
	"github.com/relayforge/interceptproxy/internal/metrics"
	"github.com/relayforge/interceptproxy/internal/tlsengine"
	"github.com/relayforge/interceptproxy/internal/upstream"
)

func newServeCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy listeners",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	return cmd
}

func runServe(parent context.Context, configPath string) error {
	startedAt := time.Now()
	control.Version = version

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := logging.Configure(cfg.LogLevel); err != nil {
		return fmt.Errorf("configuring logger: %w", err)
	}
	log := logging.Log()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	authority, err := buildAuthority(cfg)
	if err != nil {
		return err
	}

	store, err := buildCertStore(cfg)
	if err != nil {
		return err
	}

	engine, err := tlsengine.New(authority, store, authority.CertDER(), tlsengine.Options{
		MinTLSVersion:          cfg.TLS.MinTLSVersion,
		SkipUpstreamCertVerify: cfg.TLS.SkipUpstreamCertVerify,
	})
	if err != nil {
		return fmt.Errorf("building tls engine: %w", err)
	}

	upstreamOpts := upstream.Options{
		MaxIdlePerHost:       cfg.HTTPClient.MaxIdlePerHost,
		IdleTimeout:          time.Duration(cfg.HTTPClient.IdleTimeoutSecs) * time.Second,
		ConnectTimeout:       time.Duration(cfg.HTTPClient.ConnectTimeoutSecs) * time.Second,
		RequestTimeout:       time.Duration(cfg.HTTPClient.RequestTimeoutSecs) * time.Second,
		TCPKeepAlive:         cfg.HTTPClient.TCPKeepAlive,
		TCPKeepAliveInterval: time.Duration(cfg.HTTPClient.TCPKeepAliveIntSecs) * time.Second,
		NoDelay:              cfg.HTTPClient.NoDelay,
	}
	if cfg.Runtime.Mode == "multi_process" && cfg.Runtime.UseReuseport {
		upstreamOpts = upstreamOpts.TightenForSharedPort()
	}
	pool := upstream.New(upstreamOpts, engine.UpstreamTLSConfig)

	reg := metrics.NewRegistry(prometheus.DefaultRegisterer)

	sink := logging.NewSink(log, 4096)
	defer sink.Close()

	bodyPolicy := body.Policy{
		MaxLogBodySize:    cfg.Streaming.MaxLogBodySize,
		MaxPartialLogSize: cfg.Streaming.MaxPartialLogSize,
	}

	controlHandler := control.Handler(startedAt)
	d := dispatcher.New(pool, engine, bodyPolicy, sink, controlHandler, reg)

	group, gctx := errgroup.WithContext(ctx)

	plainLn, err := listener.Listen(gctx, cfg.ListenAddr, cfg.Runtime.UseReuseport)
	if err != nil {
		return fmt.Errorf("binding %s: %w", cfg.ListenAddr, err)
	}
	group.Go(func() error {
		return serveHTTP(gctx, plainLn, d)
	})

	log.Info("proxy listening",
		zap.String("addr", cfg.ListenAddr),
		zap.String("runtime_mode", cfg.Runtime.Mode),
	)

	<-gctx.Done()
	log.Info("shutting down", zap.Duration("grace_period", cfg.Runtime.ShutdownGracePeriod))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Runtime.ShutdownGracePeriod)
	defer cancel()
	_ = plainLn.Close()

	done := make(chan error, 1)
	go func() { done <- group.Wait() }()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
	case <-shutdownCtx.Done():
		log.Warn("shutdown grace period elapsed with connections still draining")
	}
	return nil
}

// serveHTTP runs the plaintext listener's accept loop through an
// http.Server so CONNECT requests can be hijacked by the dispatcher
// while absolute-form requests use the standard request/response path.
func serveHTTP(ctx context.Context, ln net.Listener, handler http.Handler) error {
	srv := &http.Server{Handler: handler}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func buildAuthority(cfg config.Config) (*certauthority.Authority, error) {
	opts := certauthority.Options{
		ValidityDays: cfg.TLS.CertValidityDays,
		Organization: cfg.TLS.CertOrganization,
		CommonName:   cfg.TLS.CertCommonName,
	}
	return certauthority.LoadOrGenerate(cfg.TLS.CACertPath, cfg.TLS.CAKeyPath, cfg.TLS.AutoGenerateCert, opts)
}

func buildCertStore(cfg config.Config) (certcache.Store, error) {
	switch cfg.TLS.CertificateStorage {
	case "remote":
		client, err := certcache.NewRedisClient(cfg.Redis.URL, cfg.Redis.PoolSize, cfg.Redis.ConnectionTimeout)
		if err != nil {
			return nil, fmt.Errorf("configuring redis client: %w", err)
		}
		return certcache.NewRedisStore(client, certcache.DefaultKeyPrefix), nil
	default:
		return certcache.NewMemoryStore(certcache.DefaultMaxEntries), nil
	}
}
