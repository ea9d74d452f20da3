package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/wadahiro/authtester/internal/config"
	"github.com/wadahiro/authtester/internal/oauth"
	"github.com/wadahiro/authtester/internal/protocol"
	"github.com/wadahiro/authtester/internal/ui"
)

const defaultConfigPath = "config.toml"

func main() {
	configFlag := flag.String("config", "", "path to the TOML config file (default $CONFIG_FILE or config.toml)")
	healthcheck := flag.Bool("healthcheck", false, "probe $HEALTHCHECK_URL and exit 0 if healthy")
	flag.Parse()

	if *healthcheck {
		os.Exit(runHealthcheck())
	}

	configPath := *configFlag
	if configPath == "" {
		configPath = os.Getenv("CONFIG_FILE")
	}
	if configPath == "" {
		configPath = defaultConfigPath
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("Failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)
	slog.Info("Display timezone configured", "timezone", cfg.Location().String())

	httpClient, err := newHTTPClient(cfg)
	if err != nil {
		slog.Error("Failed to build HTTP client", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := oauth.NewClient(ctx, cfg.OAuth, httpClient)
	if err != nil {
		slog.Error("Failed to initialize OAuth client", "error", err)
		os.Exit(1)
	}
	ep := client.Endpoint()
	slog.Info("OAuth client configured",
		"client_id", cfg.OAuth.ClientID,
		"authorize_url", ep.AuthURL,
		"access_token_url", ep.TokenURL,
		"request_method", cfg.OAuth.RequestMethod,
		"callback_url", cfg.OAuth.CallbackURL)

	handler := oauth.NewHandler(cfg.OAuth, client, protocol.NewClaimFormatter(cfg.Location()))

	// Static file server for embedded assets
	staticFS, err := fs.Sub(ui.StaticFiles, "static")
	if err != nil {
		slog.Error("Failed to create static file sub", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))
	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// The callback blocks on the token endpoint for up to http_timeout.
		WriteTimeout: cfg.HTTPTimeout.Duration + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if cfg.TLSEnabled() {
			slog.Info("Listening (TLS)", "addr", cfg.ListenAddr)
			err = server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			slog.Info("Listening", "addr", cfg.ListenAddr)
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
	}
	slog.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped")
}

func runHealthcheck() int {
	healthURL := os.Getenv("HEALTHCHECK_URL")
	if healthURL == "" {
		healthURL = "http://localhost:8080/healthz"
	}
	transport := cleanhttp.DefaultTransport()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	client := &http.Client{Transport: transport, Timeout: 5 * time.Second}

	resp, err := client.Get(healthURL)
	if err != nil {
		return 1
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}

// newHTTPClient builds the outbound client used for discovery and token requests.
func newHTTPClient(cfg *config.Config) (*http.Client, error) {
	transport := cleanhttp.DefaultPooledTransport()

	if cfg.InsecureSkipVerify || cfg.CACertPath != "" {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		if cfg.CACertPath != "" {
			pem, err := os.ReadFile(cfg.CACertPath)
			if err != nil {
				return nil, fmt.Errorf("read ca_cert_path: %w", err)
			}
			pool, err := x509.SystemCertPool()
			if err != nil {
				pool = x509.NewCertPool()
			}
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("no certificates found in %s", cfg.CACertPath)
			}
			tlsConfig.RootCAs = pool
		}
		if cfg.InsecureSkipVerify {
			tlsConfig.InsecureSkipVerify = true
			slog.Warn("TLS certificate verification is disabled")
		}
		transport.TLSClientConfig = tlsConfig
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.HTTPTimeout.Duration,
	}, nil
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
}
