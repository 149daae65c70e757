package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/joshp123/nibebridge/internal/bridge"
	"github.com/joshp123/nibebridge/internal/config"
	"github.com/joshp123/nibebridge/internal/mqtt"
	"github.com/joshp123/nibebridge/internal/oauth"
	"github.com/joshp123/nibebridge/internal/poll"
	"github.com/joshp123/nibebridge/internal/rate"
	"github.com/joshp123/nibebridge/internal/server"
	"github.com/joshp123/nibebridge/internal/uplink"
)

func main() {
	configPath := flag.String("config", envOrDefault("NIBEBRIDGE_CONFIG", "/etc/nibebridge/config.yaml"),
		"path to the configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "nibebridge: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	bootstrap, err := oauth.LoadBootstrap(cfg.OAuth.BootstrapFile)
	if err != nil {
		return err
	}

	var blob oauth.BlobStore
	if cfg.OAuth.Blob != nil {
		store, err := oauth.NewS3Store(oauth.BlobConfig{
			Endpoint:      cfg.OAuth.Blob.Endpoint,
			Bucket:        cfg.OAuth.Blob.Bucket,
			Prefix:        cfg.OAuth.Blob.Prefix,
			Region:        cfg.OAuth.Blob.Region,
			AccessKeyFile: cfg.OAuth.Blob.AccessKeyFile,
			SecretKeyFile: cfg.OAuth.Blob.SecretKeyFile,
		})
		if err != nil {
			return fmt.Errorf("init credential mirror: %w", err)
		}
		blob = store
	}

	session, err := oauth.NewSession(oauth.Config{
		Bootstrap:    bootstrap,
		AuthorizeURL: cfg.OAuth.AuthorizeURL,
		TokenURL:     cfg.OAuth.TokenURL,
		RedirectURL:  cfg.OAuth.RedirectURL,
		Scopes:       cfg.OAuth.Scopes(),
		StatePath:    cfg.OAuth.StateFile,
		Blob:         blob,
		Logger:       log,
	})
	if errors.Is(err, oauth.ErrScopeMismatch) {
		return fmt.Errorf("stored credentials were granted different scopes; delete %s and re-authorize",
			cfg.OAuth.StateFile)
	}
	if err != nil {
		return err
	}
	correlator := oauth.NewCorrelator(session)

	httpClient := rate.WrapHTTP(rate.Limits{
		RequestsPerMinute: cfg.Uplink.RequestsPerMinute,
	}, &http.Client{Timeout: 15 * time.Second})
	client := uplink.NewClient(cfg.Uplink.BaseURL, session, httpClient)

	var alerter poll.Alerter
	var onChange func(uplink.SystemID)
	if cfg.MQTT != nil {
		publisher, err := mqtt.NewPublisher(mqtt.Config{
			BrokerURL:   cfg.MQTT.BrokerURL,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			Logger:      log,
		})
		if err != nil {
			return fmt.Errorf("connect mqtt broker: %w", err)
		}
		defer publisher.Close()
		alerter = publisher
		onChange = publisher.SystemChanged
	}

	watch := make(map[uplink.SystemID][]uplink.ParameterID, len(cfg.Systems))
	for _, sys := range cfg.Systems {
		ids := make([]uplink.ParameterID, 0, len(sys.Watch))
		for _, id := range sys.Watch {
			ids = append(ids, uplink.ParameterID(id))
		}
		watch[uplink.SystemID(sys.SystemID)] = ids
	}

	service, err := bridge.NewService(bridge.Config{
		API:          client,
		ScanInterval: cfg.Uplink.ScanInterval.Std(),
		Watch:        watch,
		Alerter:      alerter,
		OnChange:     onChange,
		Logger:       log,
	})
	if err != nil {
		return err
	}

	srv := server.New(server.Config{
		Addr:       cfg.Listen,
		Bridge:     service,
		Correlator: correlator,
		Session:    session,
		Logger:     log,
	})

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !session.Authorized() {
		log.Info("not authorized yet; visit /oauth/authorize to connect the account",
			zap.String("listen", cfg.Listen))
		select {
		case <-session.AuthorizedSignal():
			log.Info("authorization complete")
		case err := <-serveErr:
			return fmt.Errorf("http serve: %w", err)
		case <-ctx.Done():
			return shutdown(srv, nil, log)
		}
	}

	if err := service.Start(ctx); err != nil {
		_ = shutdown(srv, nil, log)
		return err
	}

	select {
	case err := <-serveErr:
		service.Stop()
		return fmt.Errorf("http serve: %w", err)
	case <-ctx.Done():
		return shutdown(srv, service, log)
	}
}

func shutdown(srv *server.Server, service *bridge.Service, log *zap.Logger) error {
	log.Info("shutting down")
	if service != nil {
		service.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
