// Package app assembles the annotation service from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/hashicorp/go-multierror"
	"github.com/illmade-knight/go-annotationcache/pkg/config"
	"github.com/illmade-knight/go-annotationcache/pkg/fetchthrough"
	"github.com/illmade-knight/go-annotationcache/pkg/hotspot"
	"github.com/illmade-knight/go-annotationcache/pkg/metrics"
	"github.com/illmade-knight/go-annotationcache/pkg/microservice"
	"github.com/illmade-knight/go-annotationcache/pkg/rangecache"
	"github.com/illmade-knight/go-annotationcache/pkg/store"
	"github.com/illmade-knight/go-annotationcache/pkg/upstream"
	"github.com/illmade-knight/go-annotationcache/pkg/variant"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

// App holds the wired service and everything it must release on Close.
type App struct {
	Server   *microservice.AnnotationServer
	Variants *variant.Service
	Hotspots *hotspot.Service
	Registry *prometheus.Registry

	store   store.DocumentStore
	closers []io.Closer
	logger  zerolog.Logger
}

// Option customises New.
type Option func(*options)

type options struct {
	httpClient *http.Client
	store      store.DocumentStore
	source     upstream.SnapshotSource
}

// WithHTTPClient sets the client used for upstream requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithStore replaces the configured store. The App takes ownership of s.
func WithStore(s store.DocumentStore) Option {
	return func(o *options) { o.store = s }
}

// WithHotspotSource replaces the configured hotspot snapshot source.
func WithHotspotSource(src upstream.SnapshotSource) Option {
	return func(o *options) { o.source = src }
}

// New builds the App. On error every resource created so far is released.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts ...Option) (_ *App, err error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	a := &App{
		Registry: prometheus.NewRegistry(),
		logger:   logger.With().Str("component", "App").Logger(),
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(a.Registry)

	a.store = o.store
	if a.store == nil {
		a.store, err = store.New(ctx, cfg.Store, logger)
		if err != nil {
			return nil, err
		}
	}

	client := upstream.NewClient(cfg.Upstream, o.httpClient, logger)

	a.Variants, err = variant.NewService(cfg.Variant, a.store, client, logger, fetchthrough.WithMetrics(m))
	if err != nil {
		return nil, fmt.Errorf("variant service: %w", err)
	}

	source := o.source
	if source == nil {
		source, err = a.hotspotSource(ctx, cfg, client, logger)
		if err != nil {
			return nil, err
		}
	}
	a.Hotspots, err = hotspot.NewService(source, rangecache.Config{
		Name:            "hotspots",
		RefreshInterval: cfg.Hotspots.RefreshInterval,
	}, logger, rangecache.WithMetrics(m))
	if err != nil {
		return nil, fmt.Errorf("hotspot service: %w", err)
	}

	base := microservice.NewBaseServer(logger, cfg.HTTPPort, a.Registry)
	if p, ok := a.store.(store.Pinger); ok {
		base.AddReadinessCheck("store", p.Ping)
	}
	a.Server = microservice.NewAnnotationServer(base, a.Variants, a.Hotspots)

	a.logger.Info().
		Str("service", cfg.ServiceName).
		Str("store", cfg.Store.Backend).
		Str("variant_url", cfg.Variant.URL).
		Str("hotspots", fmt.Sprint(source)).
		Msg("Annotation service assembled.")
	return a, nil
}

func (a *App) hotspotSource(ctx context.Context, cfg *config.Config, client *upstream.Client, logger zerolog.Logger) (upstream.SnapshotSource, error) {
	if cfg.Hotspots.URL != "" {
		return upstream.NewHTTPSource(cfg.Hotspots.URL, client)
	}
	if cfg.Hotspots.GCS == nil {
		return nil, errors.New("no hotspot source configured")
	}
	gcs, err := upstream.NewStorageClient(ctx, cfg.CredentialsFile, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, gcs)
	return upstream.NewGCSSource(upstream.NewGCSClientAdapter(gcs), *cfg.Hotspots.GCS, logger)
}

// Start begins serving HTTP.
func (a *App) Start() error {
	return a.Server.Start()
}

// Shutdown stops the HTTP server and releases every resource.
func (a *App) Shutdown(ctx context.Context) error {
	var errs error
	if a.Server != nil {
		if err := a.Server.Shutdown(ctx); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := a.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs
}

// Close releases the store and any upstream clients. It is safe to call more
// than once.
func (a *App) Close() error {
	var errs error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("close store: %w", err))
		}
		a.store = nil
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	a.closers = nil
	return errs
}
