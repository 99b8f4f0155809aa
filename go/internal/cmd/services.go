package main

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/auctionsync/go/clients"
	"github.com/mcdev12/auctionsync/go/clients/authority_client"
	"github.com/mcdev12/auctionsync/go/internal/auction/countdown"
	"github.com/mcdev12/auctionsync/go/internal/auction/events"
	"github.com/mcdev12/auctionsync/go/internal/auction/gateway"
	"github.com/mcdev12/auctionsync/go/internal/auction/metrics"
	"github.com/mcdev12/auctionsync/go/internal/auction/watcher"
	"github.com/mcdev12/auctionsync/go/internal/locale"
)

type Services struct {
	Authority *authority_client.AuthorityClient
	Signer    *authority_client.Signer
	Bus       *events.Bus
	Metrics   *metrics.Prometheus
	App       *watcher.App
	Gateway   *gateway.Service

	nats   *nats.Conn
	detach func()
}

func setupServices(ctx context.Context, config *Config) (*Services, error) {
	// Wire up dependency injection chain
	// Signer → Authority client → Watcher app → Gateway
	services := &Services{
		Bus:     events.NewBus(),
		Metrics: metrics.NewPrometheus(),
	}

	var tokens clients.TokenSource
	if config.JWTSecret != "" {
		signer, err := authority_client.NewSigner(config.JWTSecret, config.JWTIssuer, authority_client.DefaultTokenTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to create signer: %w", err)
		}
		services.Signer = signer
		tokens = signer
	} else {
		log.Warn().Msg("JWT_SECRET not set, authority requests are unsigned")
	}

	authorityConfig := authority_client.DefaultConfig(config.AuthorityURL)
	authorityConfig.AjaxPath = config.AjaxPath
	authorityConfig.FinishAuctionPath = config.FinishAuctionPath
	authorityConfig.PagePath = config.PagePath
	authorityConfig.RequestTimeout = config.RequestTimeout
	authorityConfig.RateLimitQPS = config.RateLimitQPS
	authorityConfig.RateLimitBurst = config.RateLimitBurst
	services.Authority = authority_client.NewAuthorityClient(authorityConfig, tokens)

	appConfig, err := buildAppConfig(config)
	if err != nil {
		return nil, err
	}
	appConfig.BidFeedTokens = tokens

	app, err := watcher.New(services.Authority, services.Bus, services.Metrics, clockwork.NewRealClock(), appConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	services.App = app

	var verifier gateway.TokenVerifier
	if config.GatewayAuth {
		verifier = services.Signer
	}
	services.Gateway = gateway.NewService(gateway.DefaultConfig(), services.Bus, app, app, verifier, nil)

	if config.NATSURL != "" {
		if err := services.connectNATS(ctx, config); err != nil {
			return nil, err
		}
	}

	return services, nil
}

func buildAppConfig(config *Config) (watcher.Config, error) {
	site, err := config.siteLocation()
	if err != nil {
		return watcher.Config{}, err
	}

	translator := locale.New(config.Locale)
	labels := translator.CountdownLabels()
	syncError := translator.SyncError()

	if config.LabelsFile != "" {
		overrides, err := loadLabels(config.LabelsFile)
		if err != nil {
			return watcher.Config{}, err
		}
		if overrides.Countdown != nil {
			labels = mergeLabels(labels, *overrides.Countdown)
		}
		if overrides.SyncError != "" {
			syncError = overrides.SyncError
		}
	}

	appConfig := watcher.DefaultConfig()
	appConfig.Countdown.CompactCounter = config.CompactCounter
	appConfig.Countdown.SiteLocation = site
	appConfig.Countdown.RecheckDelay = config.RecheckDelay
	appConfig.Countdown.Labels = labels
	appConfig.Closer.RequestTimeout = config.RequestTimeout
	appConfig.Listing.SearchDebounce = config.SearchDebounce
	appConfig.Listing.ErrorMessage = syncError
	appConfig.FollowBids = config.BidFeed
	appConfig.PublishTicks = config.PublishTicks

	log.Info().
		Str("locale", translator.Tag().String()).
		Str("site_timezone", site.String()).
		Bool("compact_counter", config.CompactCounter).
		Msg("countdown display configured")
	return appConfig, nil
}

func mergeLabels(base, override countdown.Labels) countdown.Labels {
	if override.Validate() == nil {
		base.Plural, base.Singular, base.Compact = override.Plural, override.Singular, override.Compact
	}
	if override.Checking != "" {
		base.Checking = override.Checking
	}
	if override.Started != "" {
		base.Started = override.Started
	}
	return base
}

func (s *Services) connectNATS(ctx context.Context, config *Config) error {
	nc, err := events.ConnectNATS(config.NATSURL)
	if err != nil {
		return err
	}
	s.nats = nc

	var conn events.Conn = nc
	if config.NATSJetStream {
		js, err := events.NewJetStreamConn(ctx, nc, config.NATSStream, config.NATSSubjectPrefix)
		if err != nil {
			nc.Close()
			return err
		}
		conn = js
	}

	s.detach = events.NewNATSBridge(conn, config.NATSSubjectPrefix).Attach(s.Bus)
	log.Info().
		Str("nats_url", config.NATSURL).
		Str("subject_prefix", config.NATSSubjectPrefix).
		Bool("jetstream", config.NATSJetStream).
		Msg("forwarding lifecycle events to NATS")
	return nil
}

func (s *Services) Close() {
	if s.detach != nil {
		s.detach()
	}
	if s.nats != nil {
		if err := s.nats.Drain(); err != nil {
			log.Error().Err(err).Msg("failed to drain NATS connection")
		}
	}
}
