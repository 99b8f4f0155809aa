// Package gateway serves the page state, relays lifecycle events to
// websocket clients and accepts listing commands.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/auctionsync/go/internal/auction/events"
)

// EventSource is where lifecycle events come from.
type EventSource interface {
	Subscribe(h events.Handler, types ...events.Type) func()
}

// Service is the gateway: connection fan-out plus the HTTP handlers.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	listingHandler    *ListingHandler
	stateHandler      *StateHandler
	source            EventSource
	types             []events.Type

	unsubscribe func()
}

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
	// Types limits the relayed events. Empty relays all but timer ticks.
	Types []events.Type
}

func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		Types: []events.Type{
			events.TypeCloseRequested,
			events.TypeClosed,
			events.TypeBidPlaced,
			events.TypeReloaded,
			events.TypeListingSynced,
		},
	}
}

func NewService(config Config, source EventSource, state StateProvider, runner ListingRunner, verifier TokenVerifier, now func() time.Time) *Service {
	connectionManager := NewConnectionManager(config.ConnectionConfig)

	return &Service{
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager),
		listingHandler:    NewListingHandler(runner, verifier),
		stateHandler:      NewStateHandler(state, now),
		source:            source,
		types:             config.Types,
	}
}

// Start relays events until ctx ends.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting auction gateway service")

	s.unsubscribe = s.source.Subscribe(func(e events.Event) {
		event := e
		s.connectionManager.BroadcastToAuction(e.AuctionID, &event)
	}, s.types...)

	go s.connectionManager.Start(ctx)

	<-ctx.Done()

	log.Info().Msg("auction gateway service shutting down")
	return s.Stop()
}

func (s *Service) Stop() error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	log.Info().Msg("auction gateway service stopped")
	return nil
}

func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.listingHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
	log.Info().Msg("auction gateway routes registered")
}

func (s *Service) GetStats() ConnectionStats {
	return s.connectionManager.GetConnectionStats()
}

// BroadcastEvent sends an event to an auction's listeners directly.
func (s *Service) BroadcastEvent(auctionID string, event *events.Event) {
	s.connectionManager.BroadcastToAuction(auctionID, event)
}
