// Package bidfeed follows the authority's per-auction bid channels and
// republishes every bid as a lifecycle event.
package bidfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/auctionsync/go/clients"
	"github.com/mcdev12/auctionsync/go/internal/auction/events"
	"github.com/mcdev12/auctionsync/go/internal/auction/metrics"
)

// Resolver maps an auction to its channel url.
type Resolver interface {
	BidFeedURL(auctionID string) (string, error)
}

// Publisher receives lifecycle notifications.
type Publisher interface {
	Emit(t events.Type, auctionID string, payload interface{})
}

type Config struct {
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	MaxMessageSize   int64
}

func DefaultConfig() Config {
	return Config{
		ReconnectDelay:   5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		MaxMessageSize:   64 * 1024,
	}
}

type Feed struct {
	resolver  Resolver
	tokens    clients.TokenSource
	publisher Publisher
	metrics   metrics.Collector
	clock     clockwork.Clock
	config    Config
	dialer    *websocket.Dialer

	mu      sync.Mutex
	running map[string]*follower
	wg      sync.WaitGroup
}

type follower struct {
	cancel context.CancelFunc
}

func New(resolver Resolver, tokens clients.TokenSource, publisher Publisher, collector metrics.Collector, clock clockwork.Clock, config Config) *Feed {
	if collector == nil {
		collector = metrics.NoOp{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = DefaultConfig().ReconnectDelay
	}
	return &Feed{
		resolver:  resolver,
		tokens:    tokens,
		publisher: publisher,
		metrics:   collector,
		clock:     clock,
		config:    config,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
		},
		running: make(map[string]*follower),
	}
}

// Follow starts following an auction's channel in the background. Following
// an auction twice is a no-op.
func (f *Feed) Follow(ctx context.Context, auctionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.running[auctionID]; ok {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	fl := &follower{cancel: cancel}
	f.running[auctionID] = fl

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer f.forget(auctionID, fl)
		if err := f.Run(ctx, auctionID); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Str("auction_id", auctionID).Msg("bid feed stopped")
		}
	}()
}

// Unfollow stops following an auction.
func (f *Feed) Unfollow(auctionID string) {
	f.mu.Lock()
	fl, ok := f.running[auctionID]
	delete(f.running, auctionID)
	f.mu.Unlock()
	if ok {
		fl.cancel()
		log.Debug().Str("auction_id", auctionID).Msg("stopped following bid feed")
	}
}

// Following lists the auctions currently followed.
func (f *Feed) Following() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.running))
	for id := range f.running {
		out = append(out, id)
	}
	return out
}

// Close stops every follower and waits for them to exit.
func (f *Feed) Close() {
	f.mu.Lock()
	for _, fl := range f.running {
		fl.cancel()
	}
	f.mu.Unlock()
	f.wg.Wait()
}

// forget drops fl once its goroutine exits, unless a newer follower took its
// place.
func (f *Feed) forget(auctionID string, fl *follower) {
	fl.cancel()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running[auctionID] == fl {
		delete(f.running, auctionID)
	}
}

// Run follows one auction's channel until ctx ends, reconnecting after a
// fixed delay whenever the connection drops.
func (f *Feed) Run(ctx context.Context, auctionID string) error {
	url, err := f.resolver.BidFeedURL(auctionID)
	if err != nil {
		return fmt.Errorf("resolve bid feed for %s: %w", auctionID, err)
	}

	for {
		if err := f.session(ctx, auctionID, url); err != nil && ctx.Err() == nil {
			log.Warn().
				Err(err).
				Str("auction_id", auctionID).
				Dur("retry_in", f.config.ReconnectDelay).
				Msg("bid feed disconnected")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.clock.After(f.config.ReconnectDelay):
		}
	}
}

func (f *Feed) session(ctx context.Context, auctionID, url string) error {
	header := http.Header{}
	if f.tokens != nil {
		token, err := f.tokens.Token()
		if err != nil {
			return fmt.Errorf("sign bid feed request: %w", err)
		}
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := f.dialer.DialContext(ctx, url, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	if f.config.MaxMessageSize > 0 {
		conn.SetReadLimit(f.config.MaxMessageSize)
	}

	log.Info().Str("auction_id", auctionID).Str("url", url).Msg("bid feed connected")

	// Unblock ReadMessage when ctx ends.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read bid message: %w", err)
		}
		f.handle(auctionID, data)
	}
}

func (f *Feed) handle(auctionID string, data []byte) {
	bid, ok, err := Decode(auctionID, data)
	if err != nil {
		log.Warn().Err(err).Str("auction_id", auctionID).Msg("skipping undecodable bid message")
		return
	}
	if !ok {
		logOther(auctionID, data)
		return
	}
	if bid.CreatedAt.IsZero() {
		bid.CreatedAt = f.clock.Now().UTC()
	}

	f.metrics.RecordBid(auctionID)
	if f.publisher != nil {
		f.publisher.Emit(events.TypeBidPlaced, auctionID, bid)
	}
	log.Debug().
		Str("auction_id", auctionID).
		Str("username", bid.Username).
		Str("amount", bid.Amount).
		Msg("bid relayed")
}

func logOther(auctionID string, data []byte) {
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		return
	}
	switch m.Type {
	case messageAuctionState:
		log.Debug().
			Str("auction_id", auctionID).
			Str("status", m.Status).
			Str("current_price", m.CurrentPrice).
			Msg("auction state received")
	case messageError:
		log.Warn().Str("auction_id", auctionID).Str("message", m.Message).Msg("bid channel reported an error")
	default:
		log.Debug().Str("auction_id", auctionID).Str("type", m.Type).Msg("ignoring bid channel message")
	}
}
