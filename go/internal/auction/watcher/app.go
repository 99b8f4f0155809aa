// Package watcher wires the page, the countdown engine, the close trigger,
// the listing client and the bid feed into one running client.
package watcher

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/auctionsync/go/clients"
	"github.com/mcdev12/auctionsync/go/internal/auction/bidfeed"
	"github.com/mcdev12/auctionsync/go/internal/auction/closer"
	"github.com/mcdev12/auctionsync/go/internal/auction/countdown"
	"github.com/mcdev12/auctionsync/go/internal/auction/events"
	"github.com/mcdev12/auctionsync/go/internal/auction/listing"
	"github.com/mcdev12/auctionsync/go/internal/auction/metrics"
	"github.com/mcdev12/auctionsync/go/internal/page"
)

const emptyPage = "<html><head></head><body></body></html>"

// Authority is everything the client asks of the authority.
type Authority interface {
	closer.Authority
	listing.Dispatcher
	bidfeed.Resolver
	FetchPage(ctx context.Context) ([]byte, error)
}

type Config struct {
	Countdown countdown.Config
	Closer    closer.Config
	Listing   listing.Config
	BidFeed   bidfeed.Config
	// BidFeedTokens signs bid channel handshakes. Optional.
	BidFeedTokens clients.TokenSource
	// FollowBids subscribes to the bid channel of every auction on the page.
	FollowBids bool
	// PublishTicks emits a timer tick event for every rendered frame.
	PublishTicks bool
}

func DefaultConfig() Config {
	return Config{
		Countdown: countdown.DefaultConfig(),
		Closer:    closer.DefaultConfig(),
		Listing:   listing.DefaultConfig(),
		BidFeed:   bidfeed.DefaultConfig(),
	}
}

// App handles the client's lifecycle
type App struct {
	doc       *page.Document
	authority Authority
	bus       *events.Bus
	metrics   metrics.Collector
	config    Config

	engine  *countdown.Engine
	closer  *closer.Closer
	listing *listing.Client
	feed    *bidfeed.Feed

	ctx      context.Context
	closes   sync.WaitGroup
	reloadMu sync.Mutex
}

func New(authority Authority, bus *events.Bus, collector metrics.Collector, clock clockwork.Clock, config Config) (*App, error) {
	if collector == nil {
		collector = metrics.NoOp{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if bus == nil {
		bus = events.NewBus()
	}

	doc, err := page.NewFromString(emptyPage)
	if err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}

	a := &App{
		doc:       doc,
		authority: authority,
		bus:       bus,
		metrics:   collector,
		config:    config,
		ctx:       context.Background(),
	}

	a.engine = countdown.NewEngine(doc, clock, config.Countdown, a.onExpiry)
	a.engine.OnTick(a.onTick)
	a.closer = closer.New(doc, authority, a.engine, a, bus, collector, clock, config.Closer)
	a.listing = listing.NewClient(doc, authority, a.engine, bus, collector, clock, config.Listing)
	a.feed = bidfeed.New(authority, config.BidFeedTokens, bus, collector, clock, config.BidFeed)

	return a, nil
}

// Start loads the page and arms its countdowns. Close requests started by
// expiries run under ctx.
func (a *App) Start(ctx context.Context) error {
	a.ctx = ctx

	if err := a.load(ctx); err != nil {
		return err
	}
	armed := a.engine.Bootstrap()
	a.metrics.SetActiveTimers(a.engine.Active())
	a.followBids(ctx)

	log.Info().Int("armed", armed).Msg("auction client started")
	return nil
}

// Stop cancels every countdown and waits for close requests in flight.
func (a *App) Stop() {
	a.engine.Stop()
	a.feed.Close()
	a.closes.Wait()
	log.Info().Msg("auction client stopped")
}

// Reload replaces the page with a fresh copy and re-arms every countdown.
// Countdowns of auctionID that are already past their deadline stay expired
// until a later listing sync or reload replaces them.
func (a *App) Reload(ctx context.Context, auctionID, reason string) error {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	log.Info().Str("auction_id", auctionID).Str("reason", reason).Msg("reloading page")

	if err := a.load(ctx); err != nil {
		return err
	}
	armed := a.engine.Restart(auctionID)
	a.metrics.SetActiveTimers(a.engine.Active())
	a.followBids(a.ctx)

	a.bus.Emit(events.TypeReloaded, auctionID, events.ReloadedPayload{
		AuctionID: auctionID,
		Reason:    reason,
	})
	log.Info().Int("armed", armed).Msg("page reloaded")
	return nil
}

func (a *App) load(ctx context.Context) error {
	body, err := a.authority.FetchPage(ctx)
	if err != nil {
		return fmt.Errorf("load page: %w", err)
	}
	if err := a.doc.Reset(bytes.NewReader(body)); err != nil {
		return fmt.Errorf("load page: %w", err)
	}
	return nil
}

func (a *App) onExpiry(state countdown.State) {
	a.closes.Add(1)
	go func() {
		defer a.closes.Done()
		if _, err := a.closer.Close(a.ctx, state); err != nil {
			log.Error().Err(err).Str("auction_id", state.AuctionID).Msg("close cycle failed")
		}
		a.metrics.SetActiveTimers(a.engine.Active())
	}()
}

func (a *App) onTick(state countdown.State, snap countdown.Snapshot, frame countdown.Rendered) {
	if !a.config.PublishTicks {
		return
	}
	a.bus.Emit(events.TypeTimerTick, state.AuctionID, events.TimerTickPayload{
		AuctionID:        state.AuctionID,
		Days:             snap.Days,
		Hours:            snap.Hours,
		Minutes:          snap.Minutes,
		Seconds:          snap.Seconds,
		TimeRemainingSec: int(snap.Remaining.Seconds()),
		Text:             frame.Text,
	})
}

// followBids follows the bid channel of every auction on the page and drops
// the channels of auctions no longer shown.
func (a *App) followBids(ctx context.Context) {
	if !a.config.FollowBids {
		return
	}
	seen := make(map[string]bool)
	for _, c := range a.doc.Countdowns() {
		if c.AuctionID == "" || seen[c.AuctionID] {
			continue
		}
		seen[c.AuctionID] = true
		a.feed.Follow(ctx, c.AuctionID)
	}
	for _, id := range a.feed.Following() {
		if !seen[id] {
			a.feed.Unfollow(id)
		}
	}
}

// Following lists the auctions whose bid channels are followed.
func (a *App) Following() []string {
	return a.feed.Following()
}

// Run executes a listing action.
func (a *App) Run(ctx context.Context, req listing.SyncRequest) (listing.Result, error) {
	result, err := a.listing.Run(ctx, req)
	a.metrics.SetActiveTimers(a.engine.Active())
	if err == nil && result.Success {
		a.followBids(a.ctx)
	}
	return result, err
}

// Search runs a search for the term typed so far.
func (a *App) Search(ctx context.Context, term string) (listing.Result, error) {
	return a.listing.Search(ctx, term)
}

// HTML renders the current page.
func (a *App) HTML() (string, error) {
	return a.doc.HTML()
}

// Timers lists the live countdowns.
func (a *App) Timers() []countdown.State {
	return a.engine.Timers()
}

func (a *App) Document() *page.Document {
	return a.doc
}

func (a *App) Engine() *countdown.Engine {
	return a.engine
}
