// Package countdown keeps one live timer per countdown element on a page and
// reports each auction's expiry exactly once.
package countdown

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"

	"github.com/mcdev12/auctionsync/go/internal/page"
)

var ErrNilElement = errors.New("countdown element is nil")

// Config holds the engine's display and cadence settings.
type Config struct {
	Tick           time.Duration
	DefaultFormat  string
	CompactCounter bool
	SiteLocation   *time.Location
	// RecheckDelay is the minimum wait before a resumed countdown may expire
	// again, so an auction the authority reports as running is not re-closed
	// on the very next tick.
	RecheckDelay time.Duration
	Labels       Labels
}

func DefaultConfig() Config {
	return Config{
		Tick:          time.Second,
		DefaultFormat: DefaultFormat,
		SiteLocation:  time.UTC,
		RecheckDelay:  5 * time.Second,
		Labels:        DefaultLabels(),
	}
}

// State is the timer state of one countdown element.
type State struct {
	AuctionID string     `json:"auction_id"`
	Deadline  time.Time  `json:"deadline"`
	Format    string     `json:"format"`
	Compact   bool       `json:"compact"`
	Future    bool       `json:"future"`
	Main      bool       `json:"main"`
	Expired   bool       `json:"expired"`
	Node      *html.Node `json:"-"`
}

// ExpiryFunc is called once per element when its countdown reaches zero.
type ExpiryFunc func(State)

// TickFunc observes every rendered frame.
type TickFunc func(State, Snapshot, Rendered)

type timer struct {
	state  State
	layout Layout
	ticker clockwork.Ticker
	stop   chan struct{}
	done   bool // guarded by Engine.mu
}

type Engine struct {
	doc      *page.Document
	clock    clockwork.Clock
	config   Config
	onExpiry ExpiryFunc
	onTick   TickFunc

	mu      sync.Mutex
	timers  map[*html.Node]*timer
	expired map[*html.Node]struct{}
}

func NewEngine(doc *page.Document, clock clockwork.Clock, config Config, onExpiry ExpiryFunc) *Engine {
	if config.Tick <= 0 {
		config.Tick = time.Second
	}
	if config.DefaultFormat == "" {
		config.DefaultFormat = DefaultFormat
	}
	if config.SiteLocation == nil {
		config.SiteLocation = time.UTC
	}
	config.Labels = config.Labels.withDefaults()
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Engine{
		doc:      doc,
		clock:    clock,
		config:   config,
		onExpiry: onExpiry,
		timers:   make(map[*html.Node]*timer),
		expired:  make(map[*html.Node]struct{}),
	}
}

// OnTick registers a frame observer. Call before arming anything.
func (e *Engine) OnTick(fn TickFunc) {
	e.onTick = fn
}

// Bootstrap arms every countdown currently in the document and drops timers
// whose elements are gone. It returns the number of timers started.
func (e *Engine) Bootstrap() int {
	e.prune()

	armed := 0
	for _, c := range e.doc.Countdowns() {
		started, err := e.arm(c, time.Time{})
		if err != nil {
			log.Warn().Err(err).Str("auction_id", c.AuctionID).Msg("skipping countdown")
			continue
		}
		if started {
			armed++
		}
	}

	log.Debug().
		Int("armed", armed).
		Int("active", e.Active()).
		Bool("authenticated", e.doc.LoggedIn()).
		Msg("countdowns bootstrapped")
	return armed
}

// Restart drops every timer and expiry mark and arms the document again.
// Countdowns of the held auction whose deadline has already passed are marked
// expired instead of armed, so a page reloaded after a failed close does not close
// that auction again on its own.
func (e *Engine) Restart(held string) int {
	e.Stop()

	now := e.clock.Now()
	armed := 0
	for _, c := range e.doc.Countdowns() {
		if held != "" && c.AuctionID == held {
			if deadline, err := e.deadlineOf(c, time.Time{}); err == nil && Compute(deadline, now).Expired {
				e.mu.Lock()
				e.expired[c.Node] = struct{}{}
				e.mu.Unlock()
				log.Debug().Str("auction_id", c.AuctionID).Msg("holding expired countdown after reload")
				continue
			}
		}
		started, err := e.arm(c, time.Time{})
		if err != nil {
			log.Warn().Err(err).Str("auction_id", c.AuctionID).Msg("skipping countdown")
			continue
		}
		if started {
			armed++
		}
	}
	return armed
}

// Arm starts a timer for one element, replacing any timer it already has.
// Elements that already expired stay expired.
func (e *Engine) Arm(c page.Countdown) error {
	_, err := e.arm(c, time.Time{})
	return err
}

// Resume re-arms the countdowns of an auction the authority still considers
// running. Their expired mark is cleared and they cannot expire before
// RecheckDelay has passed.
func (e *Engine) Resume(auctionID string) int {
	floor := e.clock.Now().Add(e.config.RecheckDelay)

	resumed := 0
	for _, c := range e.doc.Countdowns() {
		if c.AuctionID != auctionID {
			continue
		}
		e.mu.Lock()
		delete(e.expired, c.Node)
		e.mu.Unlock()

		started, err := e.arm(c, floor)
		if err != nil {
			log.Warn().Err(err).Str("auction_id", auctionID).Msg("failed to resume countdown")
			continue
		}
		if started {
			resumed++
		}
	}
	return resumed
}

func (e *Engine) arm(c page.Countdown, floor time.Time) (bool, error) {
	if c.Node == nil {
		return false, ErrNilElement
	}

	deadline, err := e.deadlineOf(c, floor)
	if err != nil {
		return false, err
	}

	format := c.Format
	if format == "" {
		format = e.config.DefaultFormat
	}

	t := &timer{
		state: State{
			AuctionID: c.AuctionID,
			Deadline:  deadline,
			Format:    format,
			Compact:   e.config.CompactCounter || c.Compact,
			Future:    c.Future,
			Main:      c.Main,
			Node:      c.Node,
		},
		layout: ParseLayout(format),
		stop:   make(chan struct{}),
	}

	e.mu.Lock()
	if _, done := e.expired[c.Node]; done {
		e.mu.Unlock()
		log.Debug().Str("auction_id", c.AuctionID).Msg("countdown already expired, not re-arming")
		return false, nil
	}
	if existing, ok := e.timers[c.Node]; ok {
		existing.cancelLocked()
		log.Debug().Str("auction_id", c.AuctionID).Msg("replaced existing countdown")
	}
	t.ticker = e.clock.NewTicker(e.config.Tick)
	e.timers[c.Node] = t
	e.mu.Unlock()

	go e.run(t)

	log.Debug().
		Str("auction_id", c.AuctionID).
		Time("deadline", deadline).
		Str("format", format).
		Msg("armed countdown")
	return true, nil
}

// deadlineOf resolves the instant c ends, never earlier than floor.
func (e *Engine) deadlineOf(c page.Countdown, floor time.Time) (time.Time, error) {
	deadline, err := ParseDeadline(c.Deadline, e.config.SiteLocation)
	if err != nil {
		return time.Time{}, fmt.Errorf("arm auction %s: %w", c.AuctionID, err)
	}
	if !floor.IsZero() && deadline.Before(floor) {
		deadline = floor
	}
	return deadline, nil
}

func (e *Engine) run(t *timer) {
	defer t.ticker.Stop()

	if e.step(t) {
		return
	}
	for {
		select {
		case <-t.stop:
			return
		case <-t.ticker.Chan():
			if e.step(t) {
				return
			}
		}
	}
}

// step renders one frame and reports whether the timer is finished.
func (e *Engine) step(t *timer) bool {
	e.mu.Lock()
	done := t.done
	e.mu.Unlock()
	if done {
		return true
	}

	snap := Compute(t.state.Deadline, e.clock.Now())
	frame := Render(snap, t.layout, t.state.Compact, e.config.Labels)

	present := false
	e.doc.Update(func(doc *goquery.Document) {
		sel := doc.FindNodes(t.state.Node)
		if sel.Length() == 0 {
			return
		}
		present = true
		if snap.Expired {
			sel.SetHtml(ExpiryHTML(t.state.Future, e.config.Labels))
		} else {
			sel.SetHtml(frame.HTML)
		}
	})

	if !present {
		e.finish(t, false)
		log.Debug().Str("auction_id", t.state.AuctionID).Msg("countdown element removed, timer torn down")
		return true
	}

	if e.onTick != nil {
		e.onTick(t.state, snap, frame)
	}

	if !snap.Expired {
		return false
	}

	if e.finish(t, true) {
		state := t.state
		state.Expired = true
		log.Info().Str("auction_id", state.AuctionID).Bool("future", state.Future).Msg("countdown expired")
		if e.onExpiry != nil {
			e.onExpiry(state)
		}
	}
	return true
}

// finish retires t. It returns false when t was cancelled first, in which
// case the caller must not report an expiry.
func (e *Engine) finish(t *timer, expired bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t.done {
		return false
	}
	t.done = true
	if e.timers[t.state.Node] == t {
		delete(e.timers, t.state.Node)
	}
	if expired {
		e.expired[t.state.Node] = struct{}{}
	}
	return true
}

// cancelLocked stops t. Engine.mu must be held.
func (t *timer) cancelLocked() {
	if t.done {
		return
	}
	t.done = true
	close(t.stop)
}

// Cancel stops the timer of one element, if any.
func (e *Engine) Cancel(node *html.Node) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t, ok := e.timers[node]; ok {
		t.cancelLocked()
		delete(e.timers, node)
		log.Debug().Str("auction_id", t.state.AuctionID).Msg("cancelled countdown")
	}
}

// Stop cancels every timer and forgets expired elements.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for node, t := range e.timers {
		t.cancelLocked()
		delete(e.timers, node)
	}
	e.expired = make(map[*html.Node]struct{})
}

// prune drops timers and expiry marks of elements no longer in the document.
func (e *Engine) prune() {
	e.mu.Lock()
	nodes := make([]*html.Node, 0, len(e.timers)+len(e.expired))
	for n := range e.timers {
		nodes = append(nodes, n)
	}
	for n := range e.expired {
		nodes = append(nodes, n)
	}
	e.mu.Unlock()

	var gone []*html.Node
	for _, n := range nodes {
		if !e.doc.Attached(n) {
			gone = append(gone, n)
		}
	}
	if len(gone) == 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, n := range gone {
		if t, ok := e.timers[n]; ok {
			t.cancelLocked()
			delete(e.timers, n)
		}
		delete(e.expired, n)
	}
}

// Active returns the number of live timers.
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.timers)
}

// Timers lists the live timers ordered by auction id.
func (e *Engine) Timers() []State {
	e.mu.Lock()
	out := make([]State, 0, len(e.timers))
	for _, t := range e.timers {
		out = append(out, t.state)
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].AuctionID < out[j].AuctionID })
	return out
}

// ActiveFor reports whether the auction has at least one live timer.
func (e *Engine) ActiveFor(auctionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range e.timers {
		if t.state.AuctionID == auctionID {
			return true
		}
	}
	return false
}
