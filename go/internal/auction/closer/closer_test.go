package closer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/auctionsync/go/clients"
	"github.com/mcdev12/auctionsync/go/clients/authority_client"
	"github.com/mcdev12/auctionsync/go/internal/auction/countdown"
	"github.com/mcdev12/auctionsync/go/internal/auction/events"
	"github.com/mcdev12/auctionsync/go/internal/page"
)

const productHTML = `<html><body class="page-template-auctions">
<div class="product" id="p42">
  <div class="timer-wrap"><div class="main-auction auction-time-countdown" data-auctionid="42" data-time="%d"></div></div>
  <div class="auction-ajax-change"><form class="auction_form" data-product_id="42"><button>Bid</button></form></div>
  <form class="buy-now"><button>Buy now</button></form>
</div>
</body></html>`

type fakeAuthority struct {
	mu      sync.Mutex
	calls   []authority_client.FinishAuctionRequest
	resp    *authority_client.FinishAuctionResponse
	err     error
	block   chan struct{}
	waitCtx bool
}

func (f *fakeAuthority) FinishAuction(ctx context.Context, req authority_client.FinishAuctionRequest) (*authority_client.FinishAuctionResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	if f.block != nil {
		<-f.block
	}
	if f.waitCtx {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.resp, f.err
}

func (f *fakeAuthority) Calls() []authority_client.FinishAuctionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]authority_client.FinishAuctionRequest(nil), f.calls...)
}

type fakeReloader struct {
	mu      sync.Mutex
	reasons []string
}

func (f *fakeReloader) Reload(ctx context.Context, auctionID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reasons = append(f.reasons, reason)
	return nil
}

func (f *fakeReloader) Reasons() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reasons...)
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) handle(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) Types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Type
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	doc       *page.Document
	clock     *clockwork.FakeClock
	engine    *countdown.Engine
	authority *fakeAuthority
	reloader  *fakeReloader
	recorder  *recorder
	closer    *Closer
	state     countdown.State
}

func newFixture(t *testing.T, authority *fakeAuthority) *fixture {
	t.Helper()

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	doc, err := page.NewFromString(fmtProduct(clock.Now().Add(-time.Second)))
	require.NoError(t, err)

	engine := countdown.NewEngine(doc, clock, countdown.DefaultConfig(), nil)
	t.Cleanup(engine.Stop)

	bus := events.NewBus()
	rec := &recorder{}
	bus.Subscribe(rec.handle)

	reloader := &fakeReloader{}
	c := New(doc, authority, engine, reloader, bus, nil, clock, Config{RequestTimeout: 50 * time.Millisecond})

	countdowns := doc.Countdowns()
	require.Len(t, countdowns, 1)
	c0 := countdowns[0]

	return &fixture{
		doc:       doc,
		clock:     clock,
		engine:    engine,
		authority: authority,
		reloader:  reloader,
		recorder:  rec,
		closer:    c,
		state: countdown.State{
			AuctionID: c0.AuctionID,
			Node:      c0.Node,
			Main:      c0.Main,
			Expired:   true,
		},
	}
}

func fmtProduct(deadline time.Time) string {
	return fmt.Sprintf(productHTML, deadline.Unix())
}

func TestCloseClosedInjectsMessage(t *testing.T) {
	f := newFixture(t, &fakeAuthority{
		resp: &authority_client.FinishAuctionResponse{Status: "closed", Message: "<p>Sold</p>"},
	})

	resp, err := f.closer.Close(context.Background(), f.state)
	require.NoError(t, err)
	assert.Equal(t, OutcomeClosed, resp.Outcome)

	calls := f.authority.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "42", calls[0].AuctionID)
	assert.True(t, calls[0].ContainerPresent)
	assert.False(t, calls[0].Future)

	assert.Equal(t, 0, f.doc.Count("form.buy-now"))
	assert.Equal(t, 0, f.doc.Count(".ajax-working"))
	assert.Equal(t, 0, f.doc.Count(".timer-wrap"))

	inner, ok := f.doc.InnerHTML(".auction-ajax-change")
	require.True(t, ok)
	assert.Equal(t, "<p>Sold</p>", inner)

	wrapped, ok := f.doc.InnerHTML("#p42 > div")
	require.True(t, ok)
	assert.Contains(t, wrapped, `<div class="auction-ajax-change"><p>Sold</p></div>`)

	assert.Equal(t, []events.Type{events.TypeCloseRequested, events.TypeClosed}, f.recorder.Types())
	assert.Empty(t, f.reloader.Reasons())
	assert.False(t, f.closer.InFlight("42"))
}

func TestCloseRunningReshowsAndRearms(t *testing.T) {
	f := newFixture(t, &fakeAuthority{
		resp: &authority_client.FinishAuctionResponse{Status: "running"},
	})

	resp, err := f.closer.Close(context.Background(), f.state)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRunning, resp.Outcome)

	assert.Equal(t, 1, f.doc.Count("form.buy-now"))
	assert.Equal(t, 0, f.doc.Count(".ajax-working"))

	f.doc.Read(func(doc *goquery.Document) {
		assert.True(t, page.Visible(doc.Find("form.buy-now")))
		assert.True(t, page.Visible(doc.Find(".auction-ajax-change")))
	})

	assert.True(t, f.engine.ActiveFor("42"))
	assert.Equal(t, []events.Type{events.TypeCloseRequested}, f.recorder.Types())
	assert.Empty(t, f.reloader.Reasons())
}

func TestCloseUnknownReloads(t *testing.T) {
	tests := []struct {
		name      string
		authority *fakeAuthority
		reason    string
	}{
		{
			name:      "unrecognized status",
			authority: &fakeAuthority{resp: &authority_client.FinishAuctionResponse{Status: "pending"}},
			reason:    ReasonUnrecognized,
		},
		{
			name:      "closed without message",
			authority: &fakeAuthority{resp: &authority_client.FinishAuctionResponse{Status: "closed"}},
			reason:    ReasonMalformed,
		},
		{
			name:      "transport error",
			authority: &fakeAuthority{err: errors.New("connection refused")},
			reason:    ReasonTransport,
		},
		{
			name:      "timeout",
			authority: &fakeAuthority{waitCtx: true},
			reason:    ReasonTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.authority)

			resp, err := f.closer.Close(context.Background(), f.state)
			require.NoError(t, err)
			assert.Equal(t, OutcomeUnknown, resp.Outcome)
			assert.Equal(t, tt.reason, resp.Reason)
			assert.Equal(t, []string{tt.reason}, f.reloader.Reasons())
		})
	}
}

func TestCloseRefusesConcurrentRequests(t *testing.T) {
	authority := &fakeAuthority{
		resp:  &authority_client.FinishAuctionResponse{Status: "running"},
		block: make(chan struct{}),
	}
	f := newFixture(t, authority)

	done := make(chan error, 1)
	go func() {
		_, err := f.closer.Close(context.Background(), f.state)
		done <- err
	}()

	require.Eventually(t, func() bool { return f.closer.InFlight("42") }, time.Second, time.Millisecond)

	_, err := f.closer.Close(context.Background(), f.state)
	assert.ErrorIs(t, err, ErrInFlight)

	close(authority.block)
	require.NoError(t, <-done)
	assert.Len(t, authority.Calls(), 1)
	assert.False(t, f.closer.InFlight("42"))
}

func TestCloseAgainstAuthorityServer(t *testing.T) {
	var form map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		form = map[string]string{
			"action":  r.PostForm.Get("action"),
			"post_id": r.PostForm.Get("post_id"),
			"ret":     r.PostForm.Get("ret"),
			"future":  r.PostForm.Get("future"),
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := authority_client.NewAuthorityClient(authority_client.DefaultConfig(srv.URL), nil)

	clock := clockwork.NewFakeClock()
	doc, err := page.NewFromString(fmtProduct(clock.Now()))
	require.NoError(t, err)
	reloader := &fakeReloader{}
	c := New(doc, client, nil, reloader, nil, nil, clock, DefaultConfig())

	cd := doc.Countdowns()[0]
	resp, err := c.Close(context.Background(), countdown.State{AuctionID: cd.AuctionID, Node: cd.Node})
	require.NoError(t, err)

	assert.Equal(t, OutcomeUnknown, resp.Outcome)
	assert.Equal(t, ReasonTransport, resp.Reason)
	var status *clients.StatusError
	assert.ErrorAs(t, resp.Err, &status)
	assert.Equal(t, []string{ReasonTransport}, reloader.Reasons())
	assert.Equal(t, map[string]string{
		"action":  "finish_auction",
		"post_id": "42",
		"ret":     "1",
		"future":  "false",
	}, form)
}

func TestInterpret(t *testing.T) {
	assert.Equal(t, OutcomeClosed, Interpret(&authority_client.FinishAuctionResponse{Status: "closed", Message: "<p>x</p>"}, nil).Outcome)
	assert.Equal(t, OutcomeRunning, Interpret(&authority_client.FinishAuctionResponse{Status: " Running "}, nil).Outcome)
	assert.Equal(t, ReasonMalformed, Interpret(nil, nil).Reason)
	assert.Equal(t, ReasonMalformed, Interpret(nil, authority_client.ErrMalformedResponse).Reason)
	assert.Equal(t, ReasonTimeout, Interpret(nil, context.DeadlineExceeded).Reason)
}
