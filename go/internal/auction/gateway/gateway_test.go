package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/auctionsync/go/clients/authority_client"
	"github.com/mcdev12/auctionsync/go/internal/auction/countdown"
	"github.com/mcdev12/auctionsync/go/internal/auction/events"
	"github.com/mcdev12/auctionsync/go/internal/auction/listing"
	"github.com/mcdev12/auctionsync/go/internal/page"
)

type fakeRunner struct {
	mu     sync.Mutex
	runs   []listing.SyncRequest
	terms  []string
	err    error
	result listing.Result
}

func (f *fakeRunner) Run(ctx context.Context, req listing.SyncRequest) (listing.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, req)
	res := f.result
	res.Action = req.Action
	return res, f.err
}

func (f *fakeRunner) Search(ctx context.Context, term string) (listing.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terms = append(f.terms, term)
	return listing.Result{Action: listing.ActionSearch, Success: true}, f.err
}

type fakeState struct {
	html   string
	timers []countdown.State
}

func (f fakeState) HTML() (string, error)     { return f.html, nil }
func (f fakeState) Timers() []countdown.State { return f.timers }

func newTestServer(t *testing.T, runner ListingRunner, verifier TokenVerifier, state StateProvider) (*httptest.Server, *events.Bus, *Service) {
	t.Helper()
	bus := events.NewBus()
	svc := NewService(DefaultConfig(), bus, state, runner, verifier, func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	})
	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = svc.Start(ctx) }()
	require.Eventually(t, func() bool { return bus.Subscribers() == 1 }, time.Second, time.Millisecond)

	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv, bus, svc
}

func post(t *testing.T, url, token, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestListingActionParams(t *testing.T) {
	runner := &fakeRunner{result: listing.Result{Success: true}}
	srv, _, _ := newTestServer(t, runner, nil, fakeState{})

	resp, body := post(t, srv.URL+"/api/listing/filterByType", "", `{"params":{"filters":["live","upcoming"]}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result listing.Result
	require.NoError(t, json.Unmarshal(body, &result))
	assert.True(t, result.Success)

	resp, _ = post(t, srv.URL+"/api/listing/sort", "", `{"params":{"orderby":"price-desc"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.Len(t, runner.runs, 2)
	assert.Equal(t, listing.ActionFilterByType, runner.runs[0].Action)
	assert.Equal(t, []string{"live", "upcoming"}, runner.runs[0].Params["filters"])
	assert.Equal(t, "price-desc", runner.runs[1].Params.Get("orderby"))
}

func TestListingSearchTerm(t *testing.T) {
	runner := &fakeRunner{}
	srv, _, _ := newTestServer(t, runner, nil, fakeState{})

	for _, term := range []string{"v", "va", "vas", "vase"} {
		resp, _ := post(t, srv.URL+"/api/listing/search", "", `{"term":"`+term+`"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, []string{"v", "va", "vas", "vase"}, runner.terms)
}

func TestListingErrors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		err    error
		status int
	}{
		{"unknown action", "/api/listing/bogus", `{}`, nil, http.StatusNotFound},
		{"bad json", "/api/listing/sort", `{`, nil, http.StatusBadRequest},
		{"bad param", "/api/listing/sort", `{"params":{"orderby":5}}`, nil, http.StatusBadRequest},
		{"no template", "/api/listing/sort", `{}`, page.ErrNoPageTemplate, http.StatusPreconditionFailed},
		{"transport", "/api/listing/sort", `{}`, errors.New("connection refused"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, _ := newTestServer(t, &fakeRunner{err: tt.err}, nil, fakeState{})
			resp, _ := post(t, srv.URL+tt.path, "", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestListingRequiresValidToken(t *testing.T) {
	signer, err := authority_client.NewSigner("s3cret", "https://auctions.example", time.Hour)
	require.NoError(t, err)
	other, err := authority_client.NewSigner("other", "https://auctions.example", time.Hour)
	require.NoError(t, err)

	runner := &fakeRunner{}
	srv, _, _ := newTestServer(t, runner, signer, fakeState{})

	resp, _ := post(t, srv.URL+"/api/listing/sort", "", `{}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	forged, err := other.Token()
	require.NoError(t, err)
	resp, _ = post(t, srv.URL+"/api/listing/sort", forged, `{}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := signer.Token()
	require.NoError(t, err)
	resp, _ = post(t, srv.URL+"/api/listing/sort", token, `{}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStateEndpoints(t *testing.T) {
	state := fakeState{
		html: "<html><body>page</body></html>",
		timers: []countdown.State{{
			AuctionID: "42",
			Deadline:  time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC),
			Format:    "yowdHMS",
		}},
	}
	srv, _, _ := newTestServer(t, &fakeRunner{}, nil, state)

	resp, err := http.Get(srv.URL + "/api/page")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "<html><body>page</body></html>", string(body))
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	resp, err = http.Get(srv.URL + "/api/timers")
	require.NoError(t, err)
	defer resp.Body.Close()
	var timers []TimerState
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&timers))
	require.Len(t, timers, 1)
	assert.Equal(t, "42", timers[0].AuctionID)
	assert.Equal(t, 30, timers[0].TimeRemainingSec)
}

func dial(t *testing.T, srv *httptest.Server, auctionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/auction?auction_id=" + auctionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) events.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var e events.Event
	require.NoError(t, json.Unmarshal(data, &e))
	return e
}

func TestWebSocketRelaysAuctionEvents(t *testing.T) {
	srv, bus, svc := newTestServer(t, &fakeRunner{}, nil, fakeState{})

	one := dial(t, srv, "42")
	all := dial(t, srv, AllAuctions)
	require.Eventually(t, func() bool { return svc.GetStats().TotalConnections == 2 }, time.Second, 5*time.Millisecond)

	bus.Emit(events.TypeTimerTick, "42", events.TimerTickPayload{AuctionID: "42"})
	bus.Emit(events.TypeClosed, "7", events.ClosedPayload{AuctionID: "7"})
	bus.Emit(events.TypeClosed, "42", events.ClosedPayload{AuctionID: "42", MessageHTML: "<p>Sold</p>"})

	e := readEvent(t, one)
	assert.Equal(t, events.TypeClosed, e.Type)
	assert.Equal(t, "42", e.AuctionID)

	first := readEvent(t, all)
	second := readEvent(t, all)
	assert.Equal(t, "7", first.AuctionID)
	assert.Equal(t, "42", second.AuctionID)
}

func TestWebSocketRequiresAuctionID(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeRunner{}, nil, fakeState{})

	resp, err := http.Get(srv.URL + "/ws/auction")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
