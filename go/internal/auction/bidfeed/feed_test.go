package bidfeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/auctionsync/go/internal/auction/events"
)

func TestDecodeBid(t *testing.T) {
	bid, ok, err := Decode("42", []byte(`{"type":"bid","bid":{"user":{"username":"alice","id":7},"amount":"125.50","created_at":"2026-03-01T12:00:00.123456+00:00"}}`))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "42", bid.AuctionID)
	assert.Equal(t, "alice", bid.Username)
	assert.Equal(t, int64(7), bid.UserID)
	assert.Equal(t, "125.50", bid.Amount)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 123456000, time.UTC), bid.CreatedAt)
}

func TestDecodeNewBidAndNaiveTimestamps(t *testing.T) {
	bid, ok, err := Decode("9", []byte(`{"type":"new_bid","user":"bob","amount":99.5,"message":"Bid placed successfully"}`))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "bob", bid.Username)
	assert.Equal(t, "99.5", bid.Amount)
	assert.True(t, bid.CreatedAt.IsZero())

	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), parseCreatedAt("2026-03-01T12:00:00"))
}

func TestDecodeIgnoresOtherMessages(t *testing.T) {
	_, ok, err := Decode("42", []byte(`{"type":"auction_state","current_price":"10.00","status":"active"}`))
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = Decode("42", []byte(`not json`))
	assert.Error(t, err)

	_, _, err = Decode("42", []byte(`{"type":"bid"}`))
	assert.Error(t, err)
}

type staticResolver string

func (r staticResolver) BidFeedURL(string) (string, error) {
	return string(r), nil
}

type staticToken string

func (s staticToken) Token() (string, error) {
	return string(s), nil
}

func TestRunPublishesBids(t *testing.T) {
	var authHeader string
	var mu sync.Mutex
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		authHeader = r.Header.Get("Authorization")
		mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"auction_state","status":"active"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bid","bid":{"user":{"username":"alice","id":7},"amount":"125.50","created_at":"2026-03-01T12:00:00+00:00"}}`))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer srv.Close()

	bus := events.NewBus()
	bids := make(chan events.Event, 4)
	bus.Subscribe(func(e events.Event) { bids <- e }, events.TypeBidPlaced)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	feed := New(staticResolver(url), staticToken("signed"), bus, nil, clockwork.NewFakeClock(), DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx, "42") }()

	select {
	case e := <-bids:
		var bid events.BidPlacedPayload
		require.NoError(t, e.Decode(&bid))
		assert.Equal(t, "42", e.AuctionID)
		assert.Equal(t, "alice", bid.Username)
		assert.Equal(t, "125.50", bid.Amount)
	case <-time.After(2 * time.Second):
		t.Fatal("no bid relayed")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop")
	}

	mu.Lock()
	assert.Equal(t, "Bearer signed", authHeader)
	mu.Unlock()
}

func TestFollowIsIdempotent(t *testing.T) {
	feed := New(staticResolver("ws://127.0.0.1:1/ws/auctions/1/"), nil, nil, nil, clockwork.NewFakeClock(), DefaultConfig())

	feed.Follow(context.Background(), "1")
	feed.Follow(context.Background(), "1")
	assert.Equal(t, []string{"1"}, feed.Following())

	feed.Close()
	assert.Empty(t, feed.Following())
}

func TestUnfollowThenFollowKeepsNewFollower(t *testing.T) {
	feed := New(staticResolver("ws://127.0.0.1:1/ws/auctions/1/"), nil, nil, nil, clockwork.NewFakeClock(), DefaultConfig())
	defer feed.Close()

	feed.Follow(context.Background(), "1")
	feed.Unfollow("1")
	assert.Empty(t, feed.Following())

	feed.Follow(context.Background(), "1")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"1"}, feed.Following())

	feed.Unfollow("2")
	assert.Equal(t, []string{"1"}, feed.Following())
}
