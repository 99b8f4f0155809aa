package bidfeed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mcdev12/auctionsync/go/internal/auction/events"
)

// Message types sent on an auction's bid channel.
const (
	messageBid          = "bid"
	messageNewBid       = "new_bid"
	messageAuctionState = "auction_state"
	messageError        = "error"
)

type bidUser struct {
	Username string `json:"username"`
	ID       int64  `json:"id"`
}

type bidBody struct {
	User      bidUser `json:"user"`
	Amount    amount  `json:"amount"`
	CreatedAt string  `json:"created_at"`
}

type message struct {
	Type string   `json:"type"`
	Bid  *bidBody `json:"bid,omitempty"`

	// new_bid carries a flat shape.
	User    string `json:"user,omitempty"`
	Amount  amount `json:"amount,omitempty"`
	Message string `json:"message,omitempty"`

	CurrentPrice string `json:"current_price,omitempty"`
	Status       string `json:"status,omitempty"`
}

// amount keeps a decimal as the authority wrote it, quoted or not.
type amount string

func (a *amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = amount(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	*a = amount(n.String())
	return nil
}

// naive timestamps from the authority are UTC.
var createdAtLayouts = []string{
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05",
}

func parseCreatedAt(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC()
	}
	for _, layout := range createdAtLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Decode turns one channel message into a bid. ok is false for messages that
// are not bids.
func Decode(auctionID string, data []byte) (bid events.BidPlacedPayload, ok bool, err error) {
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		return events.BidPlacedPayload{}, false, fmt.Errorf("decode bid message: %w", err)
	}

	switch m.Type {
	case messageBid:
		if m.Bid == nil {
			return events.BidPlacedPayload{}, false, fmt.Errorf("bid message without bid body")
		}
		return events.BidPlacedPayload{
			AuctionID: auctionID,
			Username:  m.Bid.User.Username,
			UserID:    m.Bid.User.ID,
			Amount:    string(m.Bid.Amount),
			CreatedAt: parseCreatedAt(m.Bid.CreatedAt),
		}, true, nil
	case messageNewBid:
		return events.BidPlacedPayload{
			AuctionID: auctionID,
			Username:  m.User,
			Amount:    string(m.Amount),
		}, true, nil
	default:
		return events.BidPlacedPayload{}, false, nil
	}
}
