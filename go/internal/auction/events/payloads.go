package events

import "time"

// Event payload types shared by the closer, the bid feed and the gateway.

// CloseRequestedPayload is the payload for a close requested event
type CloseRequestedPayload struct {
	AuctionID        string `json:"auction_id"`
	Future           bool   `json:"future"`
	ContainerPresent bool   `json:"container_present"`
}

// ClosedPayload is the payload for an auction closed event
type ClosedPayload struct {
	AuctionID   string `json:"auction_id"`
	MessageHTML string `json:"message_html"`
}

// BidPlacedPayload is the payload for a bid relayed from the authority
type BidPlacedPayload struct {
	AuctionID string    `json:"auction_id"`
	Username  string    `json:"username"`
	UserID    int64     `json:"user_id"`
	Amount    string    `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// TimerTickPayload contains periodic countdown frames
type TimerTickPayload struct {
	AuctionID        string `json:"auction_id"`
	Days             int    `json:"days"`
	Hours            int    `json:"hours"`
	Minutes          int    `json:"minutes"`
	Seconds          int    `json:"seconds"`
	TimeRemainingSec int    `json:"time_remaining_sec"`
	Text             string `json:"text"`
}

// ReloadedPayload explains why the page was reloaded
type ReloadedPayload struct {
	AuctionID string `json:"auction_id,omitempty"`
	Reason    string `json:"reason"`
}

// ListingSyncedPayload describes a completed listing sync cycle
type ListingSyncedPayload struct {
	Action  string `json:"action"`
	Region  string `json:"region"`
	Success bool   `json:"success"`
}
