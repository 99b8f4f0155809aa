package gateway

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/auctionsync/go/internal/auction/countdown"
)

// StateProvider exposes the current page and its live timers.
type StateProvider interface {
	HTML() (string, error)
	Timers() []countdown.State
}

// TimerState is one live countdown as served by /api/timers.
type TimerState struct {
	AuctionID        string    `json:"auction_id"`
	Deadline         time.Time `json:"deadline"`
	TimeRemainingSec int       `json:"time_remaining_sec"`
	Format           string    `json:"format"`
	Compact          bool      `json:"compact"`
	Future           bool      `json:"future"`
	Main             bool      `json:"main"`
}

// StateHandler handles HTTP requests for page state
type StateHandler struct {
	stateProvider StateProvider
	now           func() time.Time
}

func NewStateHandler(provider StateProvider, now func() time.Time) *StateHandler {
	if now == nil {
		now = time.Now
	}
	return &StateHandler{
		stateProvider: provider,
		now:           now,
	}
}

// HandleGetPage handles GET /api/page
func (h *StateHandler) HandleGetPage(w http.ResponseWriter, r *http.Request) {
	doc, err := h.stateProvider.HTML()
	if err != nil {
		log.Error().Err(err).Msg("failed to render page")
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write([]byte(doc)); err != nil {
		log.Error().Err(err).Msg("failed to write page response")
	}
}

// HandleGetTimers handles GET /api/timers
func (h *StateHandler) HandleGetTimers(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	timers := h.stateProvider.Timers()

	out := make([]TimerState, 0, len(timers))
	for _, t := range timers {
		remaining := int(t.Deadline.Sub(now).Seconds())
		if remaining < 0 {
			remaining = 0
		}
		out = append(out, TimerState{
			AuctionID:        t.AuctionID,
			Deadline:         t.Deadline,
			TimeRemainingSec: remaining,
			Format:           t.Format,
			Compact:          t.Compact,
			Future:           t.Future,
			Main:             t.Main,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/page", h.HandleGetPage)
	mux.HandleFunc("GET /api/timers", h.HandleGetTimers)
}
