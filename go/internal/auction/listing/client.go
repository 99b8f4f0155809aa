// Package listing runs the listing sync cycle: one authority request per
// sort, filter, search or highlight action, whose HTML replaces a region of
// the page before countdowns are re-armed.
package listing

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/auctionsync/go/internal/auction/events"
	"github.com/mcdev12/auctionsync/go/internal/auction/metrics"
	"github.com/mcdev12/auctionsync/go/internal/page"
)

const DefaultErrorMessage = "An error occurred. Please try again."

// Dispatcher sends a listing action to the authority and returns the HTML
// fragment it rendered.
type Dispatcher interface {
	Dispatch(ctx context.Context, action string, params url.Values) ([]byte, error)
}

// Rearmer arms countdowns found in freshly inserted content.
type Rearmer interface {
	Bootstrap() int
}

// Publisher receives lifecycle notifications.
type Publisher interface {
	Emit(t events.Type, auctionID string, payload interface{})
}

type Config struct {
	// SearchDebounce delays search requests until typing pauses. Zero sends
	// one request per keystroke.
	SearchDebounce time.Duration
	ErrorMessage   string
}

func DefaultConfig() Config {
	return Config{ErrorMessage: DefaultErrorMessage}
}

// Result describes how a cycle ended.
type Result struct {
	Action  Action `json:"action"`
	Region  string `json:"region"`
	Success bool   `json:"success"`
	// Skipped is set when nothing was sent, as for an empty search term.
	Skipped bool `json:"skipped,omitempty"`
	// Superseded is set when a newer cycle for the same region was issued
	// before the response arrived; the response was discarded.
	Superseded bool `json:"superseded,omitempty"`
	// Scheduled is set when a debounced search was queued.
	Scheduled bool `json:"scheduled,omitempty"`
	Armed     int  `json:"armed"`
}

type Client struct {
	doc        *page.Document
	dispatcher Dispatcher
	rearm      Rearmer
	publisher  Publisher
	metrics    metrics.Collector
	clock      clockwork.Clock
	config     Config

	mu      sync.Mutex
	issued  map[string]uint64
	pending clockwork.Timer
}

func NewClient(doc *page.Document, dispatcher Dispatcher, rearm Rearmer, publisher Publisher, collector metrics.Collector, clock clockwork.Clock, config Config) *Client {
	if collector == nil {
		collector = metrics.NoOp{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if config.ErrorMessage == "" {
		config.ErrorMessage = DefaultErrorMessage
	}
	return &Client{
		doc:        doc,
		dispatcher: dispatcher,
		rearm:      rearm,
		publisher:  publisher,
		metrics:    collector,
		clock:      clock,
		config:     config,
		issued:     make(map[string]uint64),
	}
}

// Run executes one sync cycle. A transport failure is returned after the
// region shows the error message; a missing page template is returned
// before anything is sent.
func (c *Client) Run(ctx context.Context, req SyncRequest) (Result, error) {
	r, ok := routes[req.Action]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}
	result := Result{Action: req.Action, Region: r.target}

	template, err := c.doc.PageTemplate()
	if err != nil {
		log.Error().Err(err).Str("action", string(req.Action)).Msg("listing action not dispatched")
		return result, err
	}

	params := req.Params
	if req.Action == ActionSearch {
		term := params.Get(ParamSearchTerm)
		if term == "" {
			result.Skipped = true
			return result, nil
		}
	}
	params = c.withCheckedFilters(r, params)

	form := r.encode(params, template)
	if req.Action == ActionSearch {
		form.Set(ParamPaged, "1")
	}

	seq := c.issue(r.target)
	start := c.clock.Now()

	c.doc.Update(func(doc *goquery.Document) {
		loadingRegion(doc).AddClass(page.LoadingClass)
	})

	log.Debug().
		Str("action", string(req.Action)).
		Str("wire_action", r.wire).
		Uint64("seq", seq).
		Msg("dispatching listing action")

	body, dispatchErr := c.dispatcher.Dispatch(ctx, r.wire, form)

	applied := false
	c.doc.Update(func(doc *goquery.Document) {
		if !c.latest(r.target, seq) {
			return
		}
		applied = true

		target := doc.Find(r.target)
		if dispatchErr != nil {
			target.SetHtml("<p>" + html.EscapeString(c.config.ErrorMessage) + "</p>")
		} else {
			target.SetHtml(string(body))
		}
		loadingRegion(doc).RemoveClass(page.LoadingClass)
		if dispatchErr == nil && r.hidePagination {
			page.Hide(doc.Find(page.PaginationSelector))
		}
	})

	if !applied {
		result.Superseded = true
		c.metrics.RecordSyncDropped(string(req.Action))
		log.Debug().Str("action", string(req.Action)).Uint64("seq", seq).Msg("discarded superseded listing response")
		return result, nil
	}

	if c.rearm != nil {
		result.Armed = c.rearm.Bootstrap()
	}

	result.Success = dispatchErr == nil
	c.metrics.RecordSync(string(req.Action), result.Success, c.clock.Since(start))
	if c.publisher != nil {
		c.publisher.Emit(events.TypeListingSynced, "", events.ListingSyncedPayload{
			Action:  string(req.Action),
			Region:  r.target,
			Success: result.Success,
		})
	}

	if dispatchErr != nil {
		log.Error().Err(dispatchErr).Str("action", string(req.Action)).Msg("listing sync failed")
		return result, fmt.Errorf("sync %s: %w", req.Action, dispatchErr)
	}

	log.Info().
		Str("action", string(req.Action)).
		Int("armed", result.Armed).
		Msg("listing synced")
	return result, nil
}

// Search runs a search for term, as typed so far. With a debounce configured
// the request is queued and replaces any search still waiting.
func (c *Client) Search(ctx context.Context, term string) (Result, error) {
	req := Search(term)
	if c.config.SearchDebounce <= 0 {
		return c.Run(ctx, req)
	}

	// The queued search outlives the caller's request.
	detached := context.WithoutCancel(ctx)

	c.mu.Lock()
	if c.pending != nil {
		c.pending.Stop()
	}
	c.pending = c.clock.AfterFunc(c.config.SearchDebounce, func() {
		if _, err := c.Run(detached, req); err != nil {
			log.Warn().Err(err).Str("search_term", term).Msg("debounced search failed")
		}
	})
	c.mu.Unlock()

	return Result{Action: ActionSearch, Region: routes[ActionSearch].target, Scheduled: true}, nil
}

func (c *Client) issue(target string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.issued[target]++
	return c.issued[target]
}

func (c *Client) latest(target string, seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.issued[target] == seq
}

// withCheckedFilters fills the list parameter of checkbox filters from the
// page when the caller did not send it at all.
func (c *Client) withCheckedFilters(r route, params url.Values) url.Values {
	name := r.listParam()
	if name == "" || r.checkboxes == "" {
		return params
	}
	if _, ok := params[name]; ok {
		return params
	}
	if _, ok := params[name+"[]"]; ok {
		return params
	}

	var checked []string
	c.doc.Read(func(doc *goquery.Document) {
		doc.Find(r.checkboxes + ` input[type="checkbox"][checked]`).Each(func(_ int, s *goquery.Selection) {
			if v := strings.TrimSpace(s.AttrOr("data-filter", "")); v != "" {
				checked = append(checked, v)
			}
		})
	})

	out := url.Values{}
	for k, v := range params {
		out[k] = v
	}
	out[name] = checked
	return out
}

// loadingRegion is the block wrapping the results region.
func loadingRegion(doc *goquery.Document) *goquery.Selection {
	return doc.Find(page.ResultsSelector).ParentFiltered("div")
}
