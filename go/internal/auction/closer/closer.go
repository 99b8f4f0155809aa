// Package closer asks the authority to finish an auction whose countdown
// ended and applies the verdict to the page.
package closer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"

	"github.com/mcdev12/auctionsync/go/clients/authority_client"
	"github.com/mcdev12/auctionsync/go/internal/auction/countdown"
	"github.com/mcdev12/auctionsync/go/internal/auction/events"
	"github.com/mcdev12/auctionsync/go/internal/auction/metrics"
	"github.com/mcdev12/auctionsync/go/internal/page"
)

var ErrInFlight = errors.New("close request already in flight for auction")

// Authority finishes auctions.
type Authority interface {
	FinishAuction(ctx context.Context, req authority_client.FinishAuctionRequest) (*authority_client.FinishAuctionResponse, error)
}

// Rearmer restarts the countdowns of an auction that is still running.
type Rearmer interface {
	Resume(auctionID string) int
}

// Reloader replaces the whole page with a fresh copy from the authority.
type Reloader interface {
	Reload(ctx context.Context, auctionID, reason string) error
}

// Publisher receives lifecycle notifications.
type Publisher interface {
	Emit(t events.Type, auctionID string, payload interface{})
}

type Config struct {
	// RequestTimeout bounds one finish_auction call. Zero leaves the bound to
	// the caller's context.
	RequestTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{RequestTimeout: 15 * time.Second}
}

// CloseRequest describes one close attempt.
type CloseRequest struct {
	AuctionID        string
	Future           bool
	ContainerPresent bool
}

type Closer struct {
	doc       *page.Document
	authority Authority
	rearm     Rearmer
	reload    Reloader
	publisher Publisher
	metrics   metrics.Collector
	clock     clockwork.Clock
	config    Config

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func New(doc *page.Document, authority Authority, rearm Rearmer, reload Reloader, publisher Publisher, collector metrics.Collector, clock clockwork.Clock, config Config) *Closer {
	if collector == nil {
		collector = metrics.NoOp{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Closer{
		doc:       doc,
		authority: authority,
		rearm:     rearm,
		reload:    reload,
		publisher: publisher,
		metrics:   collector,
		clock:     clock,
		config:    config,
		inFlight:  make(map[string]struct{}),
	}
}

// regions holds the nodes a close cycle touches, located once before the
// network call.
type regions struct {
	outcome []*html.Node
}

// Close runs one close cycle for an expired countdown. Unknown outcomes
// trigger a reload, whose error is returned.
func (c *Closer) Close(ctx context.Context, state countdown.State) (CloseResponse, error) {
	if !c.acquire(state.AuctionID) {
		log.Debug().Str("auction_id", state.AuctionID).Msg("close already in flight, skipping")
		return CloseResponse{}, fmt.Errorf("%w: %s", ErrInFlight, state.AuctionID)
	}
	defer c.release(state.AuctionID)

	start := c.clock.Now()
	r := c.prepare(state)
	req := CloseRequest{
		AuctionID:        state.AuctionID,
		Future:           state.Future,
		ContainerPresent: len(r.outcome) > 0,
	}

	c.emit(events.TypeCloseRequested, req.AuctionID, events.CloseRequestedPayload{
		AuctionID:        req.AuctionID,
		Future:           req.Future,
		ContainerPresent: req.ContainerPresent,
	})

	log.Info().
		Str("auction_id", req.AuctionID).
		Bool("future", req.Future).
		Bool("container_present", req.ContainerPresent).
		Msg("requesting auction close")

	resp := Interpret(c.finish(ctx, req))
	c.metrics.RecordClose(resp.Outcome.String(), resp.Reason, c.clock.Since(start))

	switch resp.Outcome {
	case OutcomeClosed:
		c.applyClosed(req.AuctionID, r, resp.MessageHTML)
		log.Info().Str("auction_id", req.AuctionID).Msg("auction closed")
		c.emit(events.TypeClosed, req.AuctionID, events.ClosedPayload{
			AuctionID:   req.AuctionID,
			MessageHTML: resp.MessageHTML,
		})
		return resp, nil

	case OutcomeRunning:
		c.applyRunning(r)
		resumed := 0
		if c.rearm != nil {
			resumed = c.rearm.Resume(req.AuctionID)
		}
		log.Info().Str("auction_id", req.AuctionID).Int("resumed", resumed).Msg("auction still running")
		return resp, nil
	}

	log.Warn().
		Err(resp.Err).
		Str("auction_id", req.AuctionID).
		Str("reason", resp.Reason).
		Msg("close verdict unusable, reloading page")
	if c.reload == nil {
		return resp, nil
	}
	if err := c.reload.Reload(ctx, req.AuctionID, resp.Reason); err != nil {
		return resp, fmt.Errorf("reload after close of %s: %w", req.AuctionID, err)
	}
	return resp, nil
}

func (c *Closer) finish(ctx context.Context, req CloseRequest) (*authority_client.FinishAuctionResponse, error) {
	if c.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()
	}
	return c.authority.FinishAuction(ctx, authority_client.FinishAuctionRequest{
		AuctionID:        req.AuctionID,
		ContainerPresent: req.ContainerPresent,
		Future:           req.Future,
	})
}

// prepare locates the outcome region, hides it and the purchase action and
// marks it as working.
func (c *Closer) prepare(state countdown.State) regions {
	var r regions
	c.doc.Update(func(doc *goquery.Document) {
		region := outcomeRegion(doc, state)
		r.outcome = region.Nodes

		page.Hide(region)
		region.BeforeHtml(page.WorkingIndicatorHTML)
		page.Hide(purchaseAction(region))
	})
	return r
}

func (c *Closer) applyClosed(auctionID string, r regions, message string) {
	c.doc.Update(func(doc *goquery.Document) {
		region := doc.FindNodes(r.outcome...)

		purchaseAction(region).Remove()
		workingIndicator(region).Remove()
		doc.Find(mainCountdownSelector(auctionID)).Parent().Remove()

		region.Empty()
		region.PrependHtml(message).WrapHtml("<div></div>")
		page.Show(region)
	})
}

func (c *Closer) applyRunning(r regions) {
	c.doc.Update(func(doc *goquery.Document) {
		region := doc.FindNodes(r.outcome...)

		workingIndicator(region).Remove()
		page.Show(region)
		page.Show(purchaseAction(region))
	})
}

func (c *Closer) emit(t events.Type, auctionID string, payload interface{}) {
	if c.publisher != nil {
		c.publisher.Emit(t, auctionID, payload)
	}
}

func (c *Closer) acquire(auctionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inFlight[auctionID]; busy {
		return false
	}
	c.inFlight[auctionID] = struct{}{}
	return true
}

func (c *Closer) release(auctionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, auctionID)
}

// InFlight reports whether a close cycle is running for the auction.
func (c *Closer) InFlight(auctionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, busy := c.inFlight[auctionID]
	return busy
}

// outcomeRegion is the block right after the countdown's parent, or the
// auction's bid form when the layout has no such block.
func outcomeRegion(doc *goquery.Document, state countdown.State) *goquery.Selection {
	if state.Node != nil {
		region := doc.FindNodes(state.Node).Parent().NextFiltered(page.OutcomeRegionSelector)
		if region.Length() > 0 {
			return region
		}
	}
	return doc.Find(fmt.Sprintf(page.AuctionFormSelectorFmt, state.AuctionID))
}

func purchaseAction(region *goquery.Selection) *goquery.Selection {
	return region.Parent().ChildrenFiltered(page.PurchaseActionSelector)
}

// workingIndicator is the indicator inserted for this region only.
func workingIndicator(region *goquery.Selection) *goquery.Selection {
	return region.PrevFiltered("." + page.WorkingIndicatorClass)
}

func mainCountdownSelector(auctionID string) string {
	return fmt.Sprintf(".%s%s[%s='%s']", page.MainCountdownClass, page.CountdownSelector, page.AttrAuctionID, auctionID)
}
