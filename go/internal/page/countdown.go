package page

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Countdown is the typed configuration of one countdown element, read from
// its data attributes.
type Countdown struct {
	Node      *html.Node
	AuctionID string
	Deadline  string
	Format    string
	Compact   bool
	Future    bool
	Main      bool
}

// Countdowns returns every countdown element currently in the document, in
// document order.
func (d *Document) Countdowns() []Countdown {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []Countdown
	d.doc.Find(CountdownSelector).Each(func(_ int, s *goquery.Selection) {
		out = append(out, countdownFrom(s))
	})
	return out
}

func countdownFrom(s *goquery.Selection) Countdown {
	compact := strings.EqualFold(strings.TrimSpace(s.AttrOr(AttrCompact, "")), "true")
	return Countdown{
		Node:      s.Get(0),
		AuctionID: strings.TrimSpace(s.AttrOr(AttrAuctionID, "")),
		Deadline:  strings.TrimSpace(s.AttrOr(AttrTime, "")),
		Format:    strings.TrimSpace(s.AttrOr(AttrFormat, "")),
		Compact:   compact,
		Future:    s.HasClass(FutureClass),
		Main:      s.HasClass(MainCountdownClass),
	}
}
