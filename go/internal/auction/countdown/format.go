package countdown

import (
	"fmt"
	"html"
	"strings"
)

// DefaultFormat shows hours, minutes and seconds always, larger units when
// non-zero.
const DefaultFormat = "yowdHMS"

const (
	unitYears = iota
	unitMonths
	unitWeeks
	unitDays
	unitHours
	unitMinutes
	unitSeconds
	unitCount
)

const formatLetters = "YOWDHMS"

var unitLength = [unitCount]int64{365 * 86400, 30 * 86400, 7 * 86400, 86400, 3600, 60, 1}

// Labels are the display strings for each unit, largest first, plus the
// texts shown once a countdown ends.
type Labels struct {
	Plural   []string `yaml:"plural"`
	Singular []string `yaml:"singular"`
	Compact  []string `yaml:"compact"`
	Checking string   `yaml:"checking"`
	Started  string   `yaml:"started"`
}

func DefaultLabels() Labels {
	return Labels{
		Plural:   []string{"Years", "Months", "Weeks", "Days", "Hours", "Minutes", "Seconds"},
		Singular: []string{"Year", "Month", "Week", "Day", "Hour", "Minute", "Second"},
		Compact:  []string{"y", "m", "w", "d", "h", "m", "s"},
		Checking: "Patience please, we are checking if auction is finished!",
		Started:  "Auction has started! Please refresh your page.",
	}
}

// Validate checks every unit has a label.
func (l Labels) Validate() error {
	if len(l.Plural) != unitCount || len(l.Singular) != unitCount || len(l.Compact) != unitCount {
		return fmt.Errorf("labels need %d entries for plural, singular and compact", unitCount)
	}
	return nil
}

func (l Labels) withDefaults() Labels {
	def := DefaultLabels()
	if l.Validate() != nil {
		l.Plural, l.Singular, l.Compact = def.Plural, def.Singular, def.Compact
	}
	if l.Checking == "" {
		l.Checking = def.Checking
	}
	if l.Started == "" {
		l.Started = def.Started
	}
	return l
}

type visibility int

const (
	hidden visibility = iota
	optional
	always
)

// Layout is a parsed format string.
type Layout [unitCount]visibility

// ParseLayout reads a format such as "yowdHMS": upper case letters are always
// shown, lower case ones only when non-zero, absent units fold into the next
// smaller unit shown.
func ParseLayout(format string) Layout {
	if format == "" {
		format = DefaultFormat
	}
	var l Layout
	for _, r := range format {
		upper := strings.ToUpper(string(r))
		i := strings.Index(formatLetters, upper)
		if i < 0 {
			continue
		}
		if string(r) == upper {
			l[i] = always
		} else {
			l[i] = optional
		}
	}
	return l
}

// periods splits the remaining time across the units the layout mentions.
func (l Layout) periods(s Snapshot) [unitCount]int64 {
	var out [unitCount]int64
	rest := int64(s.Remaining.Seconds())
	for u := 0; u < unitCount; u++ {
		if l[u] == hidden {
			continue
		}
		out[u] = rest / unitLength[u]
		rest %= unitLength[u]
	}
	return out
}

func (l Layout) shown(periods [unitCount]int64) [unitCount]bool {
	var out [unitCount]bool
	for u := 0; u < unitCount; u++ {
		switch l[u] {
		case always:
			out[u] = true
		case optional:
			out[u] = periods[u] > 0
		}
	}
	return out
}

// Rendered is one countdown frame as text and as markup.
type Rendered struct {
	Text string
	HTML string
}

// Render formats a snapshot with full or compact labels.
func Render(s Snapshot, layout Layout, compact bool, labels Labels) Rendered {
	labels = labels.withDefaults()
	periods := layout.periods(s)
	shown := layout.shown(periods)
	if compact {
		return renderCompact(periods, shown, labels)
	}
	return renderFull(periods, shown, labels)
}

func renderFull(periods [unitCount]int64, shown [unitCount]bool, labels Labels) Rendered {
	var text, markup []string
	count := 0
	for u := 0; u < unitCount; u++ {
		if !shown[u] {
			continue
		}
		count++
		label := labels.Plural[u]
		if periods[u] == 1 {
			label = labels.Singular[u]
		}
		text = append(text, fmt.Sprintf("%d %s", periods[u], label))
		markup = append(markup, fmt.Sprintf(
			`<span class="countdown_section"><span class="countdown_amount">%d</span><br/>%s</span>`,
			periods[u], html.EscapeString(label)))
	}
	return Rendered{
		Text: strings.Join(text, " "),
		HTML: fmt.Sprintf(`<span class="countdown_row countdown_show%d">%s</span>`, count, strings.Join(markup, "")),
	}
}

func renderCompact(periods [unitCount]int64, shown [unitCount]bool, labels Labels) Rendered {
	var parts []string
	for u := unitYears; u <= unitDays; u++ {
		if shown[u] {
			parts = append(parts, fmt.Sprintf("%d%s", periods[u], labels.Compact[u]))
		}
	}

	var clock []string
	for u := unitHours; u <= unitSeconds; u++ {
		if shown[u] {
			clock = append(clock, fmt.Sprintf("%02d", periods[u]))
		}
	}
	if len(clock) > 0 {
		parts = append(parts, strings.Join(clock, ":"))
	}

	text := strings.Join(parts, " ")
	return Rendered{
		Text: text,
		HTML: fmt.Sprintf(`<span class="countdown_row"><span class="countdown_amount">%s</span></span>`, html.EscapeString(text)),
	}
}

// ExpiryHTML is what replaces a countdown once it ends.
func ExpiryHTML(future bool, labels Labels) string {
	labels = labels.withDefaults()
	if future {
		return fmt.Sprintf(`<div class="started">%s</div>`, html.EscapeString(labels.Started))
	}
	return fmt.Sprintf(`<div class="over">%s</div>`, html.EscapeString(labels.Checking))
}
