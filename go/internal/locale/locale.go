// Package locale holds the user-facing strings of the page in the languages
// the site ships.
package locale

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	"github.com/mcdev12/auctionsync/go/internal/auction/countdown"
)

// Message keys.
const (
	KeySyncError = "sync_error"
	KeyChecking  = "checking"
	KeyStarted   = "started"
)

var unitKeys = []string{"years", "months", "weeks", "days", "hours", "minutes", "seconds"}

var supported = []language.Tag{language.English, language.German, language.French}

var matcher = language.NewMatcher(supported)

type entry struct {
	sync     string
	checking string
	started  string
	plural   []string
	singular []string
	compact  []string
}

var entries = map[language.Tag]entry{
	language.English: {
		sync:     "An error occurred. Please try again.",
		checking: "Patience please, we are checking if auction is finished!",
		started:  "Auction has started! Please refresh your page.",
		plural:   []string{"Years", "Months", "Weeks", "Days", "Hours", "Minutes", "Seconds"},
		singular: []string{"Year", "Month", "Week", "Day", "Hour", "Minute", "Second"},
		compact:  []string{"y", "m", "w", "d", "h", "m", "s"},
	},
	language.German: {
		sync:     "Ein Fehler ist aufgetreten. Bitte versuchen Sie es erneut.",
		checking: "Bitte haben Sie etwas Geduld, wir prüfen, ob die Auktion beendet ist!",
		started:  "Die Auktion hat begonnen! Bitte laden Sie die Seite neu.",
		plural:   []string{"Jahre", "Monate", "Wochen", "Tage", "Stunden", "Minuten", "Sekunden"},
		singular: []string{"Jahr", "Monat", "Woche", "Tag", "Stunde", "Minute", "Sekunde"},
		compact:  []string{"J", "M", "W", "T", "h", "m", "s"},
	},
	language.French: {
		sync:     "Une erreur est survenue. Veuillez réessayer.",
		checking: "Patience, nous vérifions si l'enchère est terminée !",
		started:  "L'enchère a commencé ! Veuillez actualiser la page.",
		plural:   []string{"Années", "Mois", "Semaines", "Jours", "Heures", "Minutes", "Secondes"},
		singular: []string{"Année", "Mois", "Semaine", "Jour", "Heure", "Minute", "Seconde"},
		compact:  []string{"a", "m", "s", "j", "h", "m", "s"},
	},
}

func newCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for tag, e := range entries {
		_ = b.SetString(tag, KeySyncError, e.sync)
		_ = b.SetString(tag, KeyChecking, e.checking)
		_ = b.SetString(tag, KeyStarted, e.started)
		for i, key := range unitKeys {
			_ = b.SetString(tag, key, e.plural[i])
			_ = b.SetString(tag, key+".one", e.singular[i])
			_ = b.SetString(tag, key+".compact", e.compact[i])
		}
	}
	return b
}

var shared = newCatalog()

// Translator renders message keys in one language.
type Translator struct {
	tag     language.Tag
	printer *message.Printer
}

// New picks the closest supported language to lang. Unknown or empty input
// falls back to English.
func New(lang string) *Translator {
	tag := language.English
	if lang != "" {
		if parsed, err := language.Parse(lang); err == nil {
			_, index, _ := matcher.Match(parsed)
			tag = supported[index]
		}
	}
	return &Translator{
		tag:     tag,
		printer: message.NewPrinter(tag, message.Catalog(shared)),
	}
}

func (t *Translator) Tag() language.Tag {
	return t.tag
}

// String returns the text for key.
func (t *Translator) String(key string) string {
	return t.printer.Sprintf(key)
}

// SyncError is the notice shown in a results region when a listing request
// fails.
func (t *Translator) SyncError() string {
	return t.String(KeySyncError)
}

// CountdownLabels returns the countdown unit labels and expiry texts.
func (t *Translator) CountdownLabels() countdown.Labels {
	labels := countdown.Labels{
		Checking: t.String(KeyChecking),
		Started:  t.String(KeyStarted),
	}
	for _, key := range unitKeys {
		labels.Plural = append(labels.Plural, t.String(key))
		labels.Singular = append(labels.Singular, t.String(key+".one"))
		labels.Compact = append(labels.Compact, t.String(key+".compact"))
	}
	return labels
}
