package billing

import (
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// DisplayDateLayout is the canonical date format on screens and documents.
const DisplayDateLayout = "02.01.2006"

var (
	displayDateRe = regexp.MustCompile(`^\d{2}\.\d{2}\.\d{4}$`)
	isoDateRe     = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// fallbackLayouts are tried, in order, when the value is neither a display
// date nor a plain or timestamped ISO date.
var fallbackLayouts = []string{
	time.RFC3339Nano,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02 15:04:05",
	"2006/01/02",
	"02/01/2006",
	"Jan 2, 2006",
	"2 Jan 2006",
}

// FormatDate normalises the date shapes the billing API emits to DD.MM.YYYY.
// Empty input renders as "-"; anything unparseable is returned unchanged.
func FormatDate(raw string) string {
	v := strings.TrimSpace(raw)
	if v == "" {
		return "-"
	}
	if displayDateRe.MatchString(v) {
		return v
	}
	if isoDateRe.MatchString(v) {
		return v[8:10] + "." + v[5:7] + "." + v[0:4]
	}
	if i := strings.IndexByte(v, 'T'); i > 0 && isoDateRe.MatchString(v[:i]) {
		d := v[:i]
		return d[8:10] + "." + d[5:7] + "." + d[0:4]
	}
	for _, layout := range fallbackLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Format(DisplayDateLayout)
		}
	}
	log.Debug().Str("value", raw).Msg("unrecognised date, displaying raw value")
	return raw
}

// Today returns the current date as YYYY-MM-DD, the format bills are saved in.
func Today(now time.Time) string {
	return now.Format("2006-01-02")
}
