// Package extract turns free document text into dated events with a purely
// rule-based grammar. No ML, no I/O: same text in, same items out.
package extract

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tenantguard/backend/internal/events"
)

// Window sizes for context classification around each date match.
const (
	contextBefore = 100
	contextAfter  = 50
)

// Event type buckets for extracted items.
const (
	TypeNotice  = "notice"
	TypeCourt   = "court"
	TypePayment = "payment"
	TypeOther   = "other"
)

// dateMatch is one date found in the text, with its span for context slicing.
type dateMatch struct {
	date       time.Time
	start, end int
}

type datePattern struct {
	re    *regexp.Regexp
	parse func(m []string) (time.Time, bool)
}

// contextRule classifies a date by the text around it. Rules are evaluated
// in order; the first matching rule wins.
type contextRule struct {
	re         *regexp.Regexp
	title      string
	eventType  string
	confidence float64
}

var monthNames = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may":  time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

const monthAlt = `january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sept|sep|oct|nov|dec`

// Patterns ordered so the ISO form wins over the ambiguous dash form on the
// same span.
var datePatterns = []datePattern{
	{
		re: regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`),
		parse: func(m []string) (time.Time, bool) {
			return buildDate(m[1], m[2], m[3])
		},
	},
	{
		re: regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`),
		parse: func(m []string) (time.Time, bool) {
			return buildDate(m[3], m[1], m[2])
		},
	},
	{
		re: regexp.MustCompile(`\b(\d{1,2})-(\d{1,2})-(\d{4})\b`),
		parse: func(m []string) (time.Time, bool) {
			return buildDate(m[3], m[1], m[2])
		},
	},
	{
		re: regexp.MustCompile(`(?i)\b(` + monthAlt + `)\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})\b`),
		parse: func(m []string) (time.Time, bool) {
			month, ok := monthNames[strings.ToLower(m[1])]
			if !ok {
				return time.Time{}, false
			}
			return buildDateParts(m[3], int(month), m[2])
		},
	},
	{
		re: regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+(` + monthAlt + `)\.?,?\s+(\d{4})\b`),
		parse: func(m []string) (time.Time, bool) {
			month, ok := monthNames[strings.ToLower(m[2])]
			if !ok {
				return time.Time{}, false
			}
			return buildDateParts(m[3], int(month), m[1])
		},
	},
}

// contextRules in evaluation order. The leading rows mirror the notice and
// court language seen in real filings; later rows cover lease and payment
// phrasing.
var contextRules = []contextRule{
	{regexp.MustCompile(`notice|served|delivered|given`), "Notice Served", TypeNotice, 0.9},
	{regexp.MustCompile(`must vacate|vacate by|quit by|leave by`), "Vacate Deadline", TypeNotice, 0.95},
	{regexp.MustCompile(`filed|filing date`), "Court Filing", TypeCourt, 0.95},
	{regexp.MustCompile(`hearing|trial|appear`), "Court Hearing", TypeCourt, 0.95},
	{regexp.MustCompile(`answer by|respond by|response due`), "Answer Deadline", TypeCourt, 0.9},
	{regexp.MustCompile(`lease commence|lease start|commence|start|begin`), "Lease Start", TypeOther, 0.9},
	{regexp.MustCompile(`lease end|expire|terminat`), "Lease End", TypeOther, 0.85},
	{regexp.MustCompile(`rent due|payable`), "Rent Due", TypePayment, 0.85},
	{regexp.MustCompile(`paid|payment made|received`), "Payment Made", TypePayment, 0.85},
	{regexp.MustCompile(`deposit`), "Deposit Deadline", TypePayment, 0.8},
	{regexp.MustCompile(`repair|fix|remediat`), "Repair Date", TypeOther, 0.8},
	{regexp.MustCompile(`inspect`), "Inspection", TypeOther, 0.8},
	{regexp.MustCompile(`move.?out`), "Move Out", TypeOther, 0.8},
	{regexp.MustCompile(`move.?in`), "Move In", TypeOther, 0.8},
}

var (
	excludeRe  = regexp.MustCompile(`dob|date of birth|ssn|case no`)
	deadlineRe = regexp.MustCompile(`\bby\b|\bbefore\b|deadline|\bdue\b|\bmust\b|no later than|expire|within`)
)

// hintFallback maps a document-type hint to the event type used for dated
// items that no context rule classified.
var hintFallback = map[string]string{
	"court_filing":    TypeCourt,
	"court_summons":   TypeCourt,
	"eviction_notice": TypeNotice,
	"notice_to_quit":  TypeNotice,
	"pay_or_quit":     TypeNotice,
	"rent_receipt":    TypePayment,
}

// Extract finds dated events in text. docType is an optional hint that only
// influences unclassified matches. Items come back deduplicated by
// (date, event type, title), first match winning, sorted by date ascending.
func Extract(text, docType string) []events.DatedItem {
	matches := findDates(text)

	type key struct {
		date      string
		eventType string
		title     string
	}
	seen := make(map[key]bool)
	var items []events.DatedItem

	for _, m := range matches {
		before, after := contextAround(text, m.start, m.end)
		ctx := strings.ToLower(before + " " + after)
		if excludeRe.MatchString(ctx) {
			continue
		}

		item, ok := classify(ctx, docType)
		if !ok {
			continue
		}
		item.Date = m.date
		item.IsDeadline = deadlineRe.MatchString(strings.ToLower(before))
		item.Context = strings.TrimSpace(before)

		k := key{m.date.Format("2006-01-02"), item.EventType, item.Title}
		if seen[k] {
			continue
		}
		seen[k] = true
		items = append(items, item)
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Date.Before(items[j].Date)
	})
	return items
}

func classify(ctx, docType string) (events.DatedItem, bool) {
	for _, rule := range contextRules {
		if rule.re.MatchString(ctx) {
			return events.DatedItem{
				Title:      rule.title,
				EventType:  rule.eventType,
				Confidence: rule.confidence,
			}, true
		}
	}

	// Unclassified dates are kept only when the surrounding text reads like
	// a deadline; anything else is noise.
	if deadlineRe.MatchString(ctx) {
		et := hintFallback[docType]
		if et == "" {
			et = TypeOther
		}
		return events.DatedItem{Title: "Deadline", EventType: et, Confidence: 0.6}, true
	}
	return events.DatedItem{}, false
}

// findDates runs every date pattern and drops overlapping matches, keeping
// the earliest pattern's parse for a given span.
func findDates(text string) []dateMatch {
	var all []dateMatch
	claimed := make([]bool, len(text))

	for _, p := range datePatterns {
		for _, idx := range p.re.FindAllStringSubmatchIndex(text, -1) {
			start, end := idx[0], idx[1]
			if overlaps(claimed, start, end) {
				continue
			}
			groups := make([]string, 0, len(idx)/2)
			for g := 0; g < len(idx); g += 2 {
				if idx[g] < 0 {
					groups = append(groups, "")
					continue
				}
				groups = append(groups, text[idx[g]:idx[g+1]])
			}
			date, ok := p.parse(groups)
			if !ok {
				continue
			}
			for i := start; i < end; i++ {
				claimed[i] = true
			}
			all = append(all, dateMatch{date: date, start: start, end: end})
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].start < all[j].start })
	return all
}

func overlaps(claimed []bool, start, end int) bool {
	for i := start; i < end && i < len(claimed); i++ {
		if claimed[i] {
			return true
		}
	}
	return false
}

func contextAround(text string, start, end int) (before, after string) {
	b := start - contextBefore
	if b < 0 {
		b = 0
	}
	a := end + contextAfter
	if a > len(text) {
		a = len(text)
	}
	return text[b:start], text[end:a]
}

func buildDate(year, month, day string) (time.Time, bool) {
	m, err := strconv.Atoi(month)
	if err != nil {
		return time.Time{}, false
	}
	return buildDateParts(year, m, day)
}

// buildDateParts validates ranges (month 1-12, day valid for the month, year
// 1900-2100) and drops years before 2000, a heuristic that discards dates of
// birth.
func buildDateParts(year string, month int, day string) (time.Time, bool) {
	y, err := strconv.Atoi(year)
	if err != nil {
		return time.Time{}, false
	}
	d, err := strconv.Atoi(day)
	if err != nil {
		return time.Time{}, false
	}
	if y < 1900 || y > 2100 || month < 1 || month > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	if y < 2000 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(month), d, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes out-of-range days (Feb 30 becomes Mar 2); reject
	// anything that moved.
	if t.Day() != d || t.Month() != time.Month(month) {
		return time.Time{}, false
	}
	return t, true
}
