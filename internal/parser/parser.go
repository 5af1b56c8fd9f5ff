// Package parser extracts clock data from raw channel message text.
// A message qualifies as a clock update when it contains at least one
// clock-related keyword and at least one recognizable time pattern.
package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ClockData is the structured result of parsing one message. It is
// transient: the ingestion pipeline consumes it and discards it.
type ClockData struct {
	Time        string // normalized HH:MM:SS
	Description string
	RawMessage  string
}

// fallbackDescription is returned when stripping the time token and emoji
// leaves nothing meaningful behind.
const fallbackDescription = "Time remaining until the epochal deal is signed"

const maxDescriptionLen = 200

// minDescriptionLen is the shortest leftover text still worth keeping as a
// description.
const minDescriptionLen = 10

// Ordered time patterns; the first pattern that matches anywhere in the
// text wins. Colon-separated and triple-group forms are tried first.
var timePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(\d{1,2}):(\d{2}):(\d{2})`),
	regexp.MustCompile(`(\d{1,2}):(\d{2})`),
	regexp.MustCompile(`(\d{1,2})\.(\d{2})\.(\d{2})`),
	regexp.MustCompile(`(\d{1,2})\.(\d{2})`),
}

// clockKeywords gate parsing. Matching is case-insensitive substring
// containment, so a keyword inside a larger word still counts
// ("seconds" matches "second").
var clockKeywords = []string{
	"hour",
	"time",
	"minute",
	"second",
	"contract",
	"agreement",
	"deal",
	"doom",
	"until",
	"remains",
	"remaining",
}

var (
	timeTokenRe  = regexp.MustCompile(`\d{1,2}[:.]\d{2}([:.]\d{2})?`)
	clockEmojiRe = regexp.MustCompile("[⏰⏱⏲\U0001F550-\U0001F567\U0001F514\U0001F3AF⚡]")
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Parse extracts clock data from a message. It returns false when the text
// is blank, contains no clock keyword, or contains no time pattern.
func Parse(messageText string) (*ClockData, bool) {
	text := strings.TrimSpace(messageText)
	if text == "" {
		return nil, false
	}

	if !ContainsClockKeywords(text) {
		return nil, false
	}

	timeStr, ok := ExtractTime(text)
	if !ok {
		return nil, false
	}

	return &ClockData{
		Time:        timeStr,
		Description: ExtractDescription(text, timeStr),
		RawMessage:  text,
	}, true
}

// ContainsClockKeywords reports whether the lower-cased text contains any
// clock keyword as a substring.
func ContainsClockKeywords(text string) bool {
	lower := strings.ToLower(text)
	for _, keyword := range clockKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// ExtractTime finds the first time pattern in the text and normalizes it to
// zero-padded HH:MM:SS. Values are not range-checked; "25:99" is accepted
// and formatted verbatim.
func ExtractTime(text string) (string, bool) {
	for _, pattern := range timePatterns {
		match := pattern.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		return formatTimeGroups(match[1:]), true
	}
	return "", false
}

func formatTimeGroups(groups []string) string {
	parts := make([]int, len(groups))
	for i, g := range groups {
		// Groups are 1-2 digit strings by construction.
		parts[i], _ = strconv.Atoi(g)
	}
	if len(parts) == 3 {
		return fmt.Sprintf("%02d:%02d:%02d", parts[0], parts[1], parts[2])
	}
	return fmt.Sprintf("%02d:%02d:00", parts[0], parts[1])
}

// ExtractDescription strips the first time-like substring and all clock
// emoji from the text, collapses whitespace, and trims. Leftovers shorter
// than the minimum become the fixed fallback phrase; anything longer than
// 200 characters is truncated.
func ExtractDescription(text, _ string) string {
	cleaned := text
	if loc := timeTokenRe.FindStringIndex(cleaned); loc != nil {
		cleaned = cleaned[:loc[0]] + cleaned[loc[1]:]
	}

	cleaned = clockEmojiRe.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(whitespaceRe.ReplaceAllString(cleaned, " "))

	runes := []rune(cleaned)
	if len(runes) < minDescriptionLen {
		return fallbackDescription
	}
	if len(runes) > maxDescriptionLen {
		return string(runes[:maxDescriptionLen])
	}
	return cleaned
}

// TimeMatch describes one raw pattern hit found by ParseMultipleFormats.
type TimeMatch struct {
	Pattern   string
	Groups    []string
	Formatted string
}

// ParseResult is the diagnostic output of ParseMultipleFormats.
type ParseResult struct {
	OriginalText string
	HasKeywords  bool
	FoundTimes   []TimeMatch
	ParsedData   *ClockData
}

// ParseMultipleFormats runs every time pattern over the text and reports all
// matches alongside the final parse. Intended for debugging channel content
// that fails to parse.
func ParseMultipleFormats(messageText string) ParseResult {
	result := ParseResult{
		OriginalText: messageText,
		HasKeywords:  ContainsClockKeywords(messageText),
	}

	for _, pattern := range timePatterns {
		for _, match := range pattern.FindAllStringSubmatch(messageText, -1) {
			groups := match[1:]
			result.FoundTimes = append(result.FoundTimes, TimeMatch{
				Pattern:   pattern.String(),
				Groups:    groups,
				Formatted: formatTimeGroups(groups),
			})
		}
	}

	result.ParsedData, _ = Parse(messageText)
	return result
}
