// Package extractor turns opaque video locators (watch URLs, short links,
// embed URLs, or bare identifiers) into canonical 11-character video IDs.
package extractor

import (
	"errors"
	"strings"

	"github.com/grafana/regexp"
)

// ErrNoVideoID is returned when no video identifier can be extracted from a
// locator. This is an expected outcome for arbitrary input, not a fault.
var ErrNoVideoID = errors.New("no video id found in locator")

// ID is a canonical 11-character video identifier. Immutable once derived;
// it is the lookup key for all catalog operations.
type ID string

func (id ID) String() string { return string(id) }

// IsValid reports whether the identifier has the canonical shape: exactly 11
// characters drawn from [0-9A-Za-z_-].
func (id ID) IsValid() bool {
	return rawIDPattern.MatchString(string(id))
}

var rawIDPattern = regexp.MustCompile(`^[0-9A-Za-z_-]{11}$`)

// locatorPatterns are tried in order, most specific first. The final pattern
// is the permissive catch-all that matches an identifier after "v=" or any
// path separator.
var locatorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`youtu\.be/([0-9A-Za-z_-]{11})`),
	regexp.MustCompile(`[?&]v=([0-9A-Za-z_-]{11})`),
	regexp.MustCompile(`/(?:embed|shorts|live|v)/([0-9A-Za-z_-]{11})`),
	regexp.MustCompile(`(?:v=|/)([0-9A-Za-z_-]{11})`),
}

// hostMarkers gate pattern matching: a locator that looks like a URL but
// names none of these hosts is rejected outright rather than scraped for
// anything 11 characters long.
var hostMarkers = []string{
	"youtube.com",
	"youtu.be",
	"youtube-nocookie.com",
}

// ExtractID derives the canonical video ID from a locator string.
//
// Accepted inputs:
//   - a bare 11-character identifier
//   - any URL form naming a recognized host (watch, short link, embed,
//     shorts, live)
//
// Returns ErrNoVideoID when the locator names no recognized host or no
// pattern yields an identifier.
func ExtractID(locator string) (ID, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return "", ErrNoVideoID
	}

	// A bare identifier needs no host marker.
	if id := ID(locator); id.IsValid() {
		return id, nil
	}

	if !hasHostMarker(locator) {
		return "", ErrNoVideoID
	}

	for _, p := range locatorPatterns {
		if m := p.FindStringSubmatch(locator); m != nil {
			return ID(m[1]), nil
		}
	}

	return "", ErrNoVideoID
}

func hasHostMarker(locator string) bool {
	lower := strings.ToLower(locator)
	for _, marker := range hostMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
