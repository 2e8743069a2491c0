package extract

import (
	"math/rand/v2"
	"net/url"
	"strings"
	"time"

	"github.com/JakeFAU/places-scraper/internal/job"
)

// Jitter picks a duration uniformly in [lo, hi].
func Jitter(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1) //nolint:gosec // pacing, not security
}

// SearchURL builds the local results search for query, scoped to location
// when one is given.
func SearchURL(query, location string) string {
	q := strings.TrimSpace(query)
	if loc := strings.TrimSpace(location); loc != "" {
		q += " in " + loc
	}
	return "https://www.google.com/search?q=" + url.QueryEscape(q) + "&udm=1"
}

func isCancelled(c job.CancelCheck) bool {
	return c != nil && c()
}
