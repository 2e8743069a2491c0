package extract

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/places-scraper/internal/job"
)

// Missing is written for fields the panel did not expose.
const Missing = "N/A"

var (
	reviewCount = regexp.MustCompile(`([\d.,]+[Kk]?)`)
	phoneNumber = regexp.MustCompile(`(\+?\d[\d\s\-()]{7,})`)
)

// ParseDetail reads one business from a rendered detail panel snapshot.
// cardName is the first line of the clicked result card and wins over the
// panel heading when present.
func ParseDetail(html, cardName, pageURL, location string) (job.Place, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return job.Place{}, fmt.Errorf("parse detail html: %w", err)
	}
	p := job.Place{
		Name:           firstNonEmpty(cardName, parseName(doc)),
		Rating:         firstMatch(doc, ratingSelectors, textOf, isRating),
		TotalReviews:   parseReviews(doc),
		Category:       firstMatch(doc, categorySelectors, textOf, shortText),
		Address:        parseAddress(doc),
		Phone:          parsePhone(doc),
		Website:        firstMatch(doc, websiteSelectors, hrefOrText, isExternalSite),
		PriceRange:     firstMatch(doc, priceSelectors, textOf, hasDollar),
		HoursStatus:    firstMatch(doc, hoursSelectors, textOf, nonEmpty),
		GoogleMapsURL:  firstNonEmpty(pageURL),
		SearchLocation: firstNonEmpty(location),
	}
	return p, nil
}

// CardName returns the first non-blank line of a result card.
func CardName(cardText string) string {
	for _, line := range strings.Split(cardText, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

func parseName(doc *goquery.Document) string {
	if name := firstMatch(doc, nameSelectors, textOf, nonEmpty); name != Missing {
		return name
	}
	var name string
	doc.Find(`h1, h2, [role="heading"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if t := textOf(s); utf8.RuneCountInString(t) > 2 {
			name = t
			return false
		}
		return true
	})
	return name
}

func parseReviews(doc *goquery.Document) string {
	for _, sel := range reviewSelectors {
		s := doc.Find(sel).First()
		if s.Length() == 0 {
			continue
		}
		if m := reviewCount.FindStringSubmatch(textOf(s)); m != nil {
			return strings.Trim(m[1], "() ")
		}
	}
	return Missing
}

func parseAddress(doc *goquery.Document) string {
	return firstMatch(doc, addressSelectors, func(s *goquery.Selection) string {
		v := labelOrText(s)
		v = strings.ReplaceAll(v, "Address: ", "")
		v = strings.ReplaceAll(v, "Copy address", "")
		return strings.TrimSpace(v)
	}, nonEmpty)
}

func parsePhone(doc *goquery.Document) string {
	for _, sel := range phoneSelectors {
		var phone string
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			v := labelOrText(s)
			for _, junk := range []string{"Phone: ", "Copy phone number", "Call", "phone number"} {
				v = strings.ReplaceAll(v, junk, "")
			}
			v = strings.TrimSpace(v)
			if v == "" || (!strings.Contains(v, "+") && digitCount(v) < 7) {
				return true
			}
			if m := phoneNumber.FindStringSubmatch(v); m != nil {
				phone = strings.TrimSpace(m[1])
			} else {
				phone = v
			}
			return false
		})
		if phone != "" {
			return phone
		}
	}
	return Missing
}

// firstMatch returns the first value read by extract from the first
// element of each selector that passes accept.
func firstMatch(
	doc *goquery.Document,
	selectors []string,
	extract func(*goquery.Selection) string,
	accept func(string) bool,
) string {
	for _, sel := range selectors {
		s := doc.Find(sel).First()
		if s.Length() == 0 {
			continue
		}
		if v := extract(s); accept(v) {
			return v
		}
	}
	return Missing
}

func textOf(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}

func labelOrText(s *goquery.Selection) string {
	if v, ok := s.Attr("aria-label"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return textOf(s)
}

func hrefOrText(s *goquery.Selection) string {
	if v, ok := s.Attr("href"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return textOf(s)
}

func nonEmpty(v string) bool { return v != "" }

func hasDollar(v string) bool { return strings.Contains(v, "$") }

func shortText(v string) bool { return v != "" && utf8.RuneCountInString(v) < 50 }

func isRating(v string) bool {
	stripped := strings.NewReplacer(".", "", ",", "").Replace(v)
	if stripped == "" {
		return false
	}
	for _, r := range stripped {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func isExternalSite(v string) bool {
	return strings.Contains(v, "http") && !strings.Contains(strings.ToLower(v), "google")
}

func digitCount(v string) int {
	n := 0
	for _, r := range v {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return n
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return Missing
}
