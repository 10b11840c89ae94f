// Package category classifies calendar events by explicit description tags
// and configured keywords.
package category

import (
	"regexp"
	"strings"

	"golang.org/x/text/language"

	"momcal/internal/model"
)

var supportedLangs = []language.Tag{language.English, language.German}

var langMatcher = language.NewMatcher(supportedLangs)

// Categorizer resolves a category key for an event. It holds only static
// configuration and is safe for concurrent use.
type Categorizer struct {
	categories []model.Category
	defaultKey string
	tagPattern *regexp.Regexp
	byKey      map[string]model.Category
}

// New builds a Categorizer. Keys and keywords are matched case-insensitively;
// categories are tried in the given order.
func New(categories []model.Category, defaultKey string) *Categorizer {
	c := &Categorizer{
		defaultKey: strings.ToLower(defaultKey),
		byKey:      make(map[string]model.Category, len(categories)),
	}

	keys := make([]string, 0, len(categories))
	for _, cat := range categories {
		norm := model.Category{
			Key:      strings.ToLower(cat.Key),
			Label:    cat.Label,
			Keywords: make([]string, 0, len(cat.Keywords)),
		}
		for _, kw := range cat.Keywords {
			if kw = strings.ToLower(kw); kw != "" {
				norm.Keywords = append(norm.Keywords, kw)
			}
		}
		c.categories = append(c.categories, norm)
		c.byKey[norm.Key] = norm
		if norm.Key != "" {
			keys = append(keys, regexp.QuoteMeta(norm.Key))
		}
	}

	if len(keys) > 0 {
		c.tagPattern = regexp.MustCompile(`(?:^|\s)(?:type:|category:|#)(` + strings.Join(keys, "|") + `)\b`)
	}
	return c
}

// Resolve returns exactly one category key for ev:
//  1. an explicit "type:<key>", "category:<key>" or "#<key>" tag in the description,
//  2. the first category whose keyword is a substring of title, description and location,
//  3. the default key.
func (c *Categorizer) Resolve(ev model.CalendarEvent) string {
	description := strings.ToLower(ev.Description)

	if c.tagPattern != nil {
		if m := c.tagPattern.FindStringSubmatch(description); m != nil {
			return m[1]
		}
	}

	haystack := strings.ToLower(ev.Title + " " + description + " " + ev.Location)
	for _, cat := range c.categories {
		for _, kw := range cat.Keywords {
			if strings.Contains(haystack, kw) {
				return cat.Key
			}
		}
	}

	return c.defaultKey
}

// Default returns the fallback category key.
func (c *Categorizer) Default() string {
	return c.defaultKey
}

// Categories returns the configured categories in match order.
func (c *Categorizer) Categories() []model.Category {
	return append([]model.Category(nil), c.categories...)
}

// Label returns the localized label for key, or the key itself when unknown.
func (c *Categorizer) Label(key, lang string) string {
	cat, ok := c.byKey[key]
	if !ok || cat.Label.EN == "" {
		return key
	}
	return cat.Label.Get(lang)
}

// MatchLanguage picks "en" or "de" from an explicit preference or an
// Accept-Language header value. English is the fallback.
func MatchLanguage(preferred, acceptLanguage string) string {
	var tags []language.Tag
	if preferred != "" {
		if t, err := language.Parse(preferred); err == nil {
			tags = append(tags, t)
		}
	}
	if acceptLanguage != "" {
		if parsed, _, err := language.ParseAcceptLanguage(acceptLanguage); err == nil {
			tags = append(tags, parsed...)
		}
	}
	if len(tags) == 0 {
		return "en"
	}

	_, idx, conf := langMatcher.Match(tags...)
	if conf == language.No {
		return "en"
	}
	if supportedLangs[idx] == language.German {
		return "de"
	}
	return "en"
}
