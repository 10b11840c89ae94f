package ics

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"momcal/internal/model"
)

var (
	urlPattern     = regexp.MustCompile(`(?i)https?://[^\s"<>]+`)
	httpPrefix     = regexp.MustCompile(`(?i)^https?://`)
	trailingPunct  = regexp.MustCompile(`[).,]+$`)
	linkTagPattern = regexp.MustCompile(`(?i)#link:\s*(.+)`)
)

// NormalizeURL extracts the first http(s) URL from raw and strips trailing
// punctuation. It returns "" when nothing URL-like remains.
func NormalizeURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	candidate := trimmed
	if m := urlPattern.FindString(trimmed); m != "" {
		candidate = m
	}
	cleaned := trailingPunct.ReplaceAllString(candidate, "")
	if !httpPrefix.MatchString(cleaned) {
		return ""
	}
	return cleaned
}

// ExtractLinkFromDescription mines an info link from an event description.
// Order: first anchor href, then a "#link: <url>" tag, then any bare URL.
func ExtractLinkFromDescription(description string) string {
	if description == "" {
		return ""
	}

	if href := NormalizeURL(firstHref(description)); href != "" {
		return href
	}

	decoded := html.UnescapeString(description)
	if m := linkTagPattern.FindStringSubmatch(decoded); m != nil {
		if tagged := NormalizeURL(m[1]); tagged != "" {
			return tagged
		}
	}

	return NormalizeURL(decoded)
}

// ResolveInfoLink returns the event's normalized URL, or one mined from its
// description.
func ResolveInfoLink(ev model.CalendarEvent) string {
	if link := NormalizeURL(ev.InfoLink); link != "" {
		return link
	}
	return ExtractLinkFromDescription(ev.Description)
}

// firstHref returns the href of the first <a> element in s. Descriptions
// published by calendar providers are HTML fragments, sometimes entity-encoded
// twice, so the text is decoded once before tokenizing.
func firstHref(s string) string {
	z := html.NewTokenizer(strings.NewReader(html.UnescapeString(s)))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "a" || !hasAttr {
				continue
			}
			for {
				key, val, more := z.TagAttr()
				if string(key) == "href" {
					return string(val)
				}
				if !more {
					break
				}
			}
		}
	}
}
