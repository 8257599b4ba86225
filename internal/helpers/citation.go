package helpers

import (
	"fmt"
	"regexp"
	"strings"
)

// sourceMarkerPattern matches the inline attribution markers synthesis
// embeds in section text, e.g. [SOURCE:https://example.com/page].
var sourceMarkerPattern = regexp.MustCompile(`\[SOURCE:(https?://[^\]\s]+)\]`)

// ScanSourceMarkers returns the URLs of every [SOURCE:url] marker in text,
// in order of appearance. Duplicates are preserved; callers dedup.
func ScanSourceMarkers(text string) []string {
	matches := sourceMarkerPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	urls := make([]string, 0, len(matches))
	for _, m := range matches {
		urls = append(urls, m[1])
	}
	return urls
}

// ReplaceSourceMarkers rewrites every [SOURCE:url] marker using resolve,
// which maps a marker URL to its numeric bibliography id. Markers whose URL
// resolves to 0 are removed rather than left dangling.
func ReplaceSourceMarkers(text string, resolve func(url string) int) string {
	return sourceMarkerPattern.ReplaceAllStringFunc(text, func(marker string) string {
		sub := sourceMarkerPattern.FindStringSubmatch(marker)
		if len(sub) != 2 {
			return marker
		}
		id := resolve(sub[1])
		if id <= 0 {
			return ""
		}
		return fmt.Sprintf("[%d]", id)
	})
}

// StripSourceMarkers removes every [SOURCE:url] marker from text, collapsing
// the doubled spaces the removal leaves behind. Used for word counts and
// summary excerpts where markers would pollute the prose.
func StripSourceMarkers(text string) string {
	out := sourceMarkerPattern.ReplaceAllString(text, "")
	return strings.Join(strings.Fields(out), " ")
}

// FormatReference renders a numbered bibliography line:
// [id] Title — domain <URL>
func FormatReference(id int, title, rawURL string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d]", id)
	if t := strings.TrimSpace(title); t != "" {
		b.WriteString(" " + t)
	}
	if d := Domain(rawURL); d != "" {
		b.WriteString(" (" + d + ")")
	}
	if u := strings.TrimSpace(rawURL); u != "" {
		b.WriteString(" <" + u + ">")
	}
	return b.String()
}
