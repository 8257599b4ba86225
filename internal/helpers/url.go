package helpers

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"path"
	"sort"
	"strings"
)

var trackingQueryParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"utm_id":       {},
	"gclid":        {},
	"dclid":        {},
	"fbclid":       {},
	"msclkid":      {},
	"igshid":       {},
}

// CanonicalURL normalises a URL string so that two references to the same
// document compare equal. It lowercases scheme and host, removes default
// ports, strips fragments, cleans path segments, drops tracking query
// parameters (utm_*, fbclid, etc.) and sorts the remaining parameters.
// A missing scheme defaults to https.
func CanonicalURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty url")
	}

	parsed, err := parseLenient(raw)
	if err != nil {
		return "", err
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)

	host := strings.ToLower(parsed.Host)
	if host == "" {
		return "", errors.New("url missing host")
	}
	if h, port, ok := strings.Cut(host, ":"); ok {
		if (parsed.Scheme == "http" && port == "80") || (parsed.Scheme == "https" && port == "443") {
			host = h
		}
	}
	parsed.Host = host

	if parsed.Path == "" {
		parsed.Path = "/"
	}
	clean := path.Clean(parsed.Path)
	if clean == "." {
		clean = "/"
	}
	if !strings.HasPrefix(clean, "/") {
		clean = "/" + clean
	}
	if clean != "/" && strings.HasSuffix(parsed.Path, "/") && !strings.HasSuffix(clean, "/") {
		clean += "/"
	}
	parsed.Path = clean

	parsed.Fragment = ""
	query := parsed.Query()
	for key := range query {
		if _, drop := trackingQueryParams[strings.ToLower(key)]; drop {
			query.Del(key)
		}
	}

	if len(query) == 0 {
		parsed.RawQuery = ""
	} else {
		keys := make([]string, 0, len(query))
		for key := range query {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		var b strings.Builder
		for _, key := range keys {
			values := append([]string(nil), query[key]...)
			sort.Strings(values)
			for _, value := range values {
				if b.Len() > 0 {
					b.WriteByte('&')
				}
				b.WriteString(url.QueryEscape(key))
				if value != "" {
					b.WriteByte('=')
					b.WriteString(url.QueryEscape(value))
				}
			}
		}
		parsed.RawQuery = b.String()
	}

	return parsed.String(), nil
}

// URLFingerprint returns a SHA-256 hex digest of the canonical URL, usable as
// a stable registry key.
func URLFingerprint(raw string) (string, error) {
	canonical, err := CanonicalURL(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:]), nil
}

// Domain returns the lowercased host of raw without default ports, or ""
// when raw cannot be parsed.
func Domain(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := parseLenient(raw)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Host)
	host = strings.TrimSuffix(host, ":80")
	host = strings.TrimSuffix(host, ":443")
	return host
}

func parseLenient(raw string) (*url.URL, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme == "" && parsed.Host == "" {
		if strings.HasPrefix(raw, "//") {
			return url.Parse("https:" + raw)
		}
		return url.Parse("https://" + raw)
	}
	return parsed, nil
}
