package helpers

import (
	"reflect"
	"testing"
)

func TestScanSourceMarkers(t *testing.T) {
	t.Parallel()

	text := "Growth slowed [SOURCE:https://a.com/x] while exports rose " +
		"[SOURCE:https://b.com/y]. Later data confirmed it [SOURCE:https://a.com/x]."
	got := ScanSourceMarkers(text)
	want := []string{"https://a.com/x", "https://b.com/y", "https://a.com/x"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ScanSourceMarkers = %v, want %v", got, want)
	}

	if got := ScanSourceMarkers("no markers here"); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestReplaceSourceMarkers(t *testing.T) {
	t.Parallel()

	ids := map[string]int{"https://a.com/x": 1, "https://b.com/y": 2}
	text := "First [SOURCE:https://a.com/x], second [SOURCE:https://b.com/y], unknown [SOURCE:https://c.com/z]."
	got := ReplaceSourceMarkers(text, func(u string) int { return ids[u] })
	want := "First [1], second [2], unknown ."
	if got != want {
		t.Fatalf("ReplaceSourceMarkers = %q, want %q", got, want)
	}
}

func TestStripSourceMarkers(t *testing.T) {
	t.Parallel()

	got := StripSourceMarkers("a [SOURCE:https://a.com/x] b")
	if got != "a b" {
		t.Fatalf("StripSourceMarkers = %q", got)
	}
}

func TestFormatReference(t *testing.T) {
	t.Parallel()

	got := FormatReference(3, "Quarterly Outlook", "https://example.com/report")
	want := "[3] Quarterly Outlook (example.com) <https://example.com/report>"
	if got != want {
		t.Fatalf("FormatReference = %q, want %q", got, want)
	}

	if got := FormatReference(1, "", ""); got != "[1]" {
		t.Fatalf("FormatReference bare = %q", got)
	}
}
