package client_test

import (
	"net/http"
	"testing"

	"github.com/GabriWar/vigilant/client"
)

func TestOrderedHeaderAddGet(t *testing.T) {
	h := &client.OrderedHeader{}
	h.Add("x-custom-token", "a")
	h.Add("Accept", "text/html")

	if got := h.Get("X-Custom-Token"); got != "a" {
		t.Errorf("Get is not case-insensitive: %q", got)
	}
	if h.Len() != 2 {
		t.Errorf("Len = %d, want 2", h.Len())
	}
}

func TestOrderedHeaderSetReplacesAndDeduplicates(t *testing.T) {
	h := &client.OrderedHeader{}
	h.Add("accept", "a")
	h.Add("User-Agent", "ua")
	h.Add("Accept", "b")

	h.Set("ACCEPT", "c")
	if h.Len() != 2 {
		t.Fatalf("Len = %d, want 2 after dedup", h.Len())
	}
	if got := h.Get("accept"); got != "c" {
		t.Errorf("Get(accept) = %q, want %q", got, "c")
	}
}

func TestOrderedHeaderDel(t *testing.T) {
	h := &client.OrderedHeader{}
	h.Add("a", "1")
	h.Add("A", "2")
	h.Add("b", "3")
	h.Del("a")
	if h.Len() != 1 || h.Get("b") != "3" {
		t.Errorf("Del left %d entries", h.Len())
	}
}

func TestOrderedHeaderApplyToRequestPreservesCasing(t *testing.T) {
	h := &client.OrderedHeader{}
	h.Add("x-lowercase-token", "v")
	h.Add("Mixed-Case-Header", "w")

	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	req.Header.Set("Stale", "gone")
	h.ApplyToRequest(req)

	if _, ok := req.Header["x-lowercase-token"]; !ok {
		t.Error("raw lowercase key not preserved")
	}
	if _, ok := req.Header["Stale"]; ok {
		t.Error("pre-existing headers should be replaced")
	}
	if len(req.Header) != 2 {
		t.Errorf("header count = %d, want 2", len(req.Header))
	}
}
