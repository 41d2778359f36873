package client

import (
	"net/http"
)

// headerEntry stores a single header key/value pair with its original casing.
type headerEntry struct {
	key   string
	value string
}

// OrderedHeader preserves the exact capitalisation and insertion order of a
// watcher's header template.
//
// http.Header is a map keyed by canonical names, so it loses both the order
// and the casing an operator wrote into the template.  Some origins profile
// clients on exactly those two properties, and a watcher that is supposed to
// observe a page as a given client must send the template verbatim.
//
// OrderedHeader is not safe for concurrent use; each request builds its own.
type OrderedHeader struct {
	entries []headerEntry
}

// Add appends key/value, preserving the exact casing of key.  Repeated keys
// produce repeated entries, like http.Header.Add.
func (h *OrderedHeader) Add(key, value string) {
	h.entries = append(h.entries, headerEntry{key: key, value: value})
}

// Set replaces the first entry matching key (case-insensitively), removes any
// later duplicates, and adopts the casing of key.  Missing keys are appended.
func (h *OrderedHeader) Set(key, value string) {
	canonKey := http.CanonicalHeaderKey(key)
	replaced := false
	out := h.entries[:0]
	for _, e := range h.entries {
		if http.CanonicalHeaderKey(e.key) == canonKey {
			if !replaced {
				out = append(out, headerEntry{key: key, value: value})
				replaced = true
			}
		} else {
			out = append(out, e)
		}
	}
	if !replaced {
		out = append(out, headerEntry{key: key, value: value})
	}
	h.entries = out
}

// Del removes all entries matching key (case-insensitively).
func (h *OrderedHeader) Del(key string) {
	canonKey := http.CanonicalHeaderKey(key)
	out := h.entries[:0]
	for _, e := range h.entries {
		if http.CanonicalHeaderKey(e.key) != canonKey {
			out = append(out, e)
		}
	}
	h.entries = out
}

// Get returns the first value matching key (case-insensitively), or "".
func (h *OrderedHeader) Get(key string) string {
	canonKey := http.CanonicalHeaderKey(key)
	for _, e := range h.entries {
		if http.CanonicalHeaderKey(e.key) == canonKey {
			return e.value
		}
	}
	return ""
}

// Len returns the number of entries, duplicates included.
func (h *OrderedHeader) Len() int { return len(h.entries) }

// ApplyToRequest replaces req.Header with the entries of h, writing raw keys
// directly into the map so net/http does not canonicalise their casing.  The
// http2 layer HPACK-encodes whatever key string it is given, so casing
// survives on the wire for both HTTP/1.1 and HTTP/2.
func (h *OrderedHeader) ApplyToRequest(req *http.Request) {
	req.Header = make(http.Header, len(h.entries))
	for _, e := range h.entries {
		req.Header[e.key] = append(req.Header[e.key], e.value)
	}
}
