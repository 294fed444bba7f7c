package db

import (
	"sort"
	"strings"
)

// ReadSet records every key and key prefix a transaction observed.
// Prefix entries cover keys that did not exist at read time, so inserts
// into a scanned range are seen as conflicts.
type ReadSet struct {
	keys     map[string]struct{}
	prefixes map[string]struct{}
}

func NewReadSet() *ReadSet {
	return &ReadSet{
		keys:     make(map[string]struct{}),
		prefixes: make(map[string]struct{}),
	}
}

func (r *ReadSet) AddKey(key string) {
	r.keys[key] = struct{}{}
}

func (r *ReadSet) AddPrefix(prefix string) {
	r.prefixes[prefix] = struct{}{}
}

func (r *ReadSet) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys) + len(r.prefixes)
}

// Covers reports whether a write to key would invalidate this read set.
func (r *ReadSet) Covers(key string) bool {
	if r == nil {
		return false
	}
	if _, ok := r.keys[key]; ok {
		return true
	}
	for p := range r.prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// Overlaps reports whether any of the written keys is covered.
func (r *ReadSet) Overlaps(written []string) bool {
	for _, k := range written {
		if r.Covers(k) {
			return true
		}
	}
	return false
}

// Prefixes returns the recorded prefixes in sorted order.
func (r *ReadSet) Prefixes() []string {
	out := make([]string, 0, len(r.prefixes))
	for p := range r.prefixes {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Keys returns the recorded exact keys in sorted order.
func (r *ReadSet) Keys() []string {
	out := make([]string, 0, len(r.keys))
	for k := range r.keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
