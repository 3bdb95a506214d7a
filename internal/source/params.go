// internal/source/params.go - Query parameter parsing and merging
package source

import (
	"net/url"
	"sort"
	"strings"
)

// Params is a set of query parameters whose names match case-insensitively
type Params map[string]string

// ParseParams parses "key=value&key=value" pairs; the last occurrence of a key wins
func ParseParams(raw string) Params {
	p := make(Params)
	for _, pair := range strings.Split(raw, "&") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		key, value, _ := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}

		if unescaped, err := url.QueryUnescape(value); err == nil {
			value = unescaped
		}
		p.Set(key, value)
	}
	return p
}

// Set stores value under key, replacing any entry whose name differs only in case
func (p Params) Set(key, value string) {
	for existing := range p {
		if existing != key && strings.EqualFold(existing, key) {
			delete(p, existing)
		}
	}
	p[key] = value
}

// Get returns the value stored under key, ignoring case
func (p Params) Get(key string) (string, bool) {
	if v, ok := p[key]; ok {
		return v, true
	}
	for existing, v := range p {
		if strings.EqualFold(existing, key) {
			return v, true
		}
	}
	return "", false
}

// Clone returns an independent copy
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// MergeParams layers the given sets in order; later layers win
func MergeParams(layers ...Params) Params {
	out := make(Params)
	for _, layer := range layers {
		// Sorted so a layer holding two spellings of one key resolves the same way every call
		keys := make([]string, 0, len(layer))
		for k := range layer {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			out.Set(k, layer[k])
		}
	}
	return out
}

// Encode renders the parameters as a query string with sorted keys.
// Commas and colons stay literal so bbox and CRS values remain readable.
func (p Params) Encode() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(literalEscape(p[k]))
	}
	return b.String()
}

func literalEscape(v string) string {
	v = url.QueryEscape(v)
	v = strings.ReplaceAll(v, "%2C", ",")
	v = strings.ReplaceAll(v, "%3A", ":")
	return v
}

// joinQuery appends a query string to a service URL that may already carry one
func joinQuery(base, query string) string {
	if query == "" {
		return base
	}

	switch {
	case strings.HasSuffix(base, "?"), strings.HasSuffix(base, "&"):
		return base + query
	case strings.Contains(base, "?"):
		return base + "&" + query
	default:
		return base + "?" + query
	}
}
