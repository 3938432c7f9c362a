package domain

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

const (
	maxDetailKeys     = 40
	maxDetailKeyLen   = 64
	maxDetailValueLen = 4000
)

// Details holds the structured wizard answers keyed by question id (camelCase).
type Details map[string]string

// Validate checks the mapping at the boundary so the core can trust it.
func (d Details) Validate() error {
	if len(d) > maxDetailKeys {
		return fmt.Errorf("details: at most %d answers allowed", maxDetailKeys)
	}
	for key, value := range d {
		if key == "" || len(key) > maxDetailKeyLen {
			return fmt.Errorf("details: invalid key %q", key)
		}
		for i, r := range key {
			if !(unicode.IsLetter(r) || (i > 0 && (unicode.IsDigit(r) || r == '_'))) {
				return fmt.Errorf("details: invalid key %q", key)
			}
		}
		if len(value) > maxDetailValueLen {
			return fmt.Errorf("details: answer for %q exceeds %d characters", key, maxDetailValueLen)
		}
	}
	return nil
}

// Keys returns the keys with non-blank answers in sorted order.
func (d Details) Keys() []string {
	keys := make([]string, 0, len(d))
	for key, value := range d {
		if strings.TrimSpace(value) == "" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a copy safe to hand to another goroutine.
func (d Details) Clone() Details {
	if d == nil {
		return nil
	}
	out := make(Details, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// HumanizeKey turns a camelCase or snake_case key into a title, e.g.
// "targetAudience" -> "Target Audience".
func HumanizeKey(key string) string {
	var words []string
	var current []rune
	flush := func() {
		if len(current) > 0 {
			words = append(words, string(current))
			current = current[:0]
		}
	}
	runes := []rune(key)
	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || unicode.IsSpace(r):
			flush()
			continue
		case unicode.IsUpper(r) && i > 0 && !unicode.IsUpper(runes[i-1]):
			flush()
		}
		current = append(current, r)
	}
	flush()
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
