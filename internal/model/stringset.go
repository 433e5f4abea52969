package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// StringSet is a normalized set of strings used for protocol reference
// fields. Source data is inconsistent about shape (a single string, a
// comma-separated list, or a JSON array); UnmarshalJSON accepts all three so
// the rest of the engine never type-sniffs.
type StringSet []string

// NewStringSet builds a set from the given values, dropping empties and
// duplicates and sorting the result.
func NewStringSet(values ...string) StringSet {
	seen := make(map[string]struct{}, len(values))
	var out StringSet
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// ParseStringSet normalizes a raw value that may be a single token or a
// comma-separated list.
func ParseStringSet(raw string) StringSet {
	return NewStringSet(strings.Split(raw, ",")...)
}

// Contains reports whether v is a member of the set.
func (s StringSet) Contains(v string) bool {
	for _, m := range s {
		if m == v {
			return true
		}
	}
	return false
}

// Add returns a set containing the members of s plus v.
func (s StringSet) Add(v string) StringSet {
	return NewStringSet(append(append([]string(nil), s...), v)...)
}

// Equal reports whether two sets have the same members.
func (s StringSet) Equal(other StringSet) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Empty reports whether the set has no members.
func (s StringSet) Empty() bool {
	return len(s) == 0
}

// MarshalJSON always emits a JSON array, the canonical shape.
func (s StringSet) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(s))
}

// UnmarshalJSON accepts a JSON array, a bare string (optionally
// comma-separated), or null.
func (s *StringSet) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*s = NewStringSet(arr...)
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = ParseStringSet(single)
		return nil
	}

	if string(data) == "null" {
		*s = nil
		return nil
	}

	return fmt.Errorf("stringset: cannot unmarshal %s", string(data))
}
