package model

// Key names a canonical annotation field.
type Key string

const (
	KeyLocalCaseID        Key = "localCaseId"
	KeyLocalStainID       Key = "localStainId"
	KeyLocalRegionID      Key = "localRegionId"
	KeyCanonicalCaseID    Key = "canonicalCaseId"
	KeyStainProtocolRefs  Key = "stainProtocolRefs"
	KeyRegionProtocolRefs Key = "regionProtocolRefs"
)

// ScalarKeys lists the single-valued annotation keys in a stable order.
var ScalarKeys = []Key{
	KeyLocalCaseID,
	KeyLocalStainID,
	KeyLocalRegionID,
	KeyCanonicalCaseID,
}

// SetKeys lists the set-valued annotation keys.
var SetKeys = []Key{KeyStainProtocolRefs, KeyRegionProtocolRefs}

// Annotation is the per-record bag of canonical fields, each tagged with the
// source that produced its current value. Every record carries one; an
// all-empty annotation is the zero state, never a missing object.
type Annotation struct {
	Values     map[Key]string    `json:"values"`
	Sets       map[Key]StringSet `json:"sets"`
	Provenance map[Key]Source    `json:"provenance"`
}

// NewAnnotation returns an empty annotation with all maps allocated.
func NewAnnotation() *Annotation {
	return &Annotation{
		Values:     make(map[Key]string),
		Sets:       make(map[Key]StringSet),
		Provenance: make(map[Key]Source),
	}
}

// normalize re-allocates nil maps after JSON decoding so the non-nil
// invariant holds for snapshots written by older builds.
func (a *Annotation) normalize() {
	if a.Values == nil {
		a.Values = make(map[Key]string)
	}
	if a.Sets == nil {
		a.Sets = make(map[Key]StringSet)
	}
	if a.Provenance == nil {
		a.Provenance = make(map[Key]Source)
	}
}

// Value returns the scalar value for key, or "" when unset.
func (a *Annotation) Value(key Key) string {
	return a.Values[key]
}

// Refs returns the set value for key.
func (a *Annotation) Refs(key Key) StringSet {
	return a.Sets[key]
}

// IsSet reports whether key currently holds a non-empty value.
func (a *Annotation) IsSet(key Key) bool {
	if v, ok := a.Values[key]; ok && v != "" {
		return true
	}
	if s, ok := a.Sets[key]; ok && !s.Empty() {
		return true
	}
	return false
}

// SourceOf returns the provenance source for key, or "" when untagged.
func (a *Annotation) SourceOf(key Key) Source {
	return a.Provenance[key]
}

// CanOverwrite reports whether a write from candidate may replace the
// current value of key: true when nothing is set, or when the current
// provenance ranks strictly below candidate. Automated writers must
// consult this before setting; manual edits bypass it.
func (a *Annotation) CanOverwrite(key Key, candidate Source) bool {
	if !a.IsSet(key) {
		return true
	}
	return candidate.Outranks(a.Provenance[key])
}

// Empty reports whether no field holds a value.
func (a *Annotation) Empty() bool {
	for _, k := range ScalarKeys {
		if a.IsSet(k) {
			return false
		}
	}
	for _, k := range SetKeys {
		if a.IsSet(k) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (a *Annotation) Clone() *Annotation {
	c := NewAnnotation()
	for k, v := range a.Values {
		c.Values[k] = v
	}
	for k, s := range a.Sets {
		c.Sets[k] = append(StringSet(nil), s...)
	}
	for k, s := range a.Provenance {
		c.Provenance[k] = s
	}
	return c
}

// Equal reports whether two annotations carry the same field values.
// Provenance tags are intentionally excluded: the archive acknowledges
// values, not their origin.
func (a *Annotation) Equal(other *Annotation) bool {
	if other == nil {
		return a == nil || a.Empty()
	}
	for _, k := range ScalarKeys {
		if a.Value(k) != other.Value(k) {
			return false
		}
	}
	for _, k := range SetKeys {
		if !a.Refs(k).Equal(other.Refs(k)) {
			return false
		}
	}
	return true
}
