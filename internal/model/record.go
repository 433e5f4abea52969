package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// recordNamespace seeds deterministic IDs for records whose source system
// supplies no identifier of its own.
var recordNamespace = uuid.MustParse("8f1c2a44-5f6e-4d0a-9b3c-1d2e3f405162")

// Record is one slide/specimen file under management.
type Record struct {
	// ID is stable for the life of the collection: the archive item ID
	// when the record came from the remote archive, otherwise synthesized
	// deterministically from the source name.
	ID string `json:"id"`

	// Name is the display name (typically the filename) that pattern
	// rules are evaluated against.
	Name string `json:"name"`

	// ItemID is the remote archive item this record maps to, when known.
	ItemID string `json:"itemId,omitempty"`

	// RawFields holds the original source attributes, immutable after
	// ingest.
	RawFields map[string]string `json:"rawFields,omitempty"`

	Annotation *Annotation `json:"annotation"`

	LastAnnotationChange time.Time `json:"lastAnnotationChange,omitzero"`
}

// NewRecord builds a record with a deterministic synthesized ID derived from
// the source label and display name.
func NewRecord(sourceLabel, name string, raw map[string]string) *Record {
	return &Record{
		ID:         uuid.NewSHA1(recordNamespace, []byte(sourceLabel+"/"+name)).String(),
		Name:       name,
		RawFields:  raw,
		Annotation: NewAnnotation(),
	}
}

// Clone returns a deep copy that shares no mutable state with r.
func (r *Record) Clone() *Record {
	out := *r
	if r.RawFields != nil {
		out.RawFields = make(map[string]string, len(r.RawFields))
		for k, v := range r.RawFields {
			out.RawFields[k] = v
		}
	}
	out.Annotation = r.Annotation.Clone()
	return &out
}

// UnmarshalJSON restores the annotation-always-present invariant for
// records decoded from snapshots.
func (r *Record) UnmarshalJSON(data []byte) error {
	type alias Record
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*r = Record(a)
	if r.Annotation == nil {
		r.Annotation = NewAnnotation()
	} else {
		r.Annotation.normalize()
	}
	return nil
}

// SetField writes a scalar annotation field, stamping provenance and the
// mutation time. It overwrites unconditionally; callers that are not manual
// writers must check CanOverwrite first. Returns true when the stored value
// or source actually changed.
func (r *Record) SetField(key Key, value string, source Source) bool {
	if r.Annotation.Values[key] == value && r.Annotation.Provenance[key] == source {
		return false
	}
	if value == "" {
		delete(r.Annotation.Values, key)
		delete(r.Annotation.Provenance, key)
	} else {
		r.Annotation.Values[key] = value
		r.Annotation.Provenance[key] = source
	}
	r.LastAnnotationChange = time.Now().UTC()
	return true
}

// SetRefs writes a set-valued annotation field with the same semantics as
// SetField.
func (r *Record) SetRefs(key Key, refs StringSet, source Source) bool {
	if r.Annotation.Sets[key].Equal(refs) && r.Annotation.Provenance[key] == source {
		return false
	}
	if refs.Empty() {
		delete(r.Annotation.Sets, key)
		delete(r.Annotation.Provenance, key)
	} else {
		r.Annotation.Sets[key] = refs
		r.Annotation.Provenance[key] = source
	}
	r.LastAnnotationChange = time.Now().UTC()
	return true
}
