// Package model defines the record, annotation, and provenance types shared
// across the wrangler engine.
package model

// Source identifies the origin of an annotation field's current value.
// Precedence arbitrates which writers may overwrite which.
type Source string

const (
	SourceManual            Source = "manual"
	SourceColumnMapping     Source = "column_mapping"
	SourceCaseIDMapping     Source = "case_id_mapping"
	SourcePatternExtraction Source = "pattern_extraction"
	SourceRemoteArchive     Source = "remote_archive"
)

// precedence maps each source to its rank; higher wins.
var precedence = map[Source]int{
	SourceManual:            5,
	SourceColumnMapping:     4,
	SourceCaseIDMapping:     3,
	SourcePatternExtraction: 2,
	SourceRemoteArchive:     1,
}

// Precedence returns the numeric rank of s. Unknown sources rank below
// every known one.
func (s Source) Precedence() int {
	return precedence[s]
}

// Outranks reports whether s takes precedence over other.
func (s Source) Outranks(other Source) bool {
	return s.Precedence() > other.Precedence()
}

// Valid reports whether s is one of the known provenance sources.
func (s Source) Valid() bool {
	_, ok := precedence[s]
	return ok
}
