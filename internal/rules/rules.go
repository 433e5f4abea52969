// Package rules applies column-mapping and pattern-extraction rules to fill
// unset annotation fields, respecting provenance precedence.
package rules

import (
	"os"
	"regexp"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/pitt-bdsa/BDSA-Schema-Wrangler-sub004/internal/model"
)

// Tracker receives dirty marks for records mutated by the engine.
type Tracker interface {
	Mark(id string)
}

// RuleSet is the operator-supplied rule file.
type RuleSet struct {
	// Columns maps a canonical key to the raw source field that supplies it.
	Columns map[model.Key]string `yaml:"columns"`

	// Patterns maps a canonical key to a regular expression evaluated
	// against the record's display name. The first capture group wins;
	// with no groups the whole match is used.
	Patterns map[model.Key]string `yaml:"patterns"`

	// Shims maps a canonical key to canonical-value -> raw aliases.
	// Values matching an alias are rewritten to the canonical spelling
	// without disturbing provenance.
	Shims map[model.Key]map[string][]string `yaml:"shims"`
}

// Load reads a YAML rule file.
func Load(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "rules: read file")
	}
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, eris.Wrap(err, "rules: parse yaml")
	}
	return &rs, nil
}

// Engine evaluates rule sets against records. Compiled patterns are cached;
// a pattern that fails to compile is logged once and treated as "no match"
// for its key only.
type Engine struct {
	tracker  Tracker
	compiled map[string]*regexp.Regexp
	bad      map[string]bool
}

// NewEngine creates an engine reporting mutations to tracker.
func NewEngine(tracker Tracker) *Engine {
	return &Engine{
		tracker:  tracker,
		compiled: make(map[string]*regexp.Regexp),
		bad:      make(map[string]bool),
	}
}

// Apply runs the rule set against one record and returns whether anything
// changed. With force set, existing pattern_extraction values are treated as
// overwritable so edited patterns can re-extract; higher-precedence values
// are never disturbed.
func (e *Engine) Apply(rec *model.Record, rs *RuleSet, force bool) bool {
	changed := false
	for _, key := range model.ScalarKeys {
		if e.applyKey(rec, rs, key, force) {
			changed = true
		}
	}
	if changed && e.tracker != nil {
		e.tracker.Mark(rec.ID)
	}
	return changed
}

func (e *Engine) applyKey(rec *model.Record, rs *RuleSet, key model.Key, force bool) bool {
	ann := rec.Annotation

	if col, ok := rs.Columns[key]; ok {
		raw := rec.RawFields[col]
		if raw != "" && ann.CanOverwrite(key, model.SourceColumnMapping) {
			return rec.SetField(key, raw, model.SourceColumnMapping)
		}
		if raw != "" {
			// Column rule exists but loses on precedence; pattern rules
			// would lose harder, so stop here.
			return false
		}
	}

	pattern, ok := rs.Patterns[key]
	if !ok {
		return false
	}

	allowed := ann.CanOverwrite(key, model.SourcePatternExtraction) ||
		(force && ann.SourceOf(key) == model.SourcePatternExtraction)
	if !allowed {
		return false
	}

	re := e.compile(key, pattern)
	if re == nil {
		return false
	}

	m := re.FindStringSubmatch(rec.Name)
	if m == nil {
		return false
	}
	value := m[0]
	if len(m) > 1 {
		value = m[1]
	}
	if value == "" {
		return false
	}
	return rec.SetField(key, value, model.SourcePatternExtraction)
}

func (e *Engine) compile(key model.Key, pattern string) *regexp.Regexp {
	if re, ok := e.compiled[pattern]; ok {
		return re
	}
	if e.bad[pattern] {
		return nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		e.bad[pattern] = true
		zap.L().Warn("malformed extraction pattern",
			zap.String("key", string(key)),
			zap.String("pattern", pattern),
			zap.Error(err),
		)
		return nil
	}
	e.compiled[pattern] = re
	return re
}

// ApplyShims normalizes already-extracted values against the shim
// dictionary: any value matching a raw alias is rewritten to its canonical
// spelling. Provenance is preserved since the origin of the value did not
// change. Returns whether anything changed.
func (e *Engine) ApplyShims(rec *model.Record, rs *RuleSet) bool {
	changed := false
	for key, aliases := range rs.Shims {
		cur := rec.Annotation.Value(key)
		if cur == "" {
			continue
		}
		canonical, ok := lookupShim(aliases, cur)
		if !ok || canonical == cur {
			continue
		}
		src := rec.Annotation.SourceOf(key)
		if rec.SetField(key, canonical, src) {
			changed = true
		}
	}
	if changed && e.tracker != nil {
		e.tracker.Mark(rec.ID)
	}
	return changed
}

func lookupShim(aliases map[string][]string, value string) (string, bool) {
	if _, isCanonical := aliases[value]; isCanonical {
		return value, true
	}
	for canonical, raws := range aliases {
		for _, raw := range raws {
			if raw == value {
				return canonical, true
			}
		}
	}
	return "", false
}
