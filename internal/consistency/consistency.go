// Package consistency detects and resolves contradictory facts among
// retrieved documents before they reach the composer.
//
// Contradictions are declared, not inferred: a versioned rule table names
// the mutually exclusive structured-field combinations per kind and the
// time window inside which two observations count as the same period.
// On conflict the most recent document wins and the older one is dropped,
// with a ConflictRecord emitted for observability.
package consistency

import (
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/kestrellabs/skywatch/internal/document"
	"github.com/kestrellabs/skywatch/internal/retrieval"
)

// ConflictsTotal counts resolved contradictions by kind.
var ConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "skywatch",
	Subsystem: "consistency",
	Name:      "conflicts_total",
	Help:      "Contradictions resolved during validation, by document kind",
}, []string{"kind"})

// FieldMatch asserts one structured-field observation, matched loosely:
// booleans compare as booleans, everything else compares as lowercased
// strings.
type FieldMatch struct {
	Field string
	Value any
}

// Matches reports whether the document's fields carry this observation.
func (m FieldMatch) Matches(doc *document.Document) bool {
	raw, ok := doc.Fields[m.Field]
	if !ok {
		return false
	}
	if want, isBool := m.Value.(bool); isBool {
		got, gotBool := raw.(bool)
		return gotBool && got == want
	}
	return strings.EqualFold(fmt.Sprint(raw), fmt.Sprint(m.Value))
}

// Rule declares one mutually exclusive state pair for a kind. A document
// asserts side A (or B) when any of that side's field matches holds.
type Rule struct {
	Name   string
	Kind   document.Kind
	Window time.Duration
	A      []FieldMatch
	B      []FieldMatch
}

func matchesAny(doc *document.Document, side []FieldMatch) bool {
	for _, m := range side {
		if m.Matches(doc) {
			return true
		}
	}
	return false
}

// Conflicts reports whether two same-key documents of the rule's kind
// assert opposite sides within the rule's window.
func (r Rule) Conflicts(a, b *document.Document) bool {
	if a.Kind != r.Kind || b.Kind != r.Kind {
		return false
	}
	if a.NaturalKey != b.NaturalKey {
		return false
	}
	gap := a.Timestamp.Sub(b.Timestamp)
	if gap < 0 {
		gap = -gap
	}
	if gap > r.Window {
		return false
	}
	return (matchesAny(a, r.A) && matchesAny(b, r.B)) ||
		(matchesAny(a, r.B) && matchesAny(b, r.A))
}

// RuleTable is a versioned set of contradiction rules.
type RuleTable struct {
	Version string
	Rules   []Rule
}

// DefaultRuleTable returns rule table v1.
func DefaultRuleTable() RuleTable {
	return RuleTable{
		Version: "v1",
		Rules: []Rule{
			{
				Name:   "aircraft airborne vs parked",
				Kind:   document.KindAircraftState,
				Window: 120 * time.Second,
				A: []FieldMatch{
					{Field: "airborne", Value: true},
					{Field: "status", Value: "airborne"},
				},
				B: []FieldMatch{
					{Field: "status", Value: "parked"},
					{Field: "on_ground", Value: true},
				},
			},
			{
				Name:   "vessel underway vs moored",
				Kind:   document.KindVessel,
				Window: 300 * time.Second,
				A: []FieldMatch{
					{Field: "status", Value: "underway"},
					{Field: "nav_status", Value: "underway"},
				},
				B: []FieldMatch{
					{Field: "status", Value: "moored"},
					{Field: "nav_status", Value: "moored"},
				},
			},
		},
	}
}

// ConflictRecord captures one resolved contradiction.
type ConflictRecord struct {
	Rule        string
	RuleVersion string
	Kind        document.Kind
	NaturalKey  string
	KeptID      string
	DroppedID   string
}

// Validator scans a retrieved context pairwise against the rule table.
type Validator struct {
	table  RuleTable
	logger *zap.Logger
}

// NewValidator creates a validator over the given rule table.
func NewValidator(table RuleTable, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{table: table, logger: logger}
}

// RuleVersion returns the active rule table version.
func (v *Validator) RuleVersion() string {
	return v.table.Version
}

// Validate drops the older document of each conflicting pair and returns
// the surviving context in its original order plus the conflict records.
func (v *Validator) Validate(items []retrieval.Item) ([]retrieval.Item, []ConflictRecord) {
	if len(items) < 2 {
		return items, nil
	}

	dropped := make(map[string]bool)
	var conflicts []ConflictRecord

	for i := 0; i < len(items); i++ {
		for j := i + 1; j < len(items); j++ {
			a, b := items[i].Doc, items[j].Doc
			if dropped[a.ID] || dropped[b.ID] {
				continue
			}
			for _, rule := range v.table.Rules {
				if !rule.Conflicts(a, b) {
					continue
				}
				kept, lost := a, b
				if b.Supersedes(a) {
					kept, lost = b, a
				}
				dropped[lost.ID] = true
				conflicts = append(conflicts, ConflictRecord{
					Rule:        rule.Name,
					RuleVersion: v.table.Version,
					Kind:        kept.Kind,
					NaturalKey:  kept.NaturalKey,
					KeptID:      kept.ID,
					DroppedID:   lost.ID,
				})
				ConflictsTotal.WithLabelValues(string(kept.Kind)).Inc()
				v.logger.Warn("resolved contradictory context",
					zap.String("rule", rule.Name),
					zap.String("natural_key", kept.NaturalKey),
					zap.String("kept", kept.ID),
					zap.String("dropped", lost.ID))
				break
			}
		}
	}

	if len(dropped) == 0 {
		return items, nil
	}
	survivors := make([]retrieval.Item, 0, len(items)-len(dropped))
	for _, item := range items {
		if !dropped[item.Doc.ID] {
			survivors = append(survivors, item)
		}
	}
	return survivors, conflicts
}
