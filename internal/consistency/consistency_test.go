package consistency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kestrellabs/skywatch/internal/document"
	"github.com/kestrellabs/skywatch/internal/retrieval"
)

func item(kind document.Kind, key string, ts time.Time, fields map[string]any) retrieval.Item {
	// Distinct IDs so a pair of observations for one key can coexist in
	// a context, as happens after a warm restart or mixed-key ingestion.
	return retrieval.Item{
		Doc: &document.Document{
			ID:         document.DeterministicID(kind, key) + "/" + ts.Format(time.RFC3339Nano),
			Kind:       kind,
			NaturalKey: key,
			Timestamp:  ts,
			Text:       "observation for " + key,
			Fields:     fields,
		},
		Kind:  kind,
		Score: 0.5,
	}
}

func TestValidateAirborneVsParked(t *testing.T) {
	v := NewValidator(DefaultRuleTable(), zap.NewNop())
	now := time.Now().UTC()

	older := item(document.KindAircraftState, "4008f5", now.Add(-30*time.Second),
		map[string]any{"airborne": true})
	newer := item(document.KindAircraftState, "4008f5", now,
		map[string]any{"status": "parked"})

	survivors, conflicts := v.Validate([]retrieval.Item{older, newer})

	require.Len(t, survivors, 1)
	assert.Equal(t, newer.Doc.ID, survivors[0].Doc.ID, "the more recent document wins")
	require.Len(t, conflicts, 1)
	assert.Equal(t, "aircraft airborne vs parked", conflicts[0].Rule)
	assert.Equal(t, "v1", conflicts[0].RuleVersion)
	assert.Equal(t, newer.Doc.ID, conflicts[0].KeptID)
	assert.Equal(t, older.Doc.ID, conflicts[0].DroppedID)
}

func TestValidateOutsideWindowIsNotAConflict(t *testing.T) {
	v := NewValidator(DefaultRuleTable(), zap.NewNop())
	now := time.Now().UTC()

	landed := item(document.KindAircraftState, "4008f5", now.Add(-10*time.Minute),
		map[string]any{"status": "airborne"})
	parked := item(document.KindAircraftState, "4008f5", now,
		map[string]any{"status": "parked"})

	survivors, conflicts := v.Validate([]retrieval.Item{landed, parked})
	assert.Len(t, survivors, 2, "an aircraft can land and park in ten minutes")
	assert.Empty(t, conflicts)
}

func TestValidateDifferentKeysNeverConflict(t *testing.T) {
	v := NewValidator(DefaultRuleTable(), zap.NewNop())
	now := time.Now().UTC()

	a := item(document.KindAircraftState, "4008f5", now, map[string]any{"status": "airborne"})
	b := item(document.KindAircraftState, "4ca1d2", now, map[string]any{"status": "parked"})

	survivors, conflicts := v.Validate([]retrieval.Item{a, b})
	assert.Len(t, survivors, 2)
	assert.Empty(t, conflicts)
}

func TestValidateVesselUnderwayVsMoored(t *testing.T) {
	v := NewValidator(DefaultRuleTable(), zap.NewNop())
	now := time.Now().UTC()

	moored := item(document.KindVessel, "232001234", now.Add(-2*time.Minute),
		map[string]any{"nav_status": "moored"})
	underway := item(document.KindVessel, "232001234", now,
		map[string]any{"status": "underway"})

	survivors, conflicts := v.Validate([]retrieval.Item{moored, underway})

	require.Len(t, survivors, 1)
	assert.Equal(t, underway.Doc.ID, survivors[0].Doc.ID)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "vessel underway vs moored", conflicts[0].Rule)
}

func TestValidatePreservesOrderAndUnrelatedItems(t *testing.T) {
	v := NewValidator(DefaultRuleTable(), zap.NewNop())
	now := time.Now().UTC()

	weather := item(document.KindWeather, "egpk", now, map[string]any{"wind_kt": 15})
	parked := item(document.KindAircraftState, "4008f5", now,
		map[string]any{"status": "parked"})
	airborne := item(document.KindAircraftState, "4008f5", now.Add(-time.Minute),
		map[string]any{"status": "airborne"})

	survivors, conflicts := v.Validate([]retrieval.Item{weather, parked, airborne})

	require.Len(t, conflicts, 1)
	require.Len(t, survivors, 2)
	assert.Equal(t, weather.Doc.ID, survivors[0].Doc.ID, "order of survivors is preserved")
	assert.Equal(t, parked.Doc.ID, survivors[1].Doc.ID)
}

func TestValidateSingleItem(t *testing.T) {
	v := NewValidator(DefaultRuleTable(), zap.NewNop())

	single := []retrieval.Item{item(document.KindWeather, "egpf", time.Now().UTC(), nil)}
	survivors, conflicts := v.Validate(single)
	assert.Equal(t, single, survivors)
	assert.Empty(t, conflicts)
}

func TestFieldMatchLooseComparison(t *testing.T) {
	doc := &document.Document{Fields: map[string]any{
		"status":   "Parked",
		"airborne": true,
		"count":    float64(2),
	}}

	assert.True(t, FieldMatch{Field: "status", Value: "parked"}.Matches(doc),
		"string match is case-insensitive")
	assert.True(t, FieldMatch{Field: "airborne", Value: true}.Matches(doc))
	assert.False(t, FieldMatch{Field: "airborne", Value: false}.Matches(doc))
	assert.True(t, FieldMatch{Field: "count", Value: 2}.Matches(doc),
		"JSON numbers decode as float64 but still compare")
	assert.False(t, FieldMatch{Field: "missing", Value: "x"}.Matches(doc))
}
