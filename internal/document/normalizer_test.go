package document

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicID(t *testing.T) {
	a := DeterministicID(KindAircraftState, "4008F5")
	b := DeterministicID(KindAircraftState, "4008F5")
	c := DeterministicID(KindWeather, "4008F5")

	assert.Equal(t, a, b, "same kind and natural key must map to the same ID")
	assert.NotEqual(t, a, c, "different kinds must not collide")
}

func TestNormalizeAircraft(t *testing.T) {
	n := NewNormalizer(nil)

	raw := []byte(`{"hex":"4008F5","flight":"EZY1234","squawk":"7700","alt_baro":3200,"gs":145,"lat":55.5094,"lon":-4.5867,"airborne":true}`)
	doc, err := n.Normalize(KindAircraftState, raw)
	require.NoError(t, err)

	assert.Equal(t, KindAircraftState, doc.Kind)
	assert.Equal(t, "4008F5", doc.NaturalKey)
	assert.Equal(t, DeterministicID(KindAircraftState, "4008F5"), doc.ID)
	assert.Contains(t, doc.Text, "EZY1234")
	assert.Contains(t, doc.Text, "squawk 7700")
	assert.Contains(t, doc.Text, "altitude 3200 ft")
	assert.Contains(t, doc.Text, "status airborne")
	assert.Equal(t, true, doc.Fields["airborne"])
	assert.False(t, doc.Timestamp.IsZero())
}

func TestNormalizeValidationErrors(t *testing.T) {
	n := NewNormalizer(nil)

	tests := []struct {
		name string
		kind Kind
		raw  string
	}{
		{"aircraft without identity", KindAircraftState, `{"alt_baro":3000}`},
		{"weather without station", KindWeather, `{"wind_dir_degrees":230}`},
		{"notice without id", KindNotice, `{"text":"runway closed"}`},
		{"notice without text", KindNotice, `{"location":"EGPK","number":"A0123/26"}`},
		{"transcript without text", KindTranscript, `{"channel":"EGPF TWR"}`},
		{"vessel without mmsi", KindVessel, `{"name":"Caledonian Isles"}`},
		{"malformed json", KindWeather, `{station`},
		{"unknown kind", Kind("radar"), `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(tt.kind, []byte(tt.raw))
			require.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestNormalizeWeather(t *testing.T) {
	n := NewNormalizer(nil)

	raw := []byte(`{"station":"egpk","wind_dir_degrees":230,"wind_speed_kt":15,"visibility":"10km","timestamp":"2026-08-23T12:03:00Z"}`)
	doc, err := n.Normalize(KindWeather, raw)
	require.NoError(t, err)

	assert.Equal(t, "EGPK", doc.NaturalKey, "station codes are upper-cased")
	assert.Contains(t, doc.Text, "wind 230 at 15 kt")
	assert.Contains(t, doc.Text, "visibility 10km")
	assert.Equal(t, time.Date(2026, 8, 23, 12, 3, 0, 0, time.UTC), doc.Timestamp)
}

func TestNormalizeNotice(t *testing.T) {
	n := NewNormalizer(nil)

	doc, err := n.Normalize(KindNotice, []byte(`{"location":"EGPK","number":"A0123/26","text":"runway 23 closed","status":"active"}`))
	require.NoError(t, err)
	assert.Equal(t, "EGPK/A0123/26", doc.NaturalKey)
	assert.Contains(t, doc.Text, "runway 23 closed")
}

func TestNormalizeTranscriptSequenceKeepsTransmissionsDistinct(t *testing.T) {
	n := NewNormalizer(nil)

	a, err := n.Normalize(KindTranscript, []byte(`{"channel":"EGPF TWR","sequence":"41","text":"EZY1234 cleared for takeoff runway 23"}`))
	require.NoError(t, err)
	b, err := n.Normalize(KindTranscript, []byte(`{"channel":"EGPF TWR","sequence":"42","text":"BA1234 wind 230 at 15 knots"}`))
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Contains(t, a.Text, "EGPF TWR")
}

func TestNormalizeVessel(t *testing.T) {
	n := NewNormalizer(nil)

	doc, err := n.Normalize(KindVessel, []byte(`{"mmsi":232003233,"name":"Caledonian Isles","sog":12.5,"status":"underway"}`))
	require.NoError(t, err)
	assert.Equal(t, "232003233", doc.NaturalKey)
	assert.Contains(t, doc.Text, "Caledonian Isles")
	assert.Contains(t, doc.Text, "status underway")
}

func TestSupersedes(t *testing.T) {
	t0 := time.Now()
	older := &Document{ID: "x", Timestamp: t0}
	newer := &Document{ID: "x", Timestamp: t0.Add(time.Second)}

	assert.True(t, newer.Supersedes(older))
	assert.False(t, older.Supersedes(newer))
	assert.False(t, older.Supersedes(older), "equal timestamps do not supersede")
}

func TestRecordTimestampUnixSeconds(t *testing.T) {
	n := NewNormalizer(nil)

	doc, err := n.Normalize(KindWeather, []byte(`{"station":"EGPF","raw_text":"EGPF 231150Z 25012KT 9999","timestamp":1787572980}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1787572980), doc.Timestamp.Unix())
}
