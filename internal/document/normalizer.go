package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrValidation indicates a malformed source record. The record is dropped;
// the ingestion adapter owns the retry/drop decision.
var ErrValidation = errors.New("invalid record")

// timeNow is a variable for testing purposes (allows mocking time).
var timeNow = time.Now

// Normalizer converts raw source records into uniform Documents.
//
// It is the single onboarding point for new record kinds: each kind has one
// normalization path that derives the natural key, validates identity fields
// and renders the embedding text.
type Normalizer struct {
	logger *zap.Logger
}

// NewNormalizer creates a Normalizer.
func NewNormalizer(logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{logger: logger}
}

// Normalize converts a raw JSON record of the given kind into a Document.
// Returns an error wrapping ErrValidation when identity fields are missing.
func (n *Normalizer) Normalize(kind Kind, raw []byte) (*Document, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrValidation, kind)
	}

	var rec map[string]any
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: malformed JSON: %v", ErrValidation, err)
	}

	var doc *Document
	var err error
	switch kind {
	case KindAircraftState:
		doc, err = normalizeAircraft(rec)
	case KindWeather:
		doc, err = normalizeWeather(rec)
	case KindNotice:
		doc, err = normalizeNotice(rec)
	case KindTranscript:
		doc, err = normalizeTranscript(rec)
	case KindVessel:
		doc, err = normalizeVessel(rec)
	case KindOther:
		doc, err = normalizeOther(rec)
	}
	if err != nil {
		return nil, err
	}

	doc.Kind = kind
	doc.ID = DeterministicID(kind, doc.NaturalKey)
	if doc.Timestamp.IsZero() {
		doc.Timestamp = recordTimestamp(rec)
	}
	if doc.SourceRef == "" {
		doc.SourceRef = stringField(rec, "source")
	}
	if doc.Text == "" {
		// Every normalization path renders text; treat a miss as a bug
		// in the per-kind renderer, not as caller error.
		return nil, fmt.Errorf("%w: empty text rendering for %s", ErrValidation, doc.NaturalKey)
	}
	return doc, nil
}

func normalizeAircraft(rec map[string]any) (*Document, error) {
	hex := strings.TrimSpace(stringField(rec, "hex"))
	flight := strings.TrimSpace(stringField(rec, "flight"))
	key := hex
	if key == "" {
		key = flight
	}
	if key == "" {
		return nil, fmt.Errorf("%w: aircraft record missing hex and flight", ErrValidation)
	}

	callsign := flight
	if callsign == "" {
		callsign = hex
	}

	var parts []string
	parts = append(parts, fmt.Sprintf("Aircraft %s", callsign))
	if hex != "" && flight != "" {
		parts[0] = fmt.Sprintf("Aircraft %s (%s)", flight, hex)
	}
	fields := map[string]any{}
	if sq := stringField(rec, "squawk"); sq != "" {
		parts = append(parts, "squawk "+sq)
		fields["squawk"] = sq
	}
	if alt, ok := numberField(rec, "alt_baro"); ok {
		parts = append(parts, fmt.Sprintf("altitude %.0f ft", alt))
		fields["altitude"] = alt
	}
	if gs, ok := numberField(rec, "gs"); ok {
		parts = append(parts, fmt.Sprintf("ground speed %.0f kt", gs))
		fields["ground_speed"] = gs
	}
	if lat, ok := numberField(rec, "lat"); ok {
		if lon, ok2 := numberField(rec, "lon"); ok2 {
			parts = append(parts, fmt.Sprintf("position %.4f, %.4f", lat, lon))
			fields["lat"], fields["lon"] = lat, lon
		}
	}
	if airborne, ok := rec["airborne"].(bool); ok {
		fields["airborne"] = airborne
		if airborne {
			parts = append(parts, "status airborne")
		}
	}
	if st := stringField(rec, "status"); st != "" {
		fields["status"] = st
		parts = append(parts, "status "+st)
	}

	return &Document{
		NaturalKey: key,
		Text:       strings.Join(parts, ", "),
		Fields:     fields,
	}, nil
}

func normalizeWeather(rec map[string]any) (*Document, error) {
	station := strings.ToUpper(strings.TrimSpace(stringField(rec, "station")))
	if station == "" {
		return nil, fmt.Errorf("%w: weather record missing station", ErrValidation)
	}

	parts := []string{fmt.Sprintf("Weather report for %s", station)}
	fields := map[string]any{"station": station}
	if dir, ok := numberField(rec, "wind_dir_degrees"); ok {
		fields["wind_dir"] = dir
		if spd, ok2 := numberField(rec, "wind_speed_kt"); ok2 {
			parts = append(parts, fmt.Sprintf("wind %.0f at %.0f kt", dir, spd))
			fields["wind_speed"] = spd
		} else {
			parts = append(parts, fmt.Sprintf("wind from %.0f degrees", dir))
		}
	}
	if vis := stringField(rec, "visibility"); vis != "" {
		parts = append(parts, "visibility "+vis)
		fields["visibility"] = vis
	}
	if raw := stringField(rec, "raw_text"); raw != "" {
		parts = append(parts, raw)
	}

	return &Document{
		NaturalKey: station,
		Text:       strings.Join(parts, ", "),
		Fields:     fields,
	}, nil
}

func normalizeNotice(rec map[string]any) (*Document, error) {
	location := strings.ToUpper(strings.TrimSpace(stringField(rec, "location")))
	number := strings.TrimSpace(stringField(rec, "number"))
	id := strings.TrimSpace(stringField(rec, "id"))

	key := id
	if key == "" && location != "" && number != "" {
		key = location + "/" + number
	}
	if key == "" {
		return nil, fmt.Errorf("%w: notice record missing id and location/number", ErrValidation)
	}

	body := stringField(rec, "text")
	if body == "" {
		body = stringField(rec, "body")
	}
	if body == "" {
		return nil, fmt.Errorf("%w: notice record missing text", ErrValidation)
	}

	text := "Notice"
	if location != "" {
		text += " for " + location
	}
	text += ": " + body

	fields := map[string]any{"location": location}
	if st := stringField(rec, "status"); st != "" {
		fields["status"] = st
	}

	return &Document{
		NaturalKey: key,
		Text:       text,
		Fields:     fields,
	}, nil
}

func normalizeTranscript(rec map[string]any) (*Document, error) {
	channel := strings.TrimSpace(stringField(rec, "channel"))
	if channel == "" {
		channel = strings.TrimSpace(stringField(rec, "flight"))
	}
	if channel == "" {
		return nil, fmt.Errorf("%w: transcript record missing channel", ErrValidation)
	}
	text := strings.TrimSpace(stringField(rec, "text"))
	if text == "" {
		text = strings.TrimSpace(stringField(rec, "msg_text"))
	}
	if text == "" {
		return nil, fmt.Errorf("%w: transcript record missing text", ErrValidation)
	}

	// Sequence keeps consecutive transmissions on one channel distinct;
	// without it a channel would only ever hold its latest transmission.
	key := channel
	if seq := stringField(rec, "sequence"); seq != "" {
		key = channel + "#" + seq
	}

	return &Document{
		NaturalKey: key,
		Text:       fmt.Sprintf("Radio transmission on %s: %s", channel, text),
		Fields:     map[string]any{"channel": channel},
	}, nil
}

func normalizeVessel(rec map[string]any) (*Document, error) {
	mmsi := strings.TrimSpace(stringField(rec, "mmsi"))
	if mmsi == "" {
		if n, ok := numberField(rec, "mmsi"); ok {
			mmsi = fmt.Sprintf("%.0f", n)
		}
	}
	if mmsi == "" {
		return nil, fmt.Errorf("%w: vessel record missing mmsi", ErrValidation)
	}

	name := strings.TrimSpace(stringField(rec, "name"))
	label := name
	if label == "" {
		label = "MMSI " + mmsi
	}

	parts := []string{fmt.Sprintf("Vessel %s", label)}
	fields := map[string]any{"mmsi": mmsi}
	if name != "" {
		fields["name"] = name
	}
	if sog, ok := numberField(rec, "sog"); ok {
		parts = append(parts, fmt.Sprintf("speed %.1f kt", sog))
		fields["sog"] = sog
	}
	if st := stringField(rec, "status"); st != "" {
		parts = append(parts, "status "+st)
		fields["status"] = st
	}
	if lat, ok := numberField(rec, "lat"); ok {
		if lon, ok2 := numberField(rec, "lon"); ok2 {
			parts = append(parts, fmt.Sprintf("position %.4f, %.4f", lat, lon))
			fields["lat"], fields["lon"] = lat, lon
		}
	}

	return &Document{
		NaturalKey: mmsi,
		Text:       strings.Join(parts, ", "),
		Fields:     fields,
	}, nil
}

func normalizeOther(rec map[string]any) (*Document, error) {
	key := strings.TrimSpace(stringField(rec, "key"))
	if key == "" {
		return nil, fmt.Errorf("%w: record missing key", ErrValidation)
	}
	text := strings.TrimSpace(stringField(rec, "text"))
	if text == "" {
		return nil, fmt.Errorf("%w: record missing text", ErrValidation)
	}
	return &Document{NaturalKey: key, Text: text}, nil
}

// recordTimestamp extracts the observation time from a record.
// Accepts RFC3339 strings or unix seconds; falls back to ingestion time.
func recordTimestamp(rec map[string]any) time.Time {
	if s := stringField(rec, "timestamp"); s != "" {
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			return ts
		}
	}
	if n, ok := numberField(rec, "timestamp"); ok {
		sec := int64(n)
		nsec := int64((n - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC()
	}
	return timeNow().UTC()
}

func stringField(rec map[string]any, key string) string {
	v, ok := rec[key].(string)
	if !ok {
		return ""
	}
	return v
}

func numberField(rec map[string]any, key string) (float64, bool) {
	switch v := rec[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}
