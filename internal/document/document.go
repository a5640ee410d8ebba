// Package document defines the uniform record envelope shared by every
// ingestion source, and the normalizer that produces it.
package document

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies the record family a Document belongs to.
type Kind string

const (
	KindAircraftState Kind = "aircraft_state"
	KindWeather       Kind = "weather"
	KindNotice        Kind = "notice"
	KindTranscript    Kind = "transcript"
	KindVessel        Kind = "vessel"
	KindOther         Kind = "other"
)

// Kinds returns all known kinds in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindAircraftState,
		KindWeather,
		KindNotice,
		KindTranscript,
		KindVessel,
		KindOther,
	}
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindAircraftState, KindWeather, KindNotice, KindTranscript, KindVessel, KindOther:
		return true
	}
	return false
}

// Document is the uniform envelope for a normalized source record.
//
// ID is derived from (Kind, NaturalKey) and is unique among live documents:
// a later push for the same natural key supersedes the earlier one instead
// of duplicating it.
type Document struct {
	// ID is the deterministic identifier, derived from (Kind, NaturalKey).
	ID string `json:"id"`

	// Kind is the record family.
	Kind Kind `json:"kind"`

	// NaturalKey is the stable real-world identifier of the entity
	// (aircraft hex code, airport ICAO, vessel MMSI, ...).
	NaturalKey string `json:"natural_key"`

	// Timestamp is the observation time of the record.
	Timestamp time.Time `json:"timestamp"`

	// Text is the natural-language rendering used for embedding.
	// Always non-empty for a valid Document.
	Text string `json:"text"`

	// Fields holds kind-specific structured attributes used by the
	// consistency validator (e.g. airborne, status, wind_dir).
	Fields map[string]any `json:"fields,omitempty"`

	// SourceRef identifies the upstream record for attribution.
	SourceRef string `json:"source_ref,omitempty"`
}

// idNamespace scopes the UUIDv5 derivation of document IDs.
var idNamespace = uuid.MustParse("3a1f58c4-9c26-4df0-8c6b-0f2b6f3a9d11")

// DeterministicID derives the document ID from kind and natural key.
// Repeated pushes for the same entity always map to the same ID.
func DeterministicID(kind Kind, naturalKey string) string {
	return uuid.NewSHA1(idNamespace, []byte(string(kind)+"/"+naturalKey)).String()
}

// Supersedes reports whether d should replace other in the live set.
// Both must share an ID; the later observation wins.
func (d *Document) Supersedes(other *Document) bool {
	if other == nil {
		return true
	}
	return d.Timestamp.After(other.Timestamp)
}
