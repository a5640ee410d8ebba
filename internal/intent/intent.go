// Package intent maps a raw operator query to weighted target document
// kinds.
//
// Classification is two-tier: a deterministic lexical rule layer runs
// first, and only when no rule fires does the classifier fall back to an
// equal-weight mix across all kinds. The rule layer exists to stop intent
// bleed, where a weather question surfaces unrelated notices because both
// mention the same airport.
package intent

import (
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/kestrellabs/skywatch/internal/document"
)

// KindWeight is one weighted retrieval target.
type KindWeight struct {
	Kind   document.Kind
	Weight float64
}

// Intent is the classified form of one query. Targets are ordered by
// descending weight and the weights sum to 1.
type Intent struct {
	RawQuery  string
	Targets   []KindWeight
	RuleFired bool
}

// WeightFor returns the weight assigned to a kind, zero if untargeted.
func (in Intent) WeightFor(kind document.Kind) float64 {
	for _, t := range in.Targets {
		if t.Kind == kind {
			return t.Weight
		}
	}
	return 0
}

// Kinds returns the target kinds in weight order.
func (in Intent) Kinds() []document.Kind {
	kinds := make([]document.Kind, len(in.Targets))
	for i, t := range in.Targets {
		kinds[i] = t.Kind
	}
	return kinds
}

type cue struct {
	kind    document.Kind
	weight  float64
	pattern *regexp.Regexp
}

// Classifier is safe for concurrent use; all state is immutable after
// construction.
type Classifier struct {
	cues        []cue
	noticeCue   *regexp.Regexp
	airportCode *regexp.Regexp
	logger      *zap.Logger
}

// NewClassifier builds the rule layer.
func NewClassifier(logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		cues: []cue{
			{document.KindWeather, 1.0,
				regexp.MustCompile(`\b(weather|wind|winds|visibility|metar|cloud|clouds|temperature|rain|fog|gust|gusts|qnh|ceiling)\b`)},
			{document.KindAircraftState, 1.0,
				regexp.MustCompile(`\b(aircraft|plane|planes|flight|flights|flying|altitude|squawk|squawking|callsign|overhead|airborne|emergency|holding)\b`)},
			{document.KindNotice, 1.0,
				regexp.MustCompile(`\b(notam|notams|notice|notices|closed|closure|closures|restriction|restrictions|restricted|danger area)\b`)},
			{document.KindTranscript, 1.0,
				regexp.MustCompile(`\b(radio|atc|tower|transmission|transmissions|frequency|said|saying|heard|readback|cleared)\b`)},
			{document.KindVessel, 1.0,
				regexp.MustCompile(`\b(vessel|vessels|ship|ships|boat|boats|tanker|ferry|mmsi|maritime|underway|moored)\b`)},
		},
		// The suppression exception: notices stay in a weather query
		// only when the operator actually asked about them.
		noticeCue: regexp.MustCompile(`\b(notam|notams|closed|closure|closures|restriction|restrictions|restricted)\b`),
		// Uppercase four-letter tokens in the raw query. Matching the
		// lowered text would also catch ordinary words like "what".
		airportCode: regexp.MustCompile(`\b[A-Z]{4}\b`),
		logger:      logger,
	}
}

// Classify maps a query to weighted target kinds. Never fails: an
// unrecognized query yields an equal-weight mix across all kinds.
func (c *Classifier) Classify(rawQuery string) Intent {
	lowered := strings.ToLower(rawQuery)

	scores := make(map[document.Kind]float64)
	for _, cu := range c.cues {
		if cu.pattern.MatchString(lowered) {
			scores[cu.kind] += cu.weight
		}
	}

	// Weather questions suppress notices unless explicitly asked for.
	if scores[document.KindWeather] > 0 && !c.noticeCue.MatchString(lowered) {
		delete(scores, document.KindNotice)
	}

	ruleFired := len(scores) > 0

	// A bare airport code with no other cue means "what is going on
	// there": weather first, notices second, aircraft traffic third.
	if !ruleFired && c.airportCode.MatchString(rawQuery) {
		scores[document.KindWeather] = 1.0
		scores[document.KindNotice] = 0.6
		scores[document.KindAircraftState] = 0.4
		ruleFired = true
	}

	if !ruleFired {
		for _, kind := range document.Kinds() {
			scores[kind] = 1
		}
	}

	intent := Intent{
		RawQuery:  rawQuery,
		Targets:   normalize(scores),
		RuleFired: ruleFired,
	}

	c.logger.Debug("classified query",
		zap.Bool("rule_fired", ruleFired),
		zap.Int("target_kinds", len(intent.Targets)))
	return intent
}

// normalize scales weights to sum to 1 and orders targets by descending
// weight, ties broken by kind name for determinism.
func normalize(scores map[document.Kind]float64) []KindWeight {
	var total float64
	for _, w := range scores {
		total += w
	}

	targets := make([]KindWeight, 0, len(scores))
	for kind, w := range scores {
		targets = append(targets, KindWeight{Kind: kind, Weight: w / total})
	}
	sort.Slice(targets, func(i, j int) bool {
		if targets[i].Weight != targets[j].Weight {
			return targets[i].Weight > targets[j].Weight
		}
		return targets[i].Kind < targets[j].Kind
	})
	return targets
}
