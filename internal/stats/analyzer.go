// Package stats computes experiment analytics: per-variant conversion
// rates, confidence intervals, significance versus control, and the
// test-level winner and recommendation.
//
// The significance score is a calibrated approximation, not a canonical
// p-value. Downstream thresholds were tuned against these exact
// formulas, so they must not be swapped for textbook equivalents.
package stats

import (
	"math"
	"time"

	"github.com/bujinwang/agentops-abtest/internal/store"
)

type Recommendation string

const (
	RecommendInsufficientData Recommendation = "insufficient_data"
	RecommendConclude         Recommendation = "conclude"
	RecommendContinue         Recommendation = "continue"
)

// Fixed business rules. Changing any of these changes which tests get
// concluded, so they are deliberately not configurable.
const (
	minParticipants      = 100  // below this: insufficient_data
	concludeParticipants = 1000 // at or above, with significance: conclude
	winnerThreshold      = 95.0 // significance required to name a winner
	maxSignificance      = 99.9 // significance score ceiling
)

// VariantResult contains statistics for a single variant. Significance
// and lift are relative to the control (first variant in creation
// order); both are 0 for the control itself.
type VariantResult struct {
	VariantID      string  `json:"variant_id"`
	Name           string  `json:"name,omitempty"`
	SampleSize     int     `json:"sample_size"`
	Conversions    int     `json:"conversions"`
	ConversionRate float64 `json:"conversion_rate"`
	CILower        float64 `json:"ci_lower"`
	CIUpper        float64 `json:"ci_upper"`
	Significance   float64 `json:"significance"`
	RelativeLift   float64 `json:"relative_lift"`
}

// Analytics is the derived snapshot for a test. It is recomputed on
// every query and only persisted when a test is concluded.
type Analytics struct {
	TestID            string          `json:"test_id"`
	TotalParticipants int             `json:"total_participants"`
	Variants          []VariantResult `json:"variants"`
	WinnerVariantID   string          `json:"winner_variant_id,omitempty"`
	ConfidenceLevel   float64         `json:"confidence_level"`
	IsSignificant     bool            `json:"is_significant"`
	Recommendation    Recommendation  `json:"recommendation"`
	GeneratedAt       time.Time       `json:"generated_at"`
}

// Significance scores a variant's conversion rate against the control
// using a pooled-standard-error z approximation mapped onto a 0-100
// scale and capped at 99.9.
func Significance(controlConv, controlN, variantConv, variantN int) float64 {
	if controlN == 0 || variantN == 0 {
		return 0
	}

	pc := float64(controlConv) / float64(controlN)
	pv := float64(variantConv) / float64(variantN)

	se := math.Sqrt(pc*(1-pc)/float64(controlN) + pv*(1-pv)/float64(variantN))
	if se == 0 {
		return 0
	}

	z := math.Abs(pv-pc) / se
	score := (1 - math.Exp(-z*z/2)) * 100
	if score > maxSignificance {
		score = maxSignificance
	}
	return score
}

// Analyze calculates full statistics for a test from its per-variant
// counts. Variants absent from counts are reported with zero samples.
func Analyze(test *store.Test, counts []store.VariantCounts) *Analytics {
	countsMap := make(map[string]store.VariantCounts, len(counts))
	for _, c := range counts {
		countsMap[c.VariantID] = c
	}

	variants := make([]VariantResult, len(test.Variants))
	total := 0

	// Control is the first variant in creation order.
	var control store.VariantCounts
	if len(test.Variants) > 0 {
		control = countsMap[test.Variants[0].ID]
	}
	controlRate := 0.0
	if control.Assignments > 0 {
		controlRate = float64(control.Conversions) / float64(control.Assignments)
	}

	for i, v := range test.Variants {
		c := countsMap[v.ID] // zero-valued when no one is assigned yet
		total += c.Assignments

		rate := 0.0
		if c.Assignments > 0 {
			rate = float64(c.Conversions) / float64(c.Assignments)
		}

		ciLower, ciUpper := WaldInterval(c.Conversions, c.Assignments)

		significance := 0.0
		lift := 0.0
		if i > 0 {
			significance = Significance(control.Conversions, control.Assignments, c.Conversions, c.Assignments)
			if controlRate > 0 {
				lift = (rate - controlRate) / controlRate * 100
			}
		}

		variants[i] = VariantResult{
			VariantID:      v.ID,
			Name:           v.Name,
			SampleSize:     c.Assignments,
			Conversions:    c.Conversions,
			ConversionRate: rate,
			CILower:        ciLower,
			CIUpper:        ciUpper,
			Significance:   significance,
			RelativeLift:   lift,
		}
	}

	confidenceLevel := 0.0
	winner := ""
	winnerRate := 0.0
	for _, v := range variants {
		if v.Significance > confidenceLevel {
			confidenceLevel = v.Significance
		}
		if v.Significance >= winnerThreshold && v.ConversionRate > winnerRate {
			winner = v.VariantID
			winnerRate = v.ConversionRate
		}
	}

	recommendation := RecommendContinue
	switch {
	case total < minParticipants:
		recommendation = RecommendInsufficientData
	case confidenceLevel >= winnerThreshold && total >= concludeParticipants:
		recommendation = RecommendConclude
	}

	return &Analytics{
		TestID:            test.ID,
		TotalParticipants: total,
		Variants:          variants,
		WinnerVariantID:   winner,
		ConfidenceLevel:   confidenceLevel,
		IsSignificant:     confidenceLevel >= winnerThreshold,
		Recommendation:    recommendation,
		GeneratedAt:       time.Now().UTC(),
	}
}
