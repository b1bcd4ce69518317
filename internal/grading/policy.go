// Package grading converts similarity scores into awarded points.
package grading

import (
	"math"

	"github.com/pavelanni/voicequiz/internal/model"
)

// Result is the outcome of grading one answer.
type Result struct {
	Points     float64
	Tier       model.Tier
	Percentage float64
}

type band struct {
	min        float64
	tier       model.Tier
	percentage float64
}

// bands are ordered from the highest lower bound down; each bound is inclusive.
var bands = []band{
	{0.85, model.TierFull, 1.00},
	{0.70, model.TierHighPartial, 0.75},
	{0.60, model.TierMediumPartial, 0.50},
	{0.50, model.TierLowPartial, 0.25},
}

// Grade maps a similarity score in [0,1] and a question's maximum points to
// the points earned. Points are rounded to the nearest 0.5 when maxPoints is
// below 4 and to the nearest 0.25 otherwise, then capped at maxPoints.
func Grade(similarity, maxPoints float64) Result {
	s := clamp(similarity, 0, 1)
	if math.IsNaN(similarity) {
		s = 0
	}
	if maxPoints <= 0 || math.IsNaN(maxPoints) {
		return Result{Tier: TierFor(s)}
	}

	tier, pct := model.TierNone, 0.0
	for _, b := range bands {
		if s >= b.min {
			tier, pct = b.tier, b.percentage
			break
		}
	}

	points := roundTo(maxPoints*pct, Granularity(maxPoints))
	return Result{
		Points:     clamp(points, 0, maxPoints),
		Tier:       tier,
		Percentage: pct * 100,
	}
}

// TierFor returns the tier a similarity score falls into.
func TierFor(similarity float64) model.Tier {
	for _, b := range bands {
		if similarity >= b.min {
			return b.tier
		}
	}
	return model.TierNone
}

// Granularity returns the rounding step for a question worth maxPoints.
func Granularity(maxPoints float64) float64 {
	if maxPoints < 4 {
		return 0.5
	}
	return 0.25
}

func roundTo(v, step float64) float64 {
	return math.Round(v/step) * step
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
