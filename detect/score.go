package detect

import (
	"math"
	"regexp"
	"sort"

	"github.com/ecostyle/scout/detect/candidate"
)

// Scoring weights. The area and center terms are weighted fractions; the
// portrait bonus and context boosts are flat additions, so scores can exceed
// 1 but stay near it in practice.
const (
	weightArea   = 0.55
	weightCenter = 0.25

	portraitBonus = 0.15

	boostItemprop = 0.25
	boostPicture  = 0.10
	boostClass    = 0.10
)

// Flat-variant weights, used when no viewport normalization is available
// (layoutless scans). Area is normalized against the largest candidate.
const (
	flatWeightArea     = 0.60
	flatWeightCenter   = 0.25
	flatWeightPortrait = 0.15
)

var productClassPattern = regexp.MustCompile(`(?i)zoom|product|hero`)

// Score assigns each candidate a desirability score and returns a new slice
// sorted best-first. The sort is stable: equal scores keep scan order. The
// output is always a permutation of the input.
//
// The score is 0.55·(area/viewportArea) + 0.25·centerProximity, plus 0.15
// when portrait and +0.25/+0.10/+0.10 for markup-context signals.
func Score(cands []candidate.Candidate, vp candidate.Viewport) []candidate.Candidate {
	out := make([]candidate.Candidate, len(cands))
	copy(out, cands)

	vpArea := math.Max(vp.W*vp.H, 1)
	for i := range out {
		sizeScore := out[i].Rect.Area() / vpArea
		out[i].Score = weightArea*sizeScore +
			weightCenter*centerProximity(out[i].Rect, vp) +
			bonuses(out[i])
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// ScoreFlat is the alternate variant for flat candidate lists without
// viewport normalization: area is normalized against the largest candidate
// and the portrait signal is weighted rather than additive.
func ScoreFlat(cands []candidate.Candidate, vp candidate.Viewport) []candidate.Candidate {
	out := make([]candidate.Candidate, len(cands))
	copy(out, cands)

	var maxArea float64
	for i := range out {
		if a := out[i].Rect.Area(); a > maxArea {
			maxArea = a
		}
	}

	for i := range out {
		var sizeScore float64
		if maxArea > 0 {
			sizeScore = out[i].Rect.Area() / maxArea
		}
		var portrait float64
		if out[i].Portrait() {
			portrait = 1
		}
		out[i].Score = flatWeightArea*sizeScore +
			flatWeightCenter*centerProximity(out[i].Rect, vp) +
			flatWeightPortrait*portrait
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// centerProximity is 1 at the viewport center falling to 0 at the corner.
func centerProximity(r candidate.Rect, vp candidate.Viewport) float64 {
	maxDist := math.Hypot(vp.W/2, vp.H/2)
	if maxDist == 0 {
		return 0
	}
	cx, cy := r.Center()
	dist := math.Hypot(cx-vp.W/2, cy-vp.H/2)
	return 1 - math.Min(1, dist/maxDist)
}

func bonuses(c candidate.Candidate) float64 {
	var b float64
	if c.Portrait() {
		b += portraitBonus
	}
	if c.ItempropImage {
		b += boostItemprop
	}
	if c.InPicture {
		b += boostPicture
	}
	if c.Class != "" && productClassPattern.MatchString(c.Class) {
		b += boostClass
	}
	return b
}
