package vector

import (
	"fmt"
	"math"
)

// ScoreNormalizer maps a backend distance to a similarity score in [0, 1], larger is closer.
type ScoreNormalizer interface {
	Score(distance float64) float64
	Name() string
}

// InverseDistance scores a distance d as 1/(1+d).
type InverseDistance struct{}

func (InverseDistance) Score(d float64) float64 {
	if d < 0 {
		d = 0
	}
	return 1 / (1 + d)
}

func (InverseDistance) Name() string { return "inverse_distance" }

// Cosine treats the distance as a squared L2 distance between unit vectors and
// recovers the cosine similarity 1 - d/2, clamped to [0, 1].
type Cosine struct{}

func (Cosine) Score(d float64) float64 {
	return math.Max(0, math.Min(1, 1-d/2))
}

func (Cosine) Name() string { return "cosine" }

// NormalizerFor returns the normalizer registered under name.
func NormalizerFor(name string) (ScoreNormalizer, error) {
	switch name {
	case "", "inverse_distance":
		return InverseDistance{}, nil
	case "cosine":
		return Cosine{}, nil
	default:
		return nil, fmt.Errorf("unknown score normalizer: %s", name)
	}
}
