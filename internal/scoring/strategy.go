package scoring

import (
	"fmt"

	"github.com/terra-clan/screening-engine/internal/models"
)

// Strategy maps a complete answer sequence to a score.
// Implementations must be pure: equal input gives equal output.
type Strategy interface {
	Score(answers []int) (models.Score, error)
}

// Unbounded marks the open upper end of the last band
const Unbounded = -1

// Band is an inclusive score range with its category
type Band struct {
	Min      int
	Max      int
	Category string
}

func (b Band) contains(total int) bool {
	return total >= b.Min && (b.Max == Unbounded || total <= b.Max)
}

// BandStrategy sums the answers and picks the category of the matching band
type BandStrategy struct {
	bands []Band
}

// NewBands builds a band strategy. Bands must be contiguous, ascending and
// start at zero; only the last band may be Unbounded.
func NewBands(bands ...Band) (*BandStrategy, error) {
	if len(bands) == 0 {
		return nil, fmt.Errorf("at least one band is required")
	}
	if bands[0].Min != 0 {
		return nil, fmt.Errorf("first band must start at 0, got %d", bands[0].Min)
	}
	for i, b := range bands {
		if b.Category == "" {
			return nil, fmt.Errorf("band %d has no category", i+1)
		}
		last := i == len(bands)-1
		if b.Max == Unbounded {
			if !last {
				return nil, fmt.Errorf("only the last band may be unbounded")
			}
			continue
		}
		if b.Max < b.Min {
			return nil, fmt.Errorf("band %d has max %d below min %d", i+1, b.Max, b.Min)
		}
		if !last && bands[i+1].Min != b.Max+1 {
			return nil, fmt.Errorf("band %d does not continue band %d", i+2, i+1)
		}
	}
	return &BandStrategy{bands: append([]Band(nil), bands...)}, nil
}

// MustBands is NewBands for static tables
func MustBands(bands ...Band) *BandStrategy {
	s, err := NewBands(bands...)
	if err != nil {
		panic(err)
	}
	return s
}

// Category returns the category for a total, or "" when no band covers it
func (s *BandStrategy) Category(total int) string {
	for _, b := range s.bands {
		if b.contains(total) {
			return b.Category
		}
	}
	return ""
}

// Score implements Strategy
func (s *BandStrategy) Score(answers []int) (models.Score, error) {
	total := sum(answers)
	category := s.Category(total)
	if category == "" {
		return models.Score{}, fmt.Errorf("total %d is outside every band", total)
	}
	return models.Score{Total: total, Category: category}, nil
}

// Cluster is a named, 1-based inclusive item range with a minimum sub-score
type Cluster struct {
	Name string
	From int
	To   int
	Min  int
}

// ClusterStrategy scores sub-scales over fixed item ranges. The diagnosis
// category is assigned only when the total reaches Cutoff and every cluster
// meets its minimum; otherwise the fallback bands decide.
type ClusterStrategy struct {
	Clusters  []Cluster
	Cutoff    int
	Diagnosis string
	Fallback  *BandStrategy
}

// Score implements Strategy
func (s *ClusterStrategy) Score(answers []int) (models.Score, error) {
	score := models.Score{Total: sum(answers)}
	criteriaMet := true

	for _, c := range s.Clusters {
		if c.From < 1 || c.To > len(answers) || c.From > c.To {
			return models.Score{}, fmt.Errorf("cluster %s range %d-%d does not fit %d answers", c.Name, c.From, c.To, len(answers))
		}
		sub := sum(answers[c.From-1 : c.To])
		score.Clusters = append(score.Clusters, models.ClusterScore{Name: c.Name, Score: sub})
		if sub < c.Min {
			criteriaMet = false
		}
	}

	if criteriaMet && score.Total >= s.Cutoff {
		score.Category = s.Diagnosis
		return score, nil
	}

	score.Category = s.Fallback.Category(score.Total)
	if score.Category == "" {
		return models.Score{}, fmt.Errorf("total %d is outside every fallback band", score.Total)
	}
	return score, nil
}

func sum(answers []int) int {
	total := 0
	for _, a := range answers {
		total += a
	}
	return total
}
