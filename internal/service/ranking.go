package service

import (
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tierd/tierd-go/internal/model"
)

// minDecay keeps the decay factor strictly positive for very old products.
const minDecay = 1e-9

// RankingParams tunes the ranking algorithm. Zero-valued fields in a YAML
// override keep their defaults.
type RankingParams struct {
	// Z is the normal quantile for the Wilson interval (1.96 = 95%).
	Z float64 `yaml:"z"`
	// HalfLife is the elapsed time at which decay reaches 0.5 when Gravity is 1.
	HalfLife time.Duration `yaml:"half_life"`
	Gravity  float64       `yaml:"gravity"`
	// BoostWeight scales the logarithmic recency boost.
	BoostWeight float64 `yaml:"boost_weight"`
	// ControversyBand: a split counts as controversial when
	// controversy >= 1 - ControversyBand.
	ControversyBand     float64 `yaml:"controversy_band"`
	ControversyDiscount float64 `yaml:"controversy_discount"`
	// RecentWindow bounds the votes counted by the recency boost.
	RecentWindow time.Duration `yaml:"recent_window"`
}

func DefaultRankingParams() RankingParams {
	return RankingParams{
		Z:                   1.96,
		HalfLife:            72 * time.Hour,
		Gravity:             1.0,
		BoostWeight:         0.1,
		ControversyBand:     0.2,
		ControversyDiscount: 0.8,
		RecentWindow:        24 * time.Hour,
	}
}

// LoadRankingParams reads overrides from a YAML file on top of the defaults.
// An empty path returns the defaults.
func LoadRankingParams(path string) (RankingParams, error) {
	p := DefaultRankingParams()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read ranking config: %w", err)
	}
	var override RankingParams
	if err := yaml.Unmarshal(data, &override); err != nil {
		return p, fmt.Errorf("parse ranking config: %w", err)
	}

	if override.Z > 0 {
		p.Z = override.Z
	}
	if override.HalfLife > 0 {
		p.HalfLife = override.HalfLife
	}
	if override.Gravity > 0 {
		p.Gravity = override.Gravity
	}
	if override.BoostWeight > 0 {
		p.BoostWeight = override.BoostWeight
	}
	if override.ControversyBand > 0 {
		p.ControversyBand = math.Min(override.ControversyBand, 1)
	}
	if override.ControversyDiscount > 0 {
		p.ControversyDiscount = math.Min(override.ControversyDiscount, 1)
	}
	if override.RecentWindow > 0 {
		p.RecentWindow = override.RecentWindow
	}
	return p, nil
}

// Ranker scores and orders products. It holds no state besides its
// parameters and is safe for concurrent use.
type Ranker struct {
	params RankingParams
}

func NewRanker(params RankingParams) *Ranker {
	return &Ranker{params: params}
}

func (r *Ranker) Params() RankingParams {
	return r.params
}

// Score computes the ranking score:
//
//	score = wilsonLowerBound * decay * boost * controversyDiscount
//
// It is 0 when the product has no votes. Negative counts are a caller bug and
// panic; every non-negative input yields a finite score.
func (r *Ranker) Score(in model.RankingInput) float64 {
	if err := in.Validate(); err != nil {
		panic(err)
	}
	n := in.Upvotes + in.Downvotes
	if n == 0 {
		return 0
	}

	score := WilsonLowerBound(in.Upvotes, n, r.params.Z)
	score *= TimeDecay(in.SinceActivity, r.params.HalfLife, r.params.Gravity)
	score *= RecencyBoost(in.RecentVotes, r.params.BoostWeight)
	if in.Controversy >= 1-r.params.ControversyBand {
		score *= r.params.ControversyDiscount
	}
	return score
}

// Input builds the ranking input for a candidate as of now.
func (r *Ranker) Input(c model.RankingCandidate, now time.Time) model.RankingInput {
	return model.RankingInput{
		Upvotes:       c.Upvotes,
		Downvotes:     c.Downvotes,
		RecentVotes:   c.RecentVotes,
		SinceActivity: now.Sub(c.LastActivity),
		Controversy:   Controversy(c.Upvotes, c.Downvotes),
	}
}

// Rank orders products by score descending with product id as tie-break and
// assigns 1-based ranks.
func (r *Ranker) Rank(products []model.ScoredProduct) []model.RankedProduct {
	sorted := make([]model.ScoredProduct, len(products))
	copy(sorted, products)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].ProductID < sorted[j].ProductID
	})

	ranked := make([]model.RankedProduct, len(sorted))
	for i, p := range sorted {
		ranked[i] = model.RankedProduct{
			ProductID: p.ProductID,
			Name:      p.Name,
			Score:     p.Score,
			Rank:      i + 1,
			Upvotes:   p.Upvotes,
			Downvotes: p.Downvotes,
		}
	}
	return ranked
}

// WilsonLowerBound returns the lower bound of the Wilson score interval for
// up successes out of n trials, clamped to [0,1]. n <= 0 yields 0.
func WilsonLowerBound(up, n int, z float64) float64 {
	if n <= 0 {
		return 0
	}
	nf := float64(n)
	p := float64(up) / nf
	z2 := z * z

	lb := (p + z2/(2*nf) - z*math.Sqrt((p*(1-p)+z2/(4*nf))/nf)) / (1 + z2/nf)
	return math.Max(0, math.Min(1, lb))
}

// TimeDecay returns 1 / (1 + elapsed/halfLife)^gravity, in (0,1]. Negative
// elapsed (clock skew) counts as zero.
func TimeDecay(elapsed, halfLife time.Duration, gravity float64) float64 {
	if elapsed <= 0 || halfLife <= 0 {
		return 1
	}
	d := 1 / math.Pow(1+float64(elapsed)/float64(halfLife), gravity)
	return math.Max(d, minDecay)
}

// RecencyBoost returns 1 + weight*ln(1+recent).
func RecencyBoost(recent int, weight float64) float64 {
	if recent <= 0 {
		return 1
	}
	return 1 + weight*math.Log1p(float64(recent))
}

// Controversy returns 1 - |0.5 - up/n|*2: 1 for an even split, 0 for a
// unanimous one. No votes is not controversial.
func Controversy(up, down int) float64 {
	n := up + down
	if n <= 0 {
		return 0
	}
	ratio := float64(up) / float64(n)
	return 1 - math.Abs(0.5-ratio)*2
}
