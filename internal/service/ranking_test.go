package service

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/tierd/tierd-go/internal/model"
)

func TestWilsonLowerBound(t *testing.T) {
	tests := []struct {
		name    string
		up, n   int
		wantMin float64
		wantMax float64
	}{
		{"no votes", 0, 0, 0, 0},
		{"one upvote", 1, 1, 0.20, 0.21},
		{"one downvote", 0, 1, 0, 0},
		{"all up, large n", 1000, 1000, 0.99, 1.0},
		{"even split", 50, 100, 0.40, 0.41},
		{"mostly up", 90, 100, 0.82, 0.83},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WilsonLowerBound(tt.up, tt.n, 1.96)
			if got < tt.wantMin || got > tt.wantMax {
				t.Errorf("WilsonLowerBound(%d, %d) = %.4f, want [%.2f, %.2f]", tt.up, tt.n, got, tt.wantMin, tt.wantMax)
			}
		})
	}
}

func TestWilsonLowerBound_AlwaysInUnitInterval(t *testing.T) {
	for n := 0; n <= 60; n++ {
		for up := 0; up <= n; up++ {
			got := WilsonLowerBound(up, n, 1.96)
			if math.IsNaN(got) || got < 0 || got > 1 {
				t.Fatalf("WilsonLowerBound(%d, %d) = %v, outside [0,1]", up, n, got)
			}
		}
	}
}

func TestWilsonLowerBound_MoreEvidenceRanksHigher(t *testing.T) {
	// 1 up / 0 down must not outrank 100 up / 5 down.
	small := WilsonLowerBound(1, 1, 1.96)
	large := WilsonLowerBound(100, 105, 1.96)
	if small >= large {
		t.Errorf("1/1 scored %.4f >= 100/105 scored %.4f", small, large)
	}
}

func TestTimeDecay(t *testing.T) {
	halfLife := 72 * time.Hour

	if got := TimeDecay(0, halfLife, 1); got != 1 {
		t.Errorf("TimeDecay(0) = %v, want 1", got)
	}
	if got := TimeDecay(-time.Hour, halfLife, 1); got != 1 {
		t.Errorf("future activity should not decay, got %v", got)
	}
	if got := TimeDecay(halfLife, halfLife, 1); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("TimeDecay(halfLife) = %v, want 0.5", got)
	}

	prev := 1.0
	for _, d := range []time.Duration{time.Hour, 24 * time.Hour, 30 * 24 * time.Hour, 10 * 365 * 24 * time.Hour} {
		got := TimeDecay(d, halfLife, 1.5)
		if got <= 0 || got > prev {
			t.Errorf("TimeDecay(%s) = %v, want in (0, %v]", d, got, prev)
		}
		prev = got
	}
}

func TestRecencyBoost_MonotoneSublinear(t *testing.T) {
	if got := RecencyBoost(0, 0.1); got != 1 {
		t.Errorf("RecencyBoost(0) = %v, want 1", got)
	}
	b10 := RecencyBoost(10, 0.1)
	b20 := RecencyBoost(20, 0.1)
	if b20 <= b10 {
		t.Errorf("boost should grow: b10=%v b20=%v", b10, b20)
	}
	if (b20 - 1) >= 2*(b10-1) {
		t.Errorf("boost should be sub-linear: b10=%v b20=%v", b10, b20)
	}
}

func TestControversy(t *testing.T) {
	tests := []struct {
		up, down int
		want     float64
	}{
		{0, 0, 0},
		{5, 5, 1},
		{10, 0, 0},
		{0, 10, 0},
		{3, 1, 0.5},
	}
	for _, tt := range tests {
		if got := Controversy(tt.up, tt.down); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Controversy(%d, %d) = %v, want %v", tt.up, tt.down, got, tt.want)
		}
	}
}

func TestRankerScore(t *testing.T) {
	r := NewRanker(DefaultRankingParams())

	if got := r.Score(model.RankingInput{}); got != 0 {
		t.Errorf("Score(no votes) = %v, want 0", got)
	}

	even := model.RankingInput{Upvotes: 5, Downvotes: 5, Controversy: Controversy(5, 5)}
	if got, want := r.Score(even), WilsonLowerBound(5, 10, 1.96)*0.8; math.Abs(got-want) > 1e-12 {
		t.Errorf("even split should be discounted: got %v, want %v", got, want)
	}

	clear := model.RankingInput{Upvotes: 9, Downvotes: 1, Controversy: Controversy(9, 1)}
	if got, want := r.Score(clear), WilsonLowerBound(9, 10, 1.96); math.Abs(got-want) > 1e-12 {
		t.Errorf("lopsided split should not be discounted: got %v, want %v", got, want)
	}
}

func TestRankerScore_TotalOverNonNegativeInputs(t *testing.T) {
	r := NewRanker(DefaultRankingParams())
	for up := 0; up < 20; up++ {
		for down := 0; down < 20; down++ {
			for _, recent := range []int{0, 1, 1000} {
				in := model.RankingInput{
					Upvotes:       up,
					Downvotes:     down,
					RecentVotes:   recent,
					SinceActivity: time.Duration(up*down) * time.Hour,
					Controversy:   Controversy(up, down),
				}
				got := r.Score(in)
				if math.IsNaN(got) || math.IsInf(got, 0) || got < 0 {
					t.Fatalf("Score(%+v) = %v", in, got)
				}
			}
		}
	}
}

func TestRankerScore_PanicsOnNegativeCounts(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for negative upvotes")
		}
	}()
	NewRanker(DefaultRankingParams()).Score(model.RankingInput{Upvotes: -1})
}

func TestRankerRank_DeterministicTieBreak(t *testing.T) {
	r := NewRanker(DefaultRankingParams())
	in := []model.ScoredProduct{
		{ProductID: "zowie-ec2", Score: 0.5},
		{ProductID: "g-pro-x", Score: 0.9},
		{ProductID: "aerox-3", Score: 0.5},
		{ProductID: "unvoted", Score: 0},
	}

	got := r.Rank(in)
	want := []model.RankedProduct{
		{ProductID: "g-pro-x", Score: 0.9, Rank: 1},
		{ProductID: "aerox-3", Score: 0.5, Rank: 2},
		{ProductID: "zowie-ec2", Score: 0.5, Rank: 3},
		{ProductID: "unvoted", Score: 0, Rank: 4},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Rank() mismatch (-want +got):\n%s", diff)
	}
	if in[0].ProductID != "zowie-ec2" {
		t.Error("Rank must not reorder its input")
	}
}

func TestLoadRankingParams(t *testing.T) {
	p, err := LoadRankingParams("")
	if err != nil {
		t.Fatalf("empty path: %v", err)
	}
	if diff := cmp.Diff(DefaultRankingParams(), p); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}

	path := filepath.Join(t.TempDir(), "ranking.yaml")
	yml := "half_life: 12h\nboost_weight: 0.25\ncontroversy_discount: 0.5\n"
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}

	p, err = LoadRankingParams(path)
	if err != nil {
		t.Fatalf("LoadRankingParams: %v", err)
	}
	if p.HalfLife != 12*time.Hour || p.BoostWeight != 0.25 || p.ControversyDiscount != 0.5 {
		t.Errorf("overrides not applied: %+v", p)
	}
	if p.Z != 1.96 {
		t.Errorf("Z = %v, want default 1.96", p.Z)
	}

	if _, err := LoadRankingParams(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
