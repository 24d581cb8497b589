package stats_test

import (
	"testing"

	"github.com/bujinwang/agentops-abtest/internal/stats"
)

func TestWaldInterval_ZeroTrials(t *testing.T) {
	lower, upper := stats.WaldInterval(0, 0)
	if lower != 0 || upper != 0 {
		t.Errorf("got [%f, %f], want [0, 0]", lower, upper)
	}
}

func TestWaldInterval_ContainsPointEstimate(t *testing.T) {
	cases := []struct {
		successes, trials int
	}{
		{0, 10},
		{1, 10},
		{5, 10},
		{10, 10},
		{50, 500},
		{75, 500},
	}

	for _, c := range cases {
		lower, upper := stats.WaldInterval(c.successes, c.trials)
		p := float64(c.successes) / float64(c.trials)

		if lower < 0 || upper > 1 {
			t.Errorf("%d/%d: interval [%f, %f] outside [0, 1]", c.successes, c.trials, lower, upper)
		}
		if p < lower || p > upper {
			t.Errorf("%d/%d: interval [%f, %f] does not contain %f", c.successes, c.trials, lower, upper, p)
		}
	}
}

func TestWaldInterval_ClampsLowRate(t *testing.T) {
	// 1/10 has a margin bigger than the rate, so the lower bound clamps.
	lower, _ := stats.WaldInterval(1, 10)
	if lower != 0 {
		t.Errorf("got lower %f, want 0", lower)
	}
}

func TestWaldInterval_NarrowsWithSample(t *testing.T) {
	lowerSmall, upperSmall := stats.WaldInterval(50, 500)
	lowerBig, upperBig := stats.WaldInterval(500, 5000)

	if (upperBig - lowerBig) >= (upperSmall - lowerSmall) {
		t.Errorf("interval did not narrow: small %f, big %f",
			upperSmall-lowerSmall, upperBig-lowerBig)
	}
}
