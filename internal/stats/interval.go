package stats

import "math"

// z-score for a 95% two-sided interval.
const z95 = 1.96

// WaldInterval calculates the normal-approximation confidence interval
// for a binomial proportion, clamped to [0, 1]. Zero trials yields the
// degenerate [0, 0] interval.
func WaldInterval(successes, trials int) (lower, upper float64) {
	if trials == 0 {
		return 0, 0
	}

	p := float64(successes) / float64(trials)
	n := float64(trials)

	margin := z95 * math.Sqrt(p*(1-p)/n)

	lower = p - margin
	upper = p + margin

	if lower < 0 {
		lower = 0
	}
	if upper > 1 {
		upper = 1
	}

	return lower, upper
}
