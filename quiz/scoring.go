/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package quiz

import (
	"math"
	"time"
)

const (
	// BaseAward is granted once per net-correct option, plus once more scaled by speed.
	BaseAward = 100

	// ScoreWindow is the span over which the speed bonus decays to zero.
	ScoreWindow = 30 * time.Second
)

// Score returns the points for an answer with the given signed correctness
// count, submitted elapsed after the question was shown. Answers past the
// window keep their base award but earn no speed bonus.
func Score(correct int, elapsed time.Duration) int {
	if correct <= 0 {
		return 0
	}

	elapsed = min(max(elapsed, 0), ScoreWindow)

	timeFactor := 1 - float64(elapsed)/float64(ScoreWindow)

	return int(math.Round(BaseAward*timeFactor + float64(correct*BaseAward)))
}
