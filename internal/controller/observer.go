package controller

import "watcherseye/internal/fetcher"

// Observer receives progress from a run. All calls are made from the run's
// worker goroutine, one at a time; implementations that feed a UI must hand
// events over to their own thread and return promptly.
type Observer interface {
	// OnResult is called once per processed key. label2 is
	// fetcher.Label2Placeholder for single-attribute keys.
	OnResult(average fetcher.Average, label1, label2 string)
	// OnStatus reports a short human-readable status line
	OnStatus(text string)
	// OnDebug reports diagnostic trace lines
	OnDebug(text string)
	// OnCountdown reports the seconds left in the visible cooldown
	OnCountdown(remaining int)
}
