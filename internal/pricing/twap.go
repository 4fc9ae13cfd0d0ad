package pricing

import (
	"sync"
	"time"
)

type twapPoint struct {
	at    time.Time
	price float64
}

// twapTracker keeps a trailing window of accepted spot prices per mint
// and computes a time-weighted average over it. Rejected spots are never
// recorded, so a manipulated print cannot drag the reference it is
// checked against.
type twapTracker struct {
	window time.Duration
	now    func() time.Time

	mu     sync.Mutex
	points map[string][]twapPoint
}

func newTWAPTracker(window time.Duration, now func() time.Time) *twapTracker {
	return &twapTracker{
		window: window,
		now:    now,
		points: make(map[string][]twapPoint),
	}
}

// observe records an accepted spot price for the mint.
func (t *twapTracker) observe(mint string, price float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.points[mint] = t.pruned(append(t.points[mint], twapPoint{at: t.now(), price: price}))
}

// value returns the time-weighted average over the window, or false when
// the mint has no history. Each observation is weighted by how long it
// stood until the next one; the latest stands until now.
func (t *twapTracker) value(mint string) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pts := t.pruned(t.points[mint])
	t.points[mint] = pts
	if len(pts) == 0 {
		return 0, false
	}

	now := t.now()
	var weighted, total float64
	for i, pt := range pts {
		end := now
		if i+1 < len(pts) {
			end = pts[i+1].at
		}
		dt := end.Sub(pt.at).Seconds()
		if dt <= 0 {
			continue
		}
		weighted += pt.price * dt
		total += dt
	}
	if total == 0 {
		// All observations share one timestamp; average them flat.
		var sum float64
		for _, pt := range pts {
			sum += pt.price
		}
		return sum / float64(len(pts)), true
	}
	return weighted / total, true
}

func (t *twapTracker) pruned(pts []twapPoint) []twapPoint {
	cutoff := t.now().Add(-t.window)
	i := 0
	for i < len(pts) && pts[i].at.Before(cutoff) {
		i++
	}
	return pts[i:]
}
