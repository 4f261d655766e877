// Package consensus suppresses transient OCR misreads by requiring a
// plate to win a majority vote over a sliding window of recent reads
// before it is treated as real.
package consensus

import (
	"strings"
	"sync"
	"time"
)

// Confirmation carries the winning plate for a window that satisfied the
// agreement threshold, together with the context of the triggering read.
type Confirmation struct {
	Plate      string
	ObservedAt time.Time
	CameraID   string
}

// ambiguityKey folds the usual OCR confusion pairs so that noisy variants
// of one physical plate land in the same window and vote against each
// other, instead of each variant accumulating its own window.
var ambiguityKey = strings.NewReplacer(
	"O", "0",
	"Q", "0",
	"I", "1",
	"B", "8",
	"S", "5",
	"Z", "2",
)

type window struct {
	readings   []string
	next       int
	full       bool
	lastUpdate time.Time
}

func (w *window) append(value string, at time.Time) {
	w.readings[w.next] = value
	w.next++
	if w.next == len(w.readings) {
		w.next = 0
		w.full = true
	}
	w.lastUpdate = at
}

// majority returns the most frequent reading and its count. With an
// agreement threshold above half the window a tie can never reach it.
func (w *window) majority() (string, int) {
	counts := make(map[string]int, len(w.readings))
	best, bestCount := "", 0
	for _, r := range w.readings {
		counts[r]++
		if counts[r] > bestCount {
			best, bestCount = r, counts[r]
		}
	}
	return best, bestCount
}

// Aggregator keeps one sliding window per plate candidate. Confirmation
// is level-triggered: every call that still satisfies the threshold
// re-confirms, and downstream consumers deduplicate with their own
// cooldown cache.
type Aggregator struct {
	mu           sync.Mutex
	windows      map[string]*window
	size         int
	minAgreement int
	idleTTL      time.Duration
}

func NewAggregator(size, minAgreement int, idleTTL time.Duration) *Aggregator {
	return &Aggregator{
		windows:      make(map[string]*window),
		size:         size,
		minAgreement: minAgreement,
		idleTTL:      idleTTL,
	}
}

// Observe appends a normalized read to its candidate window and reports a
// confirmation once the full window reaches the agreement threshold. The
// confirmed plate is the majority reading, which may differ from the read
// that triggered the check.
func (a *Aggregator) Observe(plateText, cameraID string, at time.Time) (Confirmation, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := ambiguityKey.Replace(plateText)
	w, ok := a.windows[key]
	if !ok {
		w = &window{readings: make([]string, a.size)}
		a.windows[key] = w
	}
	w.append(plateText, at)

	if !w.full {
		return Confirmation{}, false
	}
	winner, count := w.majority()
	if count < a.minAgreement {
		return Confirmation{}, false
	}
	return Confirmation{Plate: winner, ObservedAt: at, CameraID: cameraID}, true
}

// EvictIdle removes windows not updated within the idle TTL, bounding
// memory when garbage candidates never confirm.
func (a *Aggregator) EvictIdle(now time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	evicted := 0
	for key, w := range a.windows {
		if now.Sub(w.lastUpdate) >= a.idleTTL {
			delete(a.windows, key)
			evicted++
		}
	}
	return evicted
}

// Tracked returns the number of live candidate windows.
func (a *Aggregator) Tracked() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.windows)
}
