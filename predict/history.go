package predict

import (
	"sync"

	"github.com/gammazero/deque"
)

// History smooths raw scene predictions by majority vote over the last
// capacity entries. A tie goes to the scene seen most recently.
type History struct {
	mu       sync.Mutex
	capacity int
	entries  deque.Deque[string]
	current  string
}

// NewHistory creates a history. A capacity of 1 disables smoothing.
func NewHistory(capacity int) *History {
	return &History{capacity: max(capacity, 1)}
}

// Add records a prediction and returns the smoothed scene.
func (h *History) Add(scene string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.entries.Len() == h.capacity {
		h.entries.PopFront()
	}
	h.entries.PushBack(scene)

	counts := make(map[string]int, h.entries.Len())
	last := make(map[string]int, h.entries.Len())
	for i := range h.entries.Len() {
		s := h.entries.At(i)
		counts[s]++
		last[s] = i
	}
	best := ""
	for s, n := range counts {
		if best == "" || n > counts[best] || (n == counts[best] && last[s] > last[best]) {
			best = s
		}
	}
	h.current = best
	return best
}

// Current returns the smoothed scene, "" before the first prediction.
func (h *History) Current() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// Len returns the number of remembered predictions.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries.Len()
}

// Capacity returns the configured window size.
func (h *History) Capacity() int {
	return h.capacity
}

// Reset forgets all predictions.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries.Clear()
	h.current = ""
}
