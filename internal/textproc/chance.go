package textproc

import (
	"math/rand"
	"strings"
	"sync"
	"time"
)

var spiceIndicators = []string{
	"intimate", "passion", "desire", "tension", "heat", "sensual",
	"touch", "embrace", "kiss", "close", "warm", "electric",
}

// SpiceScore is a keyword heuristic in [0, 1] estimating how charged a text
// reads. Used for logging only.
func SpiceScore(text string) float64 {
	if text == "" {
		return 0
	}
	lower := strings.ToLower(text)
	matches := 0
	for _, ind := range spiceIndicators {
		if strings.Contains(lower, ind) {
			matches++
		}
	}
	score := float64(matches) / float64(len(spiceIndicators))
	for _, phrase := range []string{"spicy", "mature", "adult"} {
		if strings.Contains(lower, phrase) {
			score += 0.3
			break
		}
	}
	if score > 1 {
		score = 1
	}
	return score
}

// Roller decides whether a percentage chance triggers.
type Roller interface {
	Roll(chance int) bool
}

// RandRoller rolls 1..100 against chance using a private source.
type RandRoller struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandRoller seeds a roller from seed, or from the clock when seed is 0.
func NewRandRoller(seed int64) *RandRoller {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandRoller{rng: rand.New(rand.NewSource(seed))}
}

// Roll reports whether a 1..100 draw is <= chance. chance <= 0 never
// triggers and chance >= 100 always does.
func (r *RandRoller) Roll(chance int) bool {
	if chance <= 0 {
		return false
	}
	if chance >= 100 {
		return true
	}
	r.mu.Lock()
	n := r.rng.Intn(100) + 1
	r.mu.Unlock()
	return n <= chance
}

// FixedRoller always returns its value.
type FixedRoller bool

// Roll implements Roller.
func (f FixedRoller) Roll(int) bool { return bool(f) }
