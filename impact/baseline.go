package impact

import (
	"sync"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// ewmaAlpha is the decay rate for the per-token-pair tolerated-slippage
// baseline, held constant across the process lifetime.
const ewmaAlpha = 0.05

// defaultInitialBaseline seeds every new token-pair's baseline before any
// observation has been recorded, in percent.
const defaultInitialBaseline = 0.3

type pairKey [40]byte

func keyFor(a, b ethcommon.Address) pairKey {
	var k pairKey
	lo, hi := a, b
	if bytesLess(hi.Bytes(), lo.Bytes()) {
		lo, hi = hi, lo
	}
	copy(k[:20], lo.Bytes())
	copy(k[20:], hi.Bytes())
	return k
}

func bytesLess(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// baselineTracker maintains an exponentially-weighted mean of tolerated
// slippage per unordered token pair.
type baselineTracker struct {
	mu      sync.Mutex
	initial float64
	means   map[pairKey]float64
}

func newBaselineTracker(initial float64) *baselineTracker {
	if initial <= 0 {
		initial = defaultInitialBaseline
	}
	return &baselineTracker{initial: initial, means: map[pairKey]float64{}}
}

// Get returns the current baseline for the pair, seeding it at the
// configured initial value on first use.
func (t *baselineTracker) Get(a, b ethcommon.Address) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := keyFor(a, b)
	if v, ok := t.means[k]; ok {
		return v
	}
	t.means[k] = t.initial
	return t.initial
}

// Observe folds a newly tolerated slippage percentage into the pair's mean.
func (t *baselineTracker) Observe(a, b ethcommon.Address, slippagePercent float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := keyFor(a, b)
	prev, ok := t.means[k]
	if !ok {
		prev = t.initial
	}
	t.means[k] = ewmaAlpha*slippagePercent + (1-ewmaAlpha)*prev
}
