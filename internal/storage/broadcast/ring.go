package broadcast

import "github.com/xtxerr/hostwatch/internal/storage/types"

// eventRing is a fixed-capacity ring of samples for one subscriber.
// When full, the oldest sample is overwritten and the drop is counted so a
// gap marker can be surfaced to the consumer. Not safe for concurrent use;
// the owning Subscription serializes access.
type eventRing struct {
	data     []types.Sample
	head     int64 // Next write position
	tail     int64 // Oldest data position
	count    int64
	capacity int64

	dropped int64 // Drops since the last gap marker was consumed
}

func newEventRing(capacity int) *eventRing {
	if capacity <= 0 {
		capacity = 256
	}
	return &eventRing{
		data:     make([]types.Sample, capacity),
		capacity: int64(capacity),
	}
}

// push adds a sample, overwriting the oldest when full.
func (r *eventRing) push(sample types.Sample) {
	if r.count >= r.capacity {
		// Overwrite oldest
		r.tail++
		r.count--
		r.dropped++
	}

	idx := r.head % r.capacity
	r.data[idx] = sample
	r.head++
	r.count++
}

// pop removes and returns the oldest sample.
func (r *eventRing) pop() (types.Sample, bool) {
	if r.count == 0 {
		return types.Sample{}, false
	}

	idx := r.tail % r.capacity
	sample := r.data[idx]
	r.data[idx] = types.Sample{} // Clear for GC
	r.tail++
	r.count--

	return sample, true
}

// takeDropped returns the pending drop count and resets it.
func (r *eventRing) takeDropped() int64 {
	n := r.dropped
	r.dropped = 0
	return n
}

func (r *eventRing) len() int {
	return int(r.count)
}
