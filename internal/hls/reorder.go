package hls

import (
	"time"

	"github.com/streamkeep/corerec/pkg/diskslice"
)

// bufferedItem is the on-disk representation used when a ReorderBuffer
// spills beyond its in-memory capacity.
type bufferedItem[T any] struct {
	MSN  uint64
	Item T
}

// ReorderBuffer re-establishes MSN order across segment fetches that
// complete in arbitrary order (spec.md §4.10). Items arriving out of
// order are held until either the gap closes or the configured
// GapSkipPolicy decides to skip past it. Buffering beyond InMemoryCap
// spills to pkg/diskslice so a long-stalled gap under heavy prefetch
// doesn't grow the process's resident memory without bound.
type ReorderBuffer[T any] struct {
	policy     GapSkipPolicy
	inMemoryCap int

	haveExpected bool
	nextExpected uint64
	started      bool // true once Drain has emitted or skipped its first MSN

	inGap       bool
	gapOpenedAt time.Time

	mem      map[uint64]T
	spillIdx map[uint64]int
	spill    *diskslice.DiskSlice[bufferedItem[T]]
}

// NewReorderBuffer returns a ReorderBuffer governed by policy, holding
// up to inMemoryCap items in memory before spilling further arrivals to
// disk. inMemoryCap <= 0 means unbounded in-memory (no spill).
func NewReorderBuffer[T any](policy GapSkipPolicy, inMemoryCap int) *ReorderBuffer[T] {
	return &ReorderBuffer[T]{
		policy:      policy,
		inMemoryCap: inMemoryCap,
		mem:         make(map[uint64]T),
	}
}

// Complete records a segment fetch finishing for msn. Duplicate
// completions for the same MSN are ignored (the caller's prefetch
// planner already guards against the common case, but retries can
// still race).
func (b *ReorderBuffer[T]) Complete(msn uint64, item T) error {
	if !b.haveExpected {
		b.nextExpected = msn
		b.haveExpected = true
	} else if !b.started && msn < b.nextExpected {
		// Concurrent fetches can finish in any order: until the buffer
		// has actually started draining, a lower MSN than any seen so
		// far is still the true starting point, not a gap.
		b.nextExpected = msn
	}
	if b.has(msn) {
		return nil
	}
	if b.inMemoryCap <= 0 || len(b.mem) < b.inMemoryCap {
		b.mem[msn] = item
		return nil
	}

	if b.spill == nil {
		ds, err := diskslice.New[bufferedItem[T]](diskslice.Options{Name: "hls-reorder-buffer"})
		if err != nil {
			return err
		}
		b.spill = ds
		b.spillIdx = make(map[uint64]int)
	}
	idx := b.spill.Len()
	if err := b.spill.Append(bufferedItem[T]{MSN: msn, Item: item}); err != nil {
		return err
	}
	b.spillIdx[msn] = idx
	return nil
}

func (b *ReorderBuffer[T]) has(msn uint64) bool {
	if _, ok := b.mem[msn]; ok {
		return true
	}
	_, ok := b.spillIdx[msn]
	return ok
}

func (b *ReorderBuffer[T]) take(msn uint64) (T, bool) {
	if v, ok := b.mem[msn]; ok {
		delete(b.mem, msn)
		return v, true
	}
	if idx, ok := b.spillIdx[msn]; ok {
		delete(b.spillIdx, msn)
		entry, err := b.spill.Get(idx)
		if err != nil {
			var zero T
			return zero, false
		}
		return entry.Item, true
	}
	var zero T
	return zero, false
}

func (b *ReorderBuffer[T]) countAhead(at uint64) int {
	n := 0
	for msn := range b.mem {
		if msn > at {
			n++
		}
	}
	for msn := range b.spillIdx {
		if msn > at {
			n++
		}
	}
	return n
}

// NextExpected reports the MSN the buffer is currently waiting to emit
// next, and whether any segment has completed yet (false before the
// first Complete call).
func (b *ReorderBuffer[T]) NextExpected() (uint64, bool) {
	return b.nextExpected, b.haveExpected
}

// BufferedCount reports how many completed segments are currently held
// (in memory or spilled), regardless of order — used as the buffer
// pressure signal PrefetchPlanner.Plan consults.
func (b *ReorderBuffer[T]) BufferedCount() int {
	return len(b.mem) + len(b.spillIdx)
}

// Drain emits every item currently orderable starting at the next
// expected MSN, applying the gap-skip policy when that MSN is itself
// missing but newer segments have already completed. It returns the
// items in emission order, their MSNs (both monotonically increasing,
// satisfying spec.md §8's reorder invariant), and any MSNs skipped over
// by the gap policy.
func (b *ReorderBuffer[T]) Drain(now time.Time) (items []T, msns []uint64, skipped []uint64) {
	if !b.haveExpected {
		return nil, nil, nil
	}
	for {
		if v, ok := b.take(b.nextExpected); ok {
			items = append(items, v)
			msns = append(msns, b.nextExpected)
			b.nextExpected++
			b.started = true
			b.inGap = false
			continue
		}

		newer := b.countAhead(b.nextExpected)
		if newer == 0 {
			b.inGap = false
			return items, msns, skipped
		}

		if !b.inGap {
			b.inGap = true
			b.gapOpenedAt = now
		}
		if b.policy.ShouldSkip(newer, now.Sub(b.gapOpenedAt)) {
			skipped = append(skipped, b.nextExpected)
			b.nextExpected++
			b.started = true
			b.inGap = false
			continue
		}
		return items, msns, skipped
	}
}

// Close releases any disk-backed overflow storage.
func (b *ReorderBuffer[T]) Close() error {
	if b.spill == nil {
		return nil
	}
	return b.spill.Close()
}
