// Package prefetch implements the HLS segment prefetch planner: given a
// completed media sequence number and the window of known segments, it
// decides which upcoming segments to start downloading before they are
// strictly needed, bounded by a buffer-size skip threshold.
package prefetch

import "sort"

// Config configures a Planner.
type Config struct {
	Enabled              bool
	PrefetchCount        int
	MaxBufferBeforeSkip  int
}

// Planner tracks which media sequence numbers are pending download or
// already completed, and computes the next batch to prefetch.
type Planner struct {
	cfg       Config
	pending   map[int]struct{}
	completed map[int]struct{}
}

// New returns a Planner configured with cfg.
func New(cfg Config) *Planner {
	return &Planner{
		cfg:       cfg,
		pending:   make(map[int]struct{}),
		completed: make(map[int]struct{}),
	}
}

// Plan returns up to cfg.PrefetchCount MSNs strictly greater than
// completedMSN, drawn from knownMSNs (which need not be sorted), that
// are not already pending or completed. It returns nil when prefetching
// is disabled or bufferSize has reached MaxBufferBeforeSkip.
func (p *Planner) Plan(completedMSN int, bufferSize int, knownMSNs []int) []int {
	if !p.cfg.Enabled {
		return nil
	}
	if bufferSize >= p.cfg.MaxBufferBeforeSkip {
		return nil
	}
	if p.cfg.PrefetchCount <= 0 {
		return nil
	}

	candidates := make([]int, 0, len(knownMSNs))
	for _, msn := range knownMSNs {
		if msn <= completedMSN {
			continue
		}
		if _, ok := p.pending[msn]; ok {
			continue
		}
		if _, ok := p.completed[msn]; ok {
			continue
		}
		candidates = append(candidates, msn)
	}
	sort.Ints(candidates)

	if len(candidates) > p.cfg.PrefetchCount {
		candidates = candidates[:p.cfg.PrefetchCount]
	}
	for _, msn := range candidates {
		p.pending[msn] = struct{}{}
	}
	return candidates
}

// MarkCompleted transitions msn from pending to completed. It is safe to
// call for an MSN that was never tracked as pending.
func (p *Planner) MarkCompleted(msn int) {
	delete(p.pending, msn)
	p.completed[msn] = struct{}{}
}

// CleanupBefore discards all pending/completed bookkeeping for MSNs
// strictly less than msn, bounding the planner's memory use over a long
// running capture.
func (p *Planner) CleanupBefore(msn int) {
	for k := range p.pending {
		if k < msn {
			delete(p.pending, k)
		}
	}
	for k := range p.completed {
		if k < msn {
			delete(p.completed, k)
		}
	}
}

// PendingCount returns the number of MSNs currently tracked as pending.
func (p *Planner) PendingCount() int {
	return len(p.pending)
}

// CompletedCount returns the number of MSNs currently tracked as completed.
func (p *Planner) CompletedCount() int {
	return len(p.completed)
}
