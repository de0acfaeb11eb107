package hls

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/streamkeep/corerec/internal/models"
	"github.com/streamkeep/corerec/internal/observability"
	"github.com/streamkeep/corerec/internal/prefetch"
	"github.com/streamkeep/corerec/internal/retry"
	"github.com/streamkeep/corerec/internal/writer/hlsstrategy"
)

// Config holds the knobs an Orchestrator is constructed with, mirroring
// config.HLSConfig. It is a plain struct independent of internal/config
// (matching the rest of this module's leaf packages) so callers
// translate the viper-backed config at the wiring site.
type Config struct {
	LiveRefreshInterval      time.Duration
	AdaptiveRefresh          bool
	MinRefreshInterval       time.Duration
	MaxRefreshInterval       time.Duration
	TargetSegmentsPerRefresh float64

	DownloadConcurrency     int
	StreamingThresholdBytes int64

	LiveReorderBufferDuration    time.Duration
	LiveReorderBufferMaxSegments int
	LiveMaxOverallStallDuration  time.Duration

	GapSkipLive GapSkipPolicy
	GapSkipVOD  GapSkipPolicy

	KeyCacheTTL      time.Duration
	PlaylistCacheTTL time.Duration
	SegmentCacheTTL  time.Duration

	DecryptionOffload bool

	VariantPolicy VariantPolicy
	TargetBitrate int
	TargetWidth   int
	TargetHeight  int

	Retry    retry.Policy
	Prefetch prefetch.Config
}

// DefaultConfig returns sane defaults matching config.SetDefaults' HLS
// section.
func DefaultConfig() Config {
	return Config{
		LiveRefreshInterval:          2 * time.Second,
		AdaptiveRefresh:              true,
		MinRefreshInterval:           1 * time.Second,
		MaxRefreshInterval:           10 * time.Second,
		TargetSegmentsPerRefresh:     1,
		DownloadConcurrency:          4,
		StreamingThresholdBytes:      8 * 1024 * 1024,
		LiveReorderBufferDuration:    30 * time.Second,
		LiveReorderBufferMaxSegments: 60,
		LiveMaxOverallStallDuration:  60 * time.Second,
		GapSkipLive:                  DefaultLivePolicy(),
		GapSkipVOD:                   DefaultVODPolicy(),
		KeyCacheTTL:                  10 * time.Minute,
		PlaylistCacheTTL:             1 * time.Second,
		SegmentCacheTTL:              5 * time.Minute,
		VariantPolicy:                VariantHighestBitrate,
		Retry:                        retry.Policy{MaxRetries: 5, BaseDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second, Jitter: true},
		Prefetch:                     prefetch.Config{Enabled: true, PrefetchCount: 2, MaxBufferBeforeSkip: 8},
	}
}

// FailedKind mirrors spec.md §4.10's Failed(kind) terminal variants.
type FailedKind string

const (
	FailedPlaylistFetch    FailedKind = "playlist_fetch"
	FailedSegmentFetch     FailedKind = "segment_fetch"
	FailedKeyFetch         FailedKind = "key_fetch"
	FailedDecryption       FailedKind = "decryption"
	FailedCancelled        FailedKind = "cancelled"
	FailedStalled          FailedKind = "stalled"
	FailedProcessing       FailedKind = "processing"
)

// FailedError wraps FailedKind as a Go error so callers can
// errors.As into it.
type FailedError struct {
	Kind      FailedKind
	Retryable bool
	Err       error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("hls: %s: %v", e.Kind, e.Err)
}

func (e *FailedError) Unwrap() error { return e.Err }

// Orchestrator drives the HLS download state machine described in
// spec.md §4.10: Bootstrap, then RunningLive or RunningVOD, then
// Finalizing, emitting hlsstrategy.Items in MSN order to OnItem and
// lifecycle events to OnEvent.
type Orchestrator struct {
	cfg     Config
	fetcher Fetcher
	logger  *slog.Logger
	metrics *observability.Metrics

	// StreamLabel tags emitted metrics (e.g. the streamer's channel
	// name); defaults to a random session id if empty.
	StreamLabel string

	retryEngine *retry.Engine
	prefetchP   *prefetch.Planner
	keyCache    *TTLCache[[]byte]

	// OnItem receives each emitted segment/init/end-marker item, in
	// order, typically writer.Core[hlsstrategy.Item].Write.
	OnItem func(ctx context.Context, item hlsstrategy.Item) error

	// OnEvent receives lifecycle events; may be nil.
	OnEvent func(models.Event)
}

// New constructs an Orchestrator with its own private key cache, which
// Close releases.
func New(cfg Config, fetcher Fetcher, logger *slog.Logger, metrics *observability.Metrics) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	keyCache, err := NewTTLCache[[]byte](256)
	if err != nil {
		return nil, fmt.Errorf("hls: constructing key cache: %w", err)
	}

	o := &Orchestrator{
		cfg:         cfg,
		fetcher:     fetcher,
		logger:      logger,
		metrics:     metrics,
		StreamLabel: uuid.NewString(),
		retryEngine: retry.New(cfg.Retry),
		prefetchP:   prefetch.New(cfg.Prefetch),
		keyCache:    keyCache,
	}
	return o, nil
}

// Close releases the Orchestrator's key cache.
func (o *Orchestrator) Close() {
	o.keyCache.Close()
}

func (o *Orchestrator) emit(ev models.Event) {
	if o.OnEvent != nil {
		o.OnEvent(ev)
	}
}

func (o *Orchestrator) emitItem(ctx context.Context, item hlsstrategy.Item) error {
	if o.OnItem == nil {
		return nil
	}
	return o.OnItem(ctx, item)
}

// Run executes the full Bootstrap -> Running{Live,VOD} -> Finalizing
// state machine against playlistURL and blocks until the stream ends,
// is cancelled, or fails terminally. It always attempts to emit a
// trailing hlsstrategy.Item{Kind: KindEndMarker} so the writer
// finalizes whatever it has, even on failure.
func (o *Orchestrator) Run(ctx context.Context, playlistURL string, headers map[string]string) error {
	defer func() {
		_ = o.emitItem(context.Background(), hlsstrategy.Item{Kind: hlsstrategy.KindEndMarker})
	}()

	mediaURL, mpl, err := o.bootstrap(ctx, playlistURL, headers)
	if err != nil {
		o.emit(models.DownloadFailed(mapFailedKind(err), err.Error()))
		return err
	}

	if mpl.EndList {
		err = o.runVOD(ctx, mediaURL, headers, mpl)
	} else {
		err = o.runLive(ctx, mediaURL, headers, mpl)
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			err = &FailedError{Kind: FailedCancelled, Err: err}
		}
		o.emit(models.DownloadFailed(mapFailedKind(err), err.Error()))
		return err
	}

	o.emit(models.DownloadCompleted(""))
	return nil
}

func mapFailedKind(err error) models.FailureKind {
	var fe *FailedError
	if errors.As(err, &fe) {
		switch fe.Kind {
		case FailedPlaylistFetch:
			return models.FailurePlaylistFetch
		case FailedSegmentFetch:
			if fe.Retryable {
				return models.FailureSegmentFetchRetried
			}
			return models.FailureSegmentFetch
		case FailedKeyFetch:
			return models.FailureKeyFetch
		case FailedDecryption:
			return models.FailureDecryption
		case FailedCancelled:
			return models.FailureCancelled
		case FailedStalled:
			return models.FailureStalled
		case FailedProcessing:
			return models.FailureProcessing
		}
	}
	return models.FailureProcessing
}

// bootstrap fetches playlistURL, following a master playlist to its
// selected variant if necessary, and returns the resolved media
// playlist URL plus its first parse.
func (o *Orchestrator) bootstrap(ctx context.Context, playlistURL string, headers map[string]string) (string, *MediaPlaylist, error) {
	data, err := o.fetchBuffered(ctx, playlistURL, headers)
	if err != nil {
		return "", nil, &FailedError{Kind: FailedPlaylistFetch, Retryable: retry.Classify(err), Err: err}
	}

	if IsMaster(data) {
		master, err := ParseMaster(data, playlistURL)
		if err != nil {
			return "", nil, &FailedError{Kind: FailedPlaylistFetch, Err: err}
		}
		variant, err := SelectVariant(o.cfg.VariantPolicy, master.Variants, o.cfg.TargetBitrate, o.cfg.TargetWidth, o.cfg.TargetHeight, nil)
		if err != nil {
			return "", nil, &FailedError{Kind: FailedPlaylistFetch, Err: err}
		}
		o.logger.Info("hls: selected variant",
			slog.String("uri", variant.URI),
			slog.Int("bandwidth", variant.Bandwidth),
			slog.Any("codecs", CodecNames(variant.Codecs)),
		)

		data, err = o.fetchBuffered(ctx, variant.URI, headers)
		if err != nil {
			return "", nil, &FailedError{Kind: FailedPlaylistFetch, Retryable: retry.Classify(err), Err: err}
		}
		playlistURL = variant.URI
	}

	mpl, err := ParseMedia(data, playlistURL)
	if err != nil {
		return "", nil, &FailedError{Kind: FailedPlaylistFetch, Err: err}
	}
	return playlistURL, mpl, nil
}

func (o *Orchestrator) fetchBuffered(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	var body []byte
	err := o.retryEngine.Run(ctx, func(ctx context.Context) error {
		resp, err := o.fetcher.Fetch(ctx, FetchRequest{Method: "GET", URL: url, Headers: headers})
		if err != nil {
			return err
		}
		if resp.StatusCode != 0 && resp.StatusCode >= 400 {
			return fmt.Errorf("hls: fetch %s: status %d", url, resp.StatusCode)
		}
		if resp.Stream != nil {
			defer resp.Stream.Close()
			data, readErr := io.ReadAll(resp.Stream)
			if readErr != nil {
				return readErr
			}
			body = data
			return nil
		}
		body = resp.Body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// runVOD schedules every segment already known from a single playlist
// fetch, fetches them with bounded concurrency, reorders, and emits.
func (o *Orchestrator) runVOD(ctx context.Context, playlistURL string, headers map[string]string, mpl *MediaPlaylist) error {
	rb := NewReorderBuffer[hlsstrategy.Item](o.cfg.GapSkipVOD, 0)
	defer rb.Close()

	if err := o.emitInitSegments(ctx, playlistURL, headers, mpl); err != nil {
		return err
	}

	if err := o.fetchAll(ctx, playlistURL, headers, mpl.Segments, rb); err != nil {
		return err
	}

	items, _, _ := rb.Drain(time.Now())
	for _, item := range items {
		if err := o.emitItem(ctx, item); err != nil {
			return &FailedError{Kind: FailedProcessing, Err: err}
		}
	}
	return nil
}

// emitInitSegments emits one KindInit item per distinct EXT-X-MAP URI
// referenced by mpl's segments, in first-seen order.
func (o *Orchestrator) emitInitSegments(ctx context.Context, playlistURL string, headers map[string]string, mpl *MediaPlaylist) error {
	seen := make(map[string]bool)
	for _, seg := range mpl.Segments {
		if seg.MapURI == "" || seen[seg.MapURI] {
			continue
		}
		seen[seg.MapURI] = true
		data, err := o.fetchBuffered(ctx, seg.MapURI, headers)
		if err != nil {
			return &FailedError{Kind: FailedSegmentFetch, Retryable: retry.Classify(err), Err: err}
		}
		if err := o.emitItem(ctx, hlsstrategy.Item{Kind: hlsstrategy.KindInit, Payload: data}); err != nil {
			return &FailedError{Kind: FailedProcessing, Err: err}
		}
	}
	return nil
}

// fetchAll dispatches fetches for segs under DownloadConcurrency,
// feeding each completion into rb.
func (o *Orchestrator) fetchAll(ctx context.Context, playlistURL string, headers map[string]string, segs []SegmentInfo, rb *ReorderBuffer[hlsstrategy.Item]) error {
	concurrency := o.cfg.DownloadConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	sem := semaphore.NewWeighted(int64(concurrency))

	var (
		mu      sync.Mutex
		firstErr error
	)

	var wg sync.WaitGroup
	for _, seg := range segs {
		seg := seg
		if err := sem.Acquire(ctx, 1); err != nil {
			return &FailedError{Kind: FailedCancelled, Err: err}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			item, err := o.fetchSegment(ctx, seg, headers)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = &FailedError{Kind: FailedSegmentFetch, Retryable: retry.Classify(err), Err: err}
				}
				if o.metrics != nil {
					o.metrics.HLSSegmentsFailedTotal.WithLabelValues(o.StreamLabel).Inc()
				}
				return
			}
			if err := rb.Complete(seg.MSN, item); err != nil && firstErr == nil {
				firstErr = &FailedError{Kind: FailedProcessing, Err: err}
			}
			if o.metrics != nil {
				o.metrics.HLSSegmentsFetchedTotal.WithLabelValues(o.StreamLabel).Inc()
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return nil
}

// fetchSegment fetches, decrypts, and wraps one segment as an Item.
func (o *Orchestrator) fetchSegment(ctx context.Context, seg SegmentInfo, headers map[string]string) (hlsstrategy.Item, error) {
	req := FetchRequest{Method: "GET", URL: seg.URI, Headers: headers}
	if seg.ByteRange != nil {
		req.HasRange = true
		req.RangeStart = seg.ByteRange.Offset
		req.RangeEnd = seg.ByteRange.Offset + seg.ByteRange.Length - 1
	}
	req.Stream = o.cfg.StreamingThresholdBytes > 0 && seg.ByteRange != nil && seg.ByteRange.Length >= o.cfg.StreamingThresholdBytes

	var raw []byte
	err := o.retryEngine.Run(ctx, func(ctx context.Context) error {
		resp, err := o.fetcher.Fetch(ctx, req)
		if err != nil {
			return err
		}
		if resp.StatusCode != 0 && resp.StatusCode >= 400 {
			return fmt.Errorf("hls: fetch segment %s: status %d", seg.URI, resp.StatusCode)
		}
		if resp.Stream != nil {
			defer resp.Stream.Close()
			data, readErr := io.ReadAll(resp.Stream)
			if readErr != nil {
				return readErr
			}
			raw = data
			return nil
		}
		raw = resp.Body
		return nil
	})
	if err != nil {
		return hlsstrategy.Item{}, err
	}

	plain, err := o.decryptSegment(ctx, seg, headers, raw)
	if err != nil {
		return hlsstrategy.Item{}, &FailedError{Kind: FailedDecryption, Err: err}
	}

	return hlsstrategy.Item{Kind: hlsstrategy.KindSegment, Payload: plain, DurationSecs: float64(seg.DurationS)}, nil
}

func (o *Orchestrator) decryptSegment(ctx context.Context, seg SegmentInfo, headers map[string]string, raw []byte) ([]byte, error) {
	if seg.Key == nil || seg.Key.Method == KeyMethodNone {
		return raw, nil
	}
	keyBytes, err := o.resolveKey(ctx, seg.Key, headers)
	if err != nil {
		return nil, err
	}
	return Decrypt(seg.Key, keyBytes, seg.MSN, raw)
}

func (o *Orchestrator) resolveKey(ctx context.Context, key *KeyInfo, headers map[string]string) ([]byte, error) {
	if cached, ok := o.keyCache.Get(key.URI); ok {
		return cached, nil
	}
	data, err := o.fetchBuffered(ctx, key.URI, headers)
	if err != nil {
		return nil, &FailedError{Kind: FailedKeyFetch, Retryable: retry.Classify(err), Err: err}
	}
	o.keyCache.Set(key.URI, data, o.cfg.KeyCacheTTL)
	return data, nil
}

// runLive periodically refreshes playlistURL, schedules newly-listed
// segments, drains the reorder buffer after each completion batch, and
// detects prolonged stalls, until ctx is cancelled or EXT-X-ENDLIST
// appears (a live stream that has ended).
func (o *Orchestrator) runLive(ctx context.Context, playlistURL string, headers map[string]string, mpl *MediaPlaylist) error {
	rb := NewReorderBuffer[hlsstrategy.Item](o.cfg.GapSkipLive, o.cfg.LiveReorderBufferMaxSegments*4)
	defer rb.Close()

	initDone := false
	lastEmit := time.Now()
	interval := o.cfg.LiveRefreshInterval
	var recentArrivals arrivalTracker

	// discovered holds every segment the orchestrator has seen in a
	// playlist refresh but not yet fetched-and-consumed or gap-skipped;
	// scheduled marks ones already dispatched (or mandatory-next),
	// independent of o.prefetchP's own pending/completed bookkeeping,
	// since the "segment currently needed" fetch always happens
	// regardless of whether prefetching is enabled.
	discovered := make(map[uint64]SegmentInfo)
	scheduled := make(map[uint64]bool)

	processPlaylist := func(mpl *MediaPlaylist) error {
		if !initDone {
			if err := o.emitInitSegments(ctx, playlistURL, headers, mpl); err != nil {
				return err
			}
			initDone = true
		}

		newCount := 0
		for _, seg := range mpl.Segments {
			if _, known := discovered[seg.MSN]; known || scheduled[seg.MSN] {
				continue
			}
			discovered[seg.MSN] = seg
			newCount++
		}
		if newCount > 0 {
			recentArrivals.record(time.Now(), newCount)
		}

		next, have := rb.NextExpected()
		completedMSN := -1
		if have && next > 0 {
			completedMSN = int(next - 1)
		}

		var toFetch []SegmentInfo
		if have {
			if seg, ok := discovered[next]; ok && !scheduled[next] {
				toFetch = append(toFetch, seg)
				scheduled[next] = true
			}
		}

		var candidateMSNs []int
		for msn := range discovered {
			if scheduled[msn] {
				continue
			}
			candidateMSNs = append(candidateMSNs, int(msn))
		}
		for _, msn := range o.prefetchP.Plan(completedMSN, rb.BufferedCount(), candidateMSNs) {
			seg := discovered[uint64(msn)]
			toFetch = append(toFetch, seg)
			scheduled[uint64(msn)] = true
		}

		if err := o.fetchAll(ctx, playlistURL, headers, toFetch, rb); err != nil {
			return err
		}
		for _, seg := range toFetch {
			delete(discovered, seg.MSN)
			delete(scheduled, seg.MSN)
			o.prefetchP.MarkCompleted(int(seg.MSN))
		}

		items, _, skipped := rb.Drain(time.Now())
		for _, skippedMSN := range skipped {
			delete(discovered, skippedMSN)
			delete(scheduled, skippedMSN)
			o.logger.Warn("hls: gap-skip discarded segment", slog.Uint64("msn", skippedMSN))
			if o.metrics != nil {
				o.metrics.HLSSegmentsSkippedTotal.WithLabelValues(o.StreamLabel).Inc()
			}
		}
		for _, item := range items {
			if err := o.emitItem(ctx, item); err != nil {
				return &FailedError{Kind: FailedProcessing, Err: err}
			}
			lastEmit = time.Now()
		}

		if newNext, ok := rb.NextExpected(); ok && newNext > 0 {
			o.prefetchP.CleanupBefore(int(newNext))
		}

		if o.cfg.AdaptiveRefresh {
			interval = computeRefreshInterval(o.cfg, recentArrivals.ratePerSec(time.Now()))
		}
		return nil
	}

	if err := processPlaylist(mpl); err != nil {
		return err
	}
	if mpl.EndList {
		return nil
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return &FailedError{Kind: FailedCancelled, Err: ctx.Err()}
		case <-timer.C:
			if o.cfg.LiveMaxOverallStallDuration > 0 && time.Since(lastEmit) >= o.cfg.LiveMaxOverallStallDuration {
				return &FailedError{Kind: FailedStalled, Err: ErrStalled}
			}

			data, err := o.fetchBuffered(ctx, playlistURL, headers)
			if err != nil {
				o.logger.Warn("hls: playlist refresh failed", slog.String("error", err.Error()))
				timer.Reset(interval)
				continue
			}
			next, err := ParseMedia(data, playlistURL)
			if err != nil {
				o.logger.Warn("hls: playlist parse failed", slog.String("error", err.Error()))
				timer.Reset(interval)
				continue
			}

			if err := processPlaylist(next); err != nil {
				return err
			}
			if next.EndList {
				return nil
			}
			timer.Reset(interval)
		}
	}
}

// arrivalTracker estimates the recent segment arrival rate over a
// trailing window, feeding the adaptive refresh interval formula.
type arrivalTracker struct {
	windowStart time.Time
	count       int
}

func (a *arrivalTracker) record(now time.Time, n int) {
	if a.windowStart.IsZero() || now.Sub(a.windowStart) > 60*time.Second {
		a.windowStart = now
		a.count = 0
	}
	a.count += n
}

func (a *arrivalTracker) ratePerSec(now time.Time) float64 {
	if a.windowStart.IsZero() {
		return 0
	}
	elapsed := now.Sub(a.windowStart).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(a.count) / elapsed
}

// computeRefreshInterval implements spec.md §4.10's adaptive refresh
// formula: clamp(target_segments_per_refresh / rate, min, max).
func computeRefreshInterval(cfg Config, observedRatePerSec float64) time.Duration {
	if observedRatePerSec <= 0 {
		return cfg.LiveRefreshInterval
	}
	target := cfg.TargetSegmentsPerRefresh
	if target <= 0 {
		target = 1
	}
	interval := time.Duration(float64(time.Second) * target / observedRatePerSec)
	if cfg.MinRefreshInterval > 0 && interval < cfg.MinRefreshInterval {
		interval = cfg.MinRefreshInterval
	}
	if cfg.MaxRefreshInterval > 0 && interval > cfg.MaxRefreshInterval {
		interval = cfg.MaxRefreshInterval
	}
	return interval
}
