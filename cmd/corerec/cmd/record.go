package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/streamkeep/corerec/internal/config"
	"github.com/streamkeep/corerec/internal/engine"
	"github.com/streamkeep/corerec/internal/flvpipeline"
	"github.com/streamkeep/corerec/internal/hls"
	"github.com/streamkeep/corerec/internal/httpclient"
	"github.com/streamkeep/corerec/internal/models"
	"github.com/streamkeep/corerec/internal/observability"
	"github.com/streamkeep/corerec/internal/prefetch"
	"github.com/streamkeep/corerec/internal/retry"
	"github.com/streamkeep/corerec/internal/storage"
	"github.com/streamkeep/corerec/internal/writer"
	"github.com/streamkeep/corerec/internal/writer/flvstrategy"
	"github.com/streamkeep/corerec/internal/writer/hlsstrategy"
	"github.com/streamkeep/corerec/pkg/flvcodec"
)

// formatValue is a pflag.Value restricting --format to the two stream
// container kinds this command knows how to drive, rejecting anything
// else at flag-parse time rather than deep inside runRecord.
type formatValue string

var _ pflag.Value = (*formatValue)(nil)

func (f *formatValue) String() string { return string(*f) }
func (f *formatValue) Type() string   { return "hls|flv" }
func (f *formatValue) Set(s string) error {
	switch strings.ToLower(s) {
	case "hls", "flv":
		*f = formatValue(strings.ToLower(s))
		return nil
	default:
		return fmt.Errorf("must be hls or flv")
	}
}

var (
	recordFormat  = formatValue("hls")
	recordOutDir  string
	recordHeaders []string
)

var recordCmd = &cobra.Command{
	Use:   "record <url>",
	Short: "Record one already-resolved stream URL",
	Long: `Record pulls a single stream URL, already resolved by a platform
extractor collaborator (not part of this core), and drives it through
the HLS or FLV repair pipeline into rotated files on disk.

This is a manual exercise harness, not a production recorder: there is
no stream monitor, no retry-across-reconnects, and no danmu collection
wired in here. Those live in internal/monitor and internal/danmu and
are exercised by this module's tests, not by this command.`,
	Args: cobra.ExactArgs(1),
	RunE: runRecord,
}

func init() {
	recordCmd.Flags().Var(&recordFormat, "format", "stream format: hls, flv")
	recordCmd.Flags().StringVar(&recordOutDir, "out", "", "output directory (default: storage.base_dir from config)")
	recordCmd.Flags().StringArrayVar(&recordHeaders, "header", nil, "extra request header as Key: Value (repeatable)")
	recordCmd.Flags().String("engine", "", "download engine for --format=flv: native, ffmpeg, streamlink (default: engine.kind from config)")

	rootCmd.AddCommand(recordCmd)
}

func runRecord(cmd *cobra.Command, args []string) error {
	url := args[0]
	logger := slog.Default()

	headers, err := parseHeaders(recordHeaders)
	if err != nil {
		return exitErr(models.ExitInvalidInput, err)
	}

	baseDir := cfg.Storage.BaseDir
	if recordOutDir != "" {
		baseDir = recordOutDir
	}
	if baseDir == "" {
		baseDir = "."
	}
	sandbox, err := storage.NewSandbox(baseDir)
	if err != nil {
		return exitErr(models.ExitWriterFailure, fmt.Errorf("initializing storage sandbox: %w", err))
	}

	metrics := observability.NewMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal, draining in-flight work", slog.String("signal", sig.String()))
		cancel()
	}()

	writerCfg := writer.Config{
		PathTemplate:        cfg.Writer.FileNameTemplate,
		MaxFileSize:         cfg.Writer.MaxFileSize.Bytes(),
		ProgressMinInterval: cfg.Writer.ProgressMinInterval.Duration(),
		ProgressMinBytes:    cfg.Writer.ProgressMinBytes.Bytes(),
	}

	progress := func(p writer.Progress) {
		logger.Info("progress",
			slog.Int64("bytes_total", p.BytesTotal),
			slog.Int64("items_total", p.ItemsTotal),
			slog.Float64("media_duration_s", p.CurrentMediaDurationS),
			slog.Float64("speed_bytes_per_sec", p.SpeedBytesPerSec),
		)
	}

	switch recordFormat.String() {
	case "hls":
		err = recordHLS(ctx, url, headers, sandbox, writerCfg, progress, logger, metrics)
	case "flv":
		engineKind, flagErr := cmd.Flags().GetString("engine")
		if flagErr != nil {
			return exitErr(models.ExitGenericFailure, flagErr)
		}
		engineCfg := cfg.Engine
		if engineKind != "" {
			engineCfg.Kind = engineKind
		}
		err = recordFLV(ctx, url, headers, sandbox, writerCfg, progress, logger, engineCfg)
	default:
		return exitErr(models.ExitInvalidInput, fmt.Errorf("unknown --format %q (want hls or flv)", recordFormat))
	}

	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return exitErr(models.ExitCancelled, err)
	}
	return exitErr(models.ExitPipelineProcessing, err)
}

func recordHLS(ctx context.Context, url string, headers map[string]string, sandbox *storage.Sandbox, writerCfg writer.Config, progress writer.ProgressFunc, logger *slog.Logger, metrics *observability.Metrics) error {
	httpCfg := httpclient.DefaultConfig()
	httpCfg.Logger = logger
	client := httpclient.New(httpCfg)
	fetcher := hls.NewHTTPFetcher(client)

	strategy := hlsstrategy.New(sandbox)
	core := writer.NewCore[hlsstrategy.Item](writerCfg, strategy, sandbox, logger, progress)

	orchCfg := hls.Config{
		LiveRefreshInterval:          cfg.HLS.LiveRefreshInterval.Duration(),
		AdaptiveRefresh:              cfg.HLS.AdaptiveRefresh,
		MinRefreshInterval:           cfg.HLS.MinRefreshInterval.Duration(),
		MaxRefreshInterval:           cfg.HLS.MaxRefreshInterval.Duration(),
		TargetSegmentsPerRefresh:     cfg.HLS.TargetSegmentsPerRefresh,
		DownloadConcurrency:          cfg.HLS.DownloadConcurrency,
		StreamingThresholdBytes:      cfg.HLS.StreamingThresholdBytes.Bytes(),
		LiveReorderBufferDuration:    cfg.HLS.LiveReorderBufferDuration.Duration(),
		LiveReorderBufferMaxSegments: cfg.HLS.LiveReorderBufferMaxSegments,
		LiveMaxOverallStallDuration:  cfg.HLS.LiveMaxOverallStallDuration.Duration(),
		GapSkipLive:                  gapSkipPolicyFromConfig(),
		GapSkipVOD:                   hls.DefaultVODPolicy(),
		KeyCacheTTL:                  cfg.HLS.KeyCacheTTL.Duration(),
		PlaylistCacheTTL:             cfg.HLS.PlaylistCacheTTL.Duration(),
		SegmentCacheTTL:              cfg.HLS.SegmentCacheTTL.Duration(),
		DecryptionOffload:            cfg.HLS.DecryptionOffload,
		VariantPolicy:                hls.ParseVariantPolicy(cfg.HLS.VariantSelection),
		TargetBitrate:                cfg.HLS.TargetBitrate,
		Retry: retry.Policy{
			MaxRetries: cfg.Retry.MaxRetries,
			BaseDelay:  cfg.Retry.BaseDelay.Duration(),
			MaxDelay:   cfg.Retry.MaxDelay.Duration(),
			Jitter:     cfg.Retry.Jitter,
		},
		Prefetch: prefetch.Config{
			Enabled:             cfg.Prefetch.Enabled,
			PrefetchCount:       cfg.Prefetch.PrefetchCount,
			MaxBufferBeforeSkip: cfg.Prefetch.MaxBufferBeforeSkip,
		},
	}

	orch, err := hls.New(orchCfg, fetcher, logger, metrics)
	if err != nil {
		return fmt.Errorf("constructing HLS orchestrator: %w", err)
	}
	defer orch.Close()

	orch.OnItem = func(ctx context.Context, item hlsstrategy.Item) error {
		return core.Write(ctx, item)
	}
	orch.OnEvent = func(ev models.Event) {
		logEvent(logger, ev)
	}

	if err := orch.Run(ctx, url, headers); err != nil {
		_ = core.Close(context.Background())
		return err
	}
	return core.Close(context.Background())
}

func recordFLV(ctx context.Context, url string, headers map[string]string, sandbox *storage.Sandbox, writerCfg writer.Config, progress writer.ProgressFunc, logger *slog.Logger, engineCfg config.EngineConfig) error {
	adapter, err := engine.New(engineCfg)
	if err != nil {
		return fmt.Errorf("constructing download engine: %w", err)
	}
	if err := adapter.Start(ctx, engine.Source{URL: url, Headers: headers}); err != nil {
		return fmt.Errorf("starting download engine: %w", err)
	}
	defer func() { _ = adapter.Stop() }()

	strategy := flvstrategy.New(sandbox, logger)
	core := writer.NewCore[flvcodec.Tag](writerCfg, strategy, sandbox, logger, progress)

	pipeline := flvpipeline.New(flvpipeline.Config{
		DuplicateWindowSize:          cfg.FLV.DuplicateWindowSize,
		ReplayJumpThresholdMS:        cfg.FLV.ReplayJumpThresholdMS,
		MatchOnLengthAfterJump:       cfg.FLV.MatchOnLengthAfterJump,
		SequenceHeaderMode:           sequenceHeaderModeFromConfig(),
		DropDuplicateSequenceHeaders: cfg.FLV.DropDuplicateSequenceHeaders,
	}, strategy, core)

	demux := flvcodec.NewDemuxer()
	demux.Logger = logger

	stdout := adapter.Stdout()
	var readErr error
	if stdout != nil {
		readErr = pumpFLV(ctx, stdout, pipeline, demux)
	}

	closeErr := pipeline.Close(ctx)
	if readErr != nil {
		return readErr
	}
	return closeErr
}

// pumpFLV reads chunks from the adapter's stdout and feeds them through
// demux into pipeline until ctx is done, the stream ends, or a read
// error occurs.
func pumpFLV(ctx context.Context, stdout io.ReadCloser, pipeline *flvpipeline.Pipeline, demux *flvcodec.Demuxer) error {
	buf := make([]byte, 64*1024)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := stdout.Read(buf)
		if n > 0 {
			if feedErr := pipeline.FeedRaw(ctx, demux, buf[:n]); feedErr != nil {
				return feedErr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func logEvent(logger *slog.Logger, ev models.Event) {
	switch ev.Kind {
	case models.EventSegmentStarted:
		logger.Info("segment started", slog.String("id", ev.SegmentID), slog.String("path", ev.Path))
	case models.EventSegmentCompleted:
		logger.Info("segment completed", slog.String("id", ev.SegmentID), slog.String("path", ev.Path))
	case models.EventDownloadCompleted:
		logger.Info("download completed", slog.String("path", ev.Path))
	case models.EventDownloadFailed:
		logger.Error("download failed", slog.String("kind", string(ev.FailureKind)), slog.String("message", ev.FailureMessage))
	}
}

func gapSkipPolicyFromConfig() hls.GapSkipPolicy {
	return hls.GapSkipPolicy{
		Kind:     hls.ParseGapSkipKind(cfg.HLS.GapSkipStrategy),
		Count:    cfg.HLS.GapSkipCount,
		Duration: cfg.HLS.GapSkipDuration.Duration(),
	}
}

func sequenceHeaderModeFromConfig() flvpipeline.Mode {
	if strings.EqualFold(cfg.FLV.SequenceHeaderMode, "semantic_signature") {
		return flvpipeline.ModeSemanticSignature
	}
	return flvpipeline.ModeCRC32
}

// parseHeaders turns repeated "Key: Value" flag values into a header map.
func parseHeaders(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(raw))
	for _, h := range raw {
		k, v, ok := strings.Cut(h, ":")
		if !ok {
			return nil, fmt.Errorf("invalid --header %q (want \"Key: Value\")", h)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}

// ExitCodeError carries one of internal/models' exit code constants
// alongside the underlying error, so main can translate a terminal
// RunE failure into the documented process exit code without every
// caller re-deriving it from the error's shape.
type ExitCodeError struct {
	Code int
	Err  error
}

func (e *ExitCodeError) Error() string { return e.Err.Error() }
func (e *ExitCodeError) Unwrap() error { return e.Err }

func exitErr(code int, err error) error {
	return &ExitCodeError{Code: code, Err: err}
}
