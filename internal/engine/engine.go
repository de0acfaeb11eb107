// Package engine provides the external-downloader adapter boundary:
// three concrete adapters (ffmpeg, streamlink, native) behind one
// interface, chosen at runtime by EngineConfig.Kind. The ffmpeg and
// streamlink adapters shell out to a located binary and stream its
// stdout into the recording pipeline; the native adapter is a no-op
// marker for the in-process HLSOrchestrator/FLVPipeline path, which
// needs no external process at all.
package engine

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/streamkeep/corerec/internal/config"
	"github.com/streamkeep/corerec/internal/util"
)

// Kind identifies a concrete Adapter implementation.
type Kind string

const (
	KindFFmpeg     Kind = "ffmpeg"
	KindStreamlink Kind = "streamlink"
	KindNative     Kind = "native"
)

// Source describes the input the adapter should pull from.
type Source struct {
	URL     string
	Headers map[string]string
}

// Adapter starts an external (or in-process) downloader against a
// Source and exposes its output as a reader, plus lifecycle control.
// Stdout is the adapter's responsibility to pipe; corerec's own
// HLSOrchestrator/FLVPipeline consume from Stdout() when Kind is not
// KindNative.
type Adapter interface {
	// Start launches the adapter. For process adapters this starts the
	// external binary; for the native adapter it is a no-op.
	Start(ctx context.Context, src Source) error

	// Stdout returns the adapter's output stream. Only valid after a
	// successful Start; nil for the native adapter, whose output is
	// produced directly by internal/hls or internal/flvpipeline.
	Stdout() io.ReadCloser

	// Wait blocks until the adapter's underlying process exits (or, for
	// the native adapter, returns ErrNotRunning immediately since there
	// is no process to wait on).
	Wait() error

	// Stop terminates the adapter, if running.
	Stop() error
}

// New selects and constructs the Adapter for cfg.Kind.
func New(cfg config.EngineConfig) (Adapter, error) {
	switch Kind(cfg.Kind) {
	case KindFFmpeg:
		path := cfg.FFmpegPath
		if path == "" {
			found, err := util.FindBinary("ffmpeg", "CORREC_FFMPEG_PATH")
			if err != nil {
				return nil, fmt.Errorf("%w: ffmpeg: %w", ErrBinaryNotFound, err)
			}
			path = found
		}
		return &processAdapter{binary: path, buildArgs: ffmpegArgs}, nil

	case KindStreamlink:
		path := cfg.StreamlinkPath
		if path == "" {
			found, err := util.FindBinary("streamlink", "CORREC_STREAMLINK_PATH")
			if err != nil {
				return nil, fmt.Errorf("%w: streamlink: %w", ErrBinaryNotFound, err)
			}
			path = found
		}
		return &processAdapter{binary: path, buildArgs: streamlinkArgs}, nil

	case KindNative:
		return &nativeAdapter{}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, cfg.Kind)
	}
}

// ffmpegArgs builds the argument list for an ffmpeg pull-and-mux-to-stdout
// invocation: read src.URL, remux without re-encoding, write FLV to
// stdout for the pipeline to demux.
func ffmpegArgs(src Source) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	for k, v := range src.Headers {
		args = append(args, "-headers", fmt.Sprintf("%s: %s\r\n", k, v))
	}
	args = append(args, "-i", src.URL, "-c", "copy", "-f", "flv", "pipe:1")
	return args
}

// streamlinkArgs builds the argument list for a streamlink pull-to-stdout
// invocation.
func streamlinkArgs(src Source) []string {
	return []string{"--stdout", src.URL, "best"}
}

// processAdapter wraps an external binary as an Adapter: stdout is
// piped directly, stderr is discarded (diagnostics belong to the
// collaborator wiring this process up, not to corerec).
type processAdapter struct {
	binary    string
	buildArgs func(Source) []string

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdout io.ReadCloser
}

func (p *processAdapter) Start(ctx context.Context, src Source) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cmd := exec.CommandContext(ctx, p.binary, p.buildArgs(src)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("engine: opening stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("engine: starting %s: %w", p.binary, err)
	}

	p.cmd = cmd
	p.stdout = stdout
	return nil
}

func (p *processAdapter) Stdout() io.ReadCloser {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stdout
}

func (p *processAdapter) Wait() error {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()

	if cmd == nil {
		return ErrNotRunning
	}
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("engine: %s exited: %w", p.binary, err)
	}
	return nil
}

func (p *processAdapter) Stop() error {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return ErrNotRunning
	}
	return cmd.Process.Kill()
}

// nativeAdapter is a no-op Adapter: the in-process HLSOrchestrator or
// FLVPipeline is the actual downloader, driven directly by the caller
// rather than through this interface.
type nativeAdapter struct{}

func (n *nativeAdapter) Start(ctx context.Context, src Source) error { return nil }
func (n *nativeAdapter) Stdout() io.ReadCloser                       { return nil }
func (n *nativeAdapter) Wait() error                                 { return ErrNotRunning }
func (n *nativeAdapter) Stop() error                                 { return nil }
