package tscodec

import (
	"fmt"
	"log/slog"
)

// lockState tracks the demuxer's knowledge of the on-wire packet size.
type lockState int

const (
	lockUnknown lockState = iota
	lockLocked
)

// Demuxer consumes a byte stream incrementally and emits parsed Packets.
// It auto-detects the 188/192/204-byte packet size variant on the first
// packets seen and then locks onto it; if sync is subsequently lost (a
// byte at the expected sync position isn't 0x47) it performs a bounded
// resync scan rather than assuming the stream has permanently changed
// shape, matching how a long HLS/TS capture tolerates the occasional
// corrupted segment without losing the whole session.
type Demuxer struct {
	Logger         *slog.Logger
	ContinuityMode ContinuityMode

	// OnDiscontinuity, if set, is called when ContinuityMode is
	// ContinuityWarn and a PID's continuity_counter skips unexpectedly.
	OnDiscontinuity func(pid uint16, expected, got uint8)

	state      lockState
	packetSize int
	buf        []byte
	lastCC     map[uint16]uint8
}

// NewDemuxer constructs a Demuxer with strict continuity checking off by
// default (ContinuityWarn) and slog.Default() as its logger.
func NewDemuxer() *Demuxer {
	return &Demuxer{
		Logger:         slog.Default(),
		ContinuityMode: ContinuityWarn,
		lastCC:         make(map[uint16]uint8),
	}
}

// Feed appends newly-read bytes to the demuxer's internal buffer and
// returns every complete Packet it can extract. Partial trailing bytes
// are retained for the next call.
func (d *Demuxer) Feed(data []byte) ([]*Packet, error) {
	d.buf = append(d.buf, data...)

	if d.state == lockUnknown {
		if !d.detectPacketSize() {
			return nil, nil // not enough data yet, or no variant confirmed
		}
	}

	var out []*Packet
	for {
		pkt188, _, needMore, lost := d.extractOne()
		if needMore {
			break
		}
		if lost {
			// The scanned window has already been discarded by resync,
			// so the next Feed call makes progress on whatever follows
			// instead of rescanning the same stuck bytes forever.
			return out, ErrUnexpectedSyncLoss
		}
		if pkt188 == nil {
			// resync consumed bytes without producing a packet
			continue
		}
		p, err := ParsePacket(pkt188)
		if err != nil {
			return out, err
		}
		if err := d.checkContinuity(p); err != nil {
			return out, err
		}
		out = append(out, p)
	}
	return out, nil
}

// detectPacketSize looks for two consecutive sync bytes spaced n apart
// for each candidate size, which is enough to confirm the variant
// without waiting for a long run. It returns false if none of the
// candidates can yet be confirmed from the buffered data.
func (d *Demuxer) detectPacketSize() bool {
	for _, size := range candidateSizes {
		offset := 0
		if size == PacketSize192 {
			offset = 4
		}
		if len(d.buf) < size*2 {
			continue
		}
		if d.buf[offset] == syncByte && d.buf[size+offset] == syncByte {
			d.state = lockLocked
			d.packetSize = size
			d.Logger.Debug("tscodec: packet size locked", slog.Int("size", size))
			return true
		}
	}
	return false
}

// extractOne removes and returns one 188-byte logical packet (stripping
// any 192-byte timestamp prefix or 204-byte FEC trailer) from the front
// of the buffer. needMore is true when more data must be buffered before
// a decision can be made. lost is true when a bounded resync scan gave
// up without finding a new sync point; the scanned window has already
// been discarded from the buffer in that case, so the caller can make
// progress on the next call instead of rescanning the same bytes.
func (d *Demuxer) extractOne() (pkt188 []byte, consumed int, needMore bool, lost bool) {
	n := d.packetSize
	if len(d.buf) < n {
		return nil, 0, true, false
	}

	offset := 0
	if n == PacketSize192 {
		offset = 4
	}

	if d.buf[offset] != syncByte {
		return d.resync()
	}

	logical := d.buf[offset : offset+PacketSize188]
	cp := make([]byte, PacketSize188)
	copy(cp, logical)
	d.buf = d.buf[n:]
	return cp, n, false, false
}

// resync scans forward for a re-established sync byte at the expected
// stride, bounded to 2*packetSize bytes of search per spec. If none is
// found within that window it discards the scanned window from the
// buffer and reports lost=true, so the demuxer can keep making progress
// on whatever data follows instead of getting stuck rescanning the same
// corrupted run forever.
func (d *Demuxer) resync() (pkt188 []byte, consumed int, needMore bool, lost bool) {
	n := d.packetSize
	offset := 0
	if n == PacketSize192 {
		offset = 4
	}
	maxScan := 2 * n
	if maxScan > len(d.buf) {
		maxScan = len(d.buf)
	}

	for i := 1; i+offset < maxScan && i+n <= len(d.buf); i++ {
		if d.buf[i+offset] == syncByte {
			d.buf = d.buf[i:]
			d.Logger.Warn("tscodec: resynced after sync loss", slog.Int("skipped_bytes", i))
			return nil, i, false, false
		}
	}

	if len(d.buf) < maxScan+n {
		// Not enough data yet to conclude resync failed.
		return nil, 0, true, false
	}

	d.buf = d.buf[maxScan:]
	d.Logger.Warn("tscodec: sync loss resync window exhausted", slog.Int("skipped_bytes", maxScan))
	return nil, maxScan, false, true
}

func (d *Demuxer) checkContinuity(p *Packet) error {
	if d.ContinuityMode == ContinuityOff || !p.HasPayload {
		return nil
	}
	if p.PID == PIDNull {
		return nil
	}

	last, seen := d.lastCC[p.PID]
	d.lastCC[p.PID] = p.ContinuityCounter
	if !seen {
		return nil
	}

	expected := (last + 1) & 0x0F
	if p.ContinuityCounter == expected {
		return nil
	}
	// A duplicate packet (same CC, no discontinuity_indicator) is valid
	// per spec and not itself an error.
	if p.ContinuityCounter == last {
		return nil
	}

	switch d.ContinuityMode {
	case ContinuityStrict:
		return fmt.Errorf("tscodec: continuity discontinuity on pid %d: expected %d got %d", p.PID, expected, p.ContinuityCounter)
	case ContinuityWarn:
		if d.OnDiscontinuity != nil {
			d.OnDiscontinuity(p.PID, expected, p.ContinuityCounter)
		}
	}
	return nil
}

// Reset clears all demuxer state, including the packet-size lock and
// continuity tracking, as if newly constructed.
func (d *Demuxer) Reset() {
	d.state = lockUnknown
	d.packetSize = 0
	d.buf = nil
	d.lastCC = make(map[uint16]uint8)
}
