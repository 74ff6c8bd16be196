// Package pcap writes classic libpcap capture files.
//
// The stack uses a Writer as an optional tap on the frame dispatch path:
// every frame accepted by Output and every frame handed to Inbound is
// recorded. Frames on this stack carry no link-layer header of their own, so
// the tap synthesizes one (see internal/stack).
package pcap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"
)

// LinkTypeEthernet is the libpcap DLT identifier for Ethernet frames.
const LinkTypeEthernet uint32 = 1

// ErrFrameTruncated indicates a frame longer than the snap length configured
// at construction.
var ErrFrameTruncated = errors.New("pcap: frame exceeds snap length")

// Writer emits a libpcap-formatted stream. Methods are safe for concurrent
// use; frames from caller goroutines and the dispatch goroutine interleave
// whole-record.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	snapLen uint32
}

// NewWriter writes the 24-byte global header for the given link type and
// returns a Writer appending records to out.
func NewWriter(out io.Writer, snapLen uint32, linkType uint32) (*Writer, error) {
	var hdr [24]byte
	binary.LittleEndian.PutUint32(hdr[0:4], 0xa1b2c3d4)
	binary.LittleEndian.PutUint16(hdr[4:6], 2) // major version
	binary.LittleEndian.PutUint16(hdr[6:8], 4) // minor version
	binary.LittleEndian.PutUint32(hdr[8:12], 0)
	binary.LittleEndian.PutUint32(hdr[12:16], 0)
	binary.LittleEndian.PutUint32(hdr[16:20], snapLen)
	binary.LittleEndian.PutUint32(hdr[20:24], linkType)
	if _, err := out.Write(hdr[:]); err != nil {
		return nil, fmt.Errorf("pcap: write file header: %w", err)
	}
	return &Writer{w: out, snapLen: snapLen}, nil
}

// WriteFrame appends one capture record. ts is truncated to microsecond
// resolution; a zero ts stands for "time unknown".
func (w *Writer) WriteFrame(ts time.Time, frame []byte) error {
	if len(frame) > math.MaxUint32 {
		return fmt.Errorf("pcap: frame length %d overflows record header", len(frame))
	}
	if w.snapLen != 0 && uint32(len(frame)) > w.snapLen {
		return fmt.Errorf("%w: len=%d, snaplen=%d", ErrFrameTruncated, len(frame), w.snapLen)
	}

	var tsSec, tsUsec uint32
	if !ts.IsZero() {
		sec := ts.Unix()
		if sec < 0 || sec > math.MaxUint32 {
			return fmt.Errorf("pcap: timestamp seconds %d out of range", sec)
		}
		tsSec = uint32(sec)
		tsUsec = uint32(ts.Nanosecond() / 1_000)
	}

	var rec [16]byte
	binary.LittleEndian.PutUint32(rec[0:4], tsSec)
	binary.LittleEndian.PutUint32(rec[4:8], tsUsec)
	binary.LittleEndian.PutUint32(rec[8:12], uint32(len(frame)))
	binary.LittleEndian.PutUint32(rec[12:16], uint32(len(frame)))

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(rec[:]); err != nil {
		return fmt.Errorf("pcap: write record header: %w", err)
	}
	if len(frame) == 0 {
		return nil
	}
	if _, err := w.w.Write(frame); err != nil {
		return fmt.Errorf("pcap: write frame: %w", err)
	}
	return nil
}
