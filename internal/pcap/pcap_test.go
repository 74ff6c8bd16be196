package pcap

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"
)

func TestWriterProducesExpectedStream(t *testing.T) {
	var buf bytes.Buffer

	const snapLen = 512
	w, err := NewWriter(&buf, snapLen, LinkTypeEthernet)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	ts := time.Unix(1_700_000_000, 250_000_000)
	frame := []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee}
	if err := w.WriteFrame(ts, frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	got := buf.Bytes()
	if want := 24 + 16 + len(frame); len(got) != want {
		t.Fatalf("expected %d bytes, got %d", want, len(got))
	}

	global := got[:24]
	if magic := binary.LittleEndian.Uint32(global[0:4]); magic != 0xa1b2c3d4 {
		t.Fatalf("unexpected magic %#x", magic)
	}
	if snap := binary.LittleEndian.Uint32(global[16:20]); snap != snapLen {
		t.Fatalf("unexpected snaplen %d", snap)
	}
	if link := binary.LittleEndian.Uint32(global[20:24]); link != LinkTypeEthernet {
		t.Fatalf("unexpected linktype %d", link)
	}

	record := got[24 : 24+16]
	if sec := binary.LittleEndian.Uint32(record[0:4]); sec != uint32(ts.Unix()) {
		t.Fatalf("unexpected timestamp seconds %d", sec)
	}
	if usec := binary.LittleEndian.Uint32(record[4:8]); usec != uint32(ts.Nanosecond()/1_000) {
		t.Fatalf("unexpected timestamp microseconds %d", usec)
	}
	if capLen := binary.LittleEndian.Uint32(record[8:12]); capLen != uint32(len(frame)) {
		t.Fatalf("unexpected caplen %d", capLen)
	}

	if !bytes.Equal(got[24+16:], frame) {
		t.Fatalf("frame mismatch: got %x, want %x", got[24+16:], frame)
	}
}

func TestWriteFrameHonorsSnapLength(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, 4, LinkTypeEthernet)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	err = w.WriteFrame(time.Now(), []byte{1, 2, 3, 4, 5})
	if !errors.Is(err, ErrFrameTruncated) {
		t.Fatalf("expected ErrFrameTruncated, got %v", err)
	}
	if buf.Len() != 24 {
		t.Fatalf("rejected frame still wrote %d bytes past the header", buf.Len()-24)
	}
}

func TestZeroTimestamp(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, 0, LinkTypeEthernet)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if err := w.WriteFrame(time.Time{}, []byte{0x01}); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	record := buf.Bytes()[24:]
	if sec := binary.LittleEndian.Uint32(record[0:4]); sec != 0 {
		t.Fatalf("expected zero seconds for zero timestamp, got %d", sec)
	}
}
