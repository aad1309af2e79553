//go:build linux

package busport

import (
	"testing"

	"github.com/wirenboard/wb-mqtt-smartweb/internal/canframe"
)

func TestWireFrameRoundTrip(t *testing.T) {
	f, err := canframe.New(canframe.DecodeID(0x000A0B0B), []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	wire := encodeWireFrame(f)
	if len(wire) != canFrameSize {
		t.Fatalf("encodeWireFrame length = %d, want %d", len(wire), canFrameSize)
	}

	got, err := decodeWireFrame(wire)
	if err != nil {
		t.Fatalf("decodeWireFrame: %v", err)
	}
	if got.ID != f.ID || got.Length != f.Length || got.Data != f.Data {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, f)
	}
}

func TestEncodeWireFrameSetsExtendedFlag(t *testing.T) {
	f, err := canframe.New(canframe.DecodeID(0x000A0B0B), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	wire := encodeWireFrame(f)
	id := uint32(wire[0]) | uint32(wire[1])<<8 | uint32(wire[2])<<16 | uint32(wire[3])<<24
	if id&canEFFFlag == 0 {
		t.Fatal("encoded identifier missing CAN_EFF_FLAG")
	}
}

func TestDecodeWireFrameRejectsShortBuffer(t *testing.T) {
	if _, err := decodeWireFrame(make([]byte, 4)); err == nil {
		t.Fatal("expected error for short buffer")
	}
}
