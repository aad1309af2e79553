package valuecodec

import (
	"errors"
	"testing"

	"github.com/wirenboard/wb-mqtt-smartweb/internal/errkind"
)

func TestIntDivisorRoundTrip(t *testing.T) {
	c := IntDivisor{Width: 2, Signed: true, Divisor: 10}
	for _, v := range []int16{0, 1, -1, 234, -234, 32767, -32000} {
		enc := encodeLE(int64(v), 2)
		s, err := c.Decode(enc)
		if err != nil {
			t.Fatal(err)
		}
		back, err := c.Encode(s)
		if err != nil {
			t.Fatal(err)
		}
		if string(back) != string(enc) {
			t.Fatalf("round trip mismatch for %d: decoded %q re-encoded to %v, want %v", v, s, back, enc)
		}
	}
}

func TestScenarioB_SensorDecode(t *testing.T) {
	// 234 raw -> "23.4"
	s, err := IntDivisor{Width: 2, Signed: true, Divisor: 10}.Decode([]byte{0xEA, 0x00})
	if err != nil {
		t.Fatal(err)
	}
	if s != "23.4" {
		t.Fatalf("decode = %q, want 23.4", s)
	}
}

func TestScenarioD_WriteEncode(t *testing.T) {
	// "11.1" -> 111 (0x6F 0x00)
	b, err := IntDivisor{Width: 2, Signed: true, Divisor: 10}.Encode("11.1")
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 2 || b[0] != 0x6F || b[1] != 0x00 {
		t.Fatalf("encode = %v, want [0x6F 0x00]", b)
	}
}

func TestSensorSentinels(t *testing.T) {
	s := Sensor{}
	for _, raw := range []int16{-32768, -32767, -32766} {
		_, err := s.Decode(encodeLE(int64(raw), 2))
		if errkind.Of(err) != errkind.SensorError {
			t.Fatalf("raw %d: expected sensor error, got %v", raw, err)
		}
	}
	val, err := s.Decode(encodeLE(100, 2))
	if err != nil || val != "10" {
		t.Fatalf("decode(100) = %q, %v", val, err)
	}
}

func TestOnOffSensor(t *testing.T) {
	c := OnOffSensor{}
	short, err := c.Decode(encodeLE(-32768, 2))
	if err != nil || short != "1" {
		t.Fatalf("short: %q %v", short, err)
	}
	open, err := c.Decode(encodeLE(-32767, 2))
	if err != nil || open != "0" {
		t.Fatalf("open: %q %v", open, err)
	}
	_, err = c.Decode(encodeLE(-32766, 2))
	if errkind.Of(err) != errkind.SensorError {
		t.Fatalf("undefined should raise sensor error, got %v", err)
	}
	pass, err := c.Decode(encodeLE(5, 2))
	if err != nil || pass != "5" {
		t.Fatalf("pass-through: %q %v", pass, err)
	}
}

func TestEnumDecodeEncode(t *testing.T) {
	e := Enum{Values: map[uint8]string{0: "off", 1: "on"}}
	s, err := e.Decode([]byte{1})
	if err != nil || s != "on" {
		t.Fatalf("decode = %q, %v", s, err)
	}
	unmapped, err := e.Decode([]byte{7})
	if err != nil || unmapped != "7" {
		t.Fatalf("unmapped decode = %q, %v", unmapped, err)
	}
	b, err := e.Encode("off")
	if err != nil || b[0] != 0 {
		t.Fatalf("encode off: %v %v", b, err)
	}
	if _, err := e.Encode("bogus"); !errors.Is(err, errkind.UnknownValue) && errkind.Of(err) != errkind.UnknownValue {
		t.Fatalf("expected unknown-value error")
	}
}

func TestPWMDecode(t *testing.T) {
	p := PWM{}
	full, _ := p.Decode([]byte{255})
	if full != "100" {
		t.Fatalf("255 -> %q, want 100", full)
	}
	half, _ := p.Decode([]byte{127})
	if half == "" {
		t.Fatal("expected non-empty decode")
	}
	if _, err := p.Encode("50"); errkind.Of(err) != errkind.Unsupported {
		t.Fatalf("expected unsupported encode, got %v", err)
	}
}

func TestOutputDecode(t *testing.T) {
	o := Output{}
	zero, _ := o.Decode([]byte{0})
	one, _ := o.Decode([]byte{5})
	if zero != "0" || one != "1" {
		t.Fatalf("zero=%q one=%q", zero, one)
	}
}
