package lcd

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/harveysanders/picoservo/servosweep/sweep"
	"tinygo.org/x/drivers/hd44780i2c"
)

func TestReadingMessage(t *testing.T) {
	tests := []struct {
		r            sweep.Reading
		line1, line2 string
	}{
		{
			r:     sweep.Reading{Angle: 180, Duty: 7208, PulseUS: 2200, LED: true},
			line1: "A:180.0 LED:on",
			line2: "D:7208 P:2200us",
		},
		{
			r:     sweep.Reading{Angle: 0, Duty: 983, PulseUS: 300},
			line1: "A:0.0 LED:off",
			line2: "D:983 P:300us",
		},
	}
	for _, tt := range tests {
		msg := ReadingMessage(tt.r)
		if string(msg.Line1) != tt.line1 || string(msg.Line2) != tt.line2 {
			t.Errorf("ReadingMessage(%+v)=%q/%q want %q/%q", tt.r, msg.Line1, msg.Line2, tt.line1, tt.line2)
		}
		if len(msg.Line1) > columns || len(msg.Line2) > columns {
			t.Errorf("message wider than %d columns: %q/%q", columns, msg.Line1, msg.Line2)
		}
	}
}

func TestSend_DropsWhenFull(t *testing.T) {
	messages := make(chan Message, 1)
	if !Send(messages, "first", "") {
		t.Fatal("first send dropped")
	}
	if Send(messages, "second", "") {
		t.Fatal("second send should drop on a full channel")
	}
	if got := <-messages; string(got.Line1) != "first" {
		t.Fatalf("got %q want first", got.Line1)
	}
	if Send(nil, "x", "y") {
		t.Fatal("send on nil channel reported success")
	}
}

func TestTruncate(t *testing.T) {
	long := []byte("0123456789abcdefXYZ")
	if got := truncate(long); string(got) != "0123456789abcdef" {
		t.Fatalf("truncate=%q", got)
	}
	if got := truncate([]byte("short")); string(got) != "short" {
		t.Fatalf("truncate=%q", got)
	}
}

type fakeBus struct {
	present map[uint16]bool
	writes  map[uint16]int
}

func (b *fakeBus) Tx(addr uint16, w, r []byte) error {
	if !b.present[addr] {
		return errors.New("nack")
	}
	if len(w) > 0 {
		b.writes[addr]++
	}
	return nil
}

func TestProbe(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	bus := &fakeBus{present: map[uint16]bool{0x3F: true}, writes: map[uint16]int{}}
	if _, err := Probe(bus, logger); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if bus.writes[0x3F] == 0 {
		t.Fatal("display at 0x3F was not configured")
	}
	if bus.writes[0x27] != 0 {
		t.Fatal("absent address 0x27 was written")
	}

	empty := &fakeBus{present: map[uint16]bool{}, writes: map[uint16]int{}}
	if _, err := Probe(empty, logger); err == nil {
		t.Fatal("Probe on empty bus returned nil error")
	}
}

func TestProbe_NilLogger(t *testing.T) {
	bus := &fakeBus{present: map[uint16]bool{0x27: true}, writes: map[uint16]int{}}
	if _, err := Probe(bus, nil); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if h := NewHandler(hd44780i2c.Device{}, nil, nil); h.logger == nil {
		t.Fatal("NewHandler kept a nil logger")
	}
}
