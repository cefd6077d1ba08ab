package servo

import (
	"math"
	"testing"
	"time"
)

func TestAngleToDuty_Endpoints(t *testing.T) {
	tests := []struct {
		angle float32
		want  uint32
	}{
		{angle: 0, want: 983},
		{angle: 90, want: 4095},
		{angle: 180, want: 7208},
	}
	for _, tt := range tests {
		got := AngleToDuty(tt.angle)
		if got != tt.want {
			t.Errorf("AngleToDuty(%v)=%d want %d", tt.angle, got, tt.want)
		}
	}
}

func TestAngleToDuty_MatchesPulseBounds(t *testing.T) {
	ticks := func(us uint32) uint32 {
		pulse := float32(us)
		return uint32(pulse * usToDuty)
	}
	if got, want := AngleToDuty(0), ticks(MinPulseWidthUS); got != want {
		t.Fatalf("AngleToDuty(0)=%d want %d", got, want)
	}
	if got, want := AngleToDuty(MaxAngle), ticks(MaxPulseWidthUS); got != want {
		t.Fatalf("AngleToDuty(MaxAngle)=%d want %d", got, want)
	}
}

func TestAngleToDuty_RangeAndMonotonic(t *testing.T) {
	lo := AngleToDuty(0)
	hi := AngleToDuty(MaxAngle)

	prev := lo
	for a := float32(0); a <= MaxAngle; a += 0.25 {
		d := AngleToDuty(a)
		if d < lo || d > hi {
			t.Fatalf("AngleToDuty(%v)=%d outside [%d, %d]", a, d, lo, hi)
		}
		if d < prev {
			t.Fatalf("AngleToDuty(%v)=%d decreased from %d", a, d, prev)
		}
		prev = d
	}
}

func TestAngleToDuty_Repeatable(t *testing.T) {
	for _, a := range []float32{0, 12.5, 45, 133.3, 180} {
		first := AngleToDuty(a)
		for i := 0; i < 10; i++ {
			if got := AngleToDuty(a); got != first {
				t.Fatalf("AngleToDuty(%v) call %d=%d want %d", a, i, got, first)
			}
		}
	}
}

func TestAngleToDuty_PanicsOutOfRange(t *testing.T) {
	for _, a := range []float32{-1, -0.001, 180.001, 181, float32(math.NaN()), float32(math.Inf(1))} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("AngleToDuty(%v) did not panic", a)
				}
			}()
			AngleToDuty(a)
		}()
	}
}

func TestPulseWidth(t *testing.T) {
	if got := PulseWidth(0); got != 300 {
		t.Errorf("PulseWidth(0)=%v want 300", got)
	}
	if got := PulseWidth(90); got != 1250 {
		t.Errorf("PulseWidth(90)=%v want 1250", got)
	}
	if got := PulseWidth(180); got != 2200 {
		t.Errorf("PulseWidth(180)=%v want 2200", got)
	}
}

func TestScaleToTop(t *testing.T) {
	tests := []struct {
		duty, top, want uint32
	}{
		{duty: 983, top: 65535, want: 983},
		{duty: 7208, top: 32767, want: 3603},
		{duty: 0, top: 1000, want: 0},
		{duty: 65535, top: 1000, want: 1000},
		{duty: 70000, top: 1000, want: 1000},
	}
	for _, tt := range tests {
		if got := ScaleToTop(tt.duty, tt.top); got != tt.want {
			t.Errorf("ScaleToTop(%d, %d)=%d want %d", tt.duty, tt.top, got, tt.want)
		}
	}
}

func TestPeriod(t *testing.T) {
	if got := Period(); got != 20*time.Millisecond {
		t.Fatalf("Period()=%v want 20ms", got)
	}
}
