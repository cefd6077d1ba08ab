// Package servo converts commanded hobby servo angles into PWM duty values.
//
// The duty values are expressed in ticks of a 16-bit counter running at a
// 50Hz (20ms) period. Hardware whose counter wraps at a different top value
// should rescale with ScaleToTop before writing the duty.
package servo

import "time"

const (
	MinPulseWidthUS uint32  = 300  // Pulse width at 0 degrees.
	MaxPulseWidthUS uint32  = 2200 // Pulse width at MaxAngle.
	MaxAngle        float32 = 180.0
	PWMFrequency    uint32  = 50    // Hz. One period is 20ms.
	TimerResolution uint32  = 65535 // Counter ticks per period.
)

// usToDuty is the number of counter ticks per microsecond of the period.
const usToDuty = float32(TimerResolution) / (1000.0 / float32(PWMFrequency) * 1000.0)

// Period returns the PWM period servos expect.
func Period() time.Duration {
	return time.Second / time.Duration(PWMFrequency)
}

// ValidAngle reports whether angle can be passed to AngleToDuty.
func ValidAngle(angle float32) bool {
	return angle >= 0 && angle <= MaxAngle
}

// PulseWidth returns the pulse width in microseconds for angle.
// It panics if angle is outside [0, MaxAngle].
func PulseWidth(angle float32) float32 {
	if !ValidAngle(angle) {
		panic("servo: angle out of range")
	}
	pulse := angle/MaxAngle*float32(MaxPulseWidthUS-MinPulseWidthUS) + float32(MinPulseWidthUS)
	// Guards rounding at the ends of the range.
	return min(max(pulse, float32(MinPulseWidthUS)), float32(MaxPulseWidthUS))
}

// AngleToDuty returns the duty value, in TimerResolution ticks, that drives
// the servo to angle. It panics if angle is outside [0, MaxAngle]; callers
// are expected to never ask for an angle the servo cannot reach.
func AngleToDuty(angle float32) uint32 {
	return uint32(PulseWidth(angle) * usToDuty)
}

// ScaleToTop rescales a duty value expressed in TimerResolution ticks to a
// counter that wraps at top.
func ScaleToTop(duty, top uint32) uint32 {
	if duty >= TimerResolution {
		return top
	}
	return uint32(uint64(duty) * uint64(top) / uint64(TimerResolution))
}
