// Package sweep blinks a status LED and swings a servo between two angles.
package sweep

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/harveysanders/picoservo/servosweep/servo"
)

const DefaultInterval = 2000 * time.Millisecond

// Output is a GPIO output pin. machine.Pin satisfies it.
type Output interface {
	High()
	Low()
}

// PWM is a configured PWM slice. TinyGo's machine.PWMx values satisfy it,
// which keeps this package free of the unexported machine.pwmGroup type.
type PWM interface {
	Top() uint32
	Set(channel uint8, value uint32)
}

// Reading is a snapshot of the commanded state after a move.
type Reading struct {
	Step      uint32
	Angle     float32
	Duty      uint32 // In servo.TimerResolution ticks.
	PulseUS   float32
	LED       bool
	SinceBoot time.Duration
}

type Config struct {
	LED     Output
	PWM     PWM
	Channel uint8

	// Home is the angle the servo starts at. Far is the angle it swings to.
	Home float32
	Far  float32
	// Interval between moves. Zero means DefaultInterval.
	Interval time.Duration

	Logger *slog.Logger
	// OnStep is called after every move. It must not block.
	OnStep func(Reading)
	// Sleep blocks for the interval. Defaults to time.Sleep.
	Sleep func(time.Duration)
}

// DefaultConfig sweeps between 0 and 180 degrees every two seconds.
func DefaultConfig(led Output, pwm PWM, channel uint8) Config {
	return Config{
		LED:      led,
		PWM:      pwm,
		Channel:  channel,
		Home:     0,
		Far:      servo.MaxAngle,
		Interval: DefaultInterval,
	}
}

type Sweeper struct {
	led      Output
	pwm      PWM
	ch       uint8
	angles   [2]float32
	interval time.Duration
	log      *slog.Logger
	onStep   func(Reading)
	sleep    func(time.Duration)

	start time.Time
	far   bool
	ledOn bool
	step  uint32
}

func New(cfg Config) (*Sweeper, error) {
	if cfg.LED == nil {
		return nil, errors.New("sweep: nil LED output")
	}
	if cfg.PWM == nil {
		return nil, errors.New("sweep: nil PWM")
	}
	if !servo.ValidAngle(cfg.Home) || !servo.ValidAngle(cfg.Far) {
		return nil, errors.New("sweep: angle outside servo range")
	}
	if cfg.Interval < 0 {
		return nil, errors.New("sweep: negative interval")
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Sweeper{
		led:      cfg.LED,
		pwm:      cfg.PWM,
		ch:       cfg.Channel,
		angles:   [2]float32{cfg.Home, cfg.Far},
		interval: cfg.Interval,
		log:      logger,
		onStep:   cfg.OnStep,
		sleep:    cfg.Sleep,
		start:    time.Now(),
	}, nil
}

// Angle returns the currently commanded angle.
func (s *Sweeper) Angle() float32 {
	if s.far {
		return s.angles[1]
	}
	return s.angles[0]
}

// LED reports whether the status LED is on.
func (s *Sweeper) LED() bool { return s.ledOn }

// Home drives the servo to the home angle with the LED off.
func (s *Sweeper) Home() Reading {
	s.far = false
	s.setLED(false)
	return s.move()
}

// Step toggles the LED, waits one interval, then moves the servo to the
// other angle.
func (s *Sweeper) Step() Reading {
	s.setLED(!s.ledOn)
	s.sleep(s.interval)
	s.far = !s.far
	s.step++
	return s.move()
}

// Run homes the servo and sweeps forever.
func (s *Sweeper) Run() {
	s.Home()
	for {
		s.Step()
	}
}

func (s *Sweeper) setLED(on bool) {
	if on {
		s.led.High()
	} else {
		s.led.Low()
	}
	s.ledOn = on
}

func (s *Sweeper) move() Reading {
	angle := s.Angle()
	duty := servo.AngleToDuty(angle)
	s.pwm.Set(s.ch, servo.ScaleToTop(duty, s.pwm.Top()))

	r := Reading{
		Step:      s.step,
		Angle:     angle,
		Duty:      duty,
		PulseUS:   servo.PulseWidth(angle),
		LED:       s.ledOn,
		SinceBoot: time.Since(s.start),
	}
	s.log.Debug("sweep:move",
		slog.Uint64("step", uint64(r.Step)),
		slog.Float64("angle", float64(r.Angle)),
		slog.Uint64("duty", uint64(r.Duty)),
		slog.Bool("led", r.LED),
	)
	if s.onStep != nil {
		s.onStep(r)
	}
	return r
}
