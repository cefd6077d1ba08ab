//go:build tinygo

package main

import (
	"errors"
	"log/slog"
	"machine"
	"time"

	"github.com/harveysanders/picoservo/servosweep/cyw43439"
	"github.com/harveysanders/picoservo/servosweep/lcd"
	"github.com/harveysanders/picoservo/servosweep/mqtt"
	"github.com/harveysanders/picoservo/servosweep/servo"
	"github.com/harveysanders/picoservo/servosweep/sweep"
)

const (
	ledPin   = machine.GP15
	servoPin = machine.GP22 // PWM slice 3, channel A.
	hostname = "picoservo"
)

var servoPWM = machine.PWM3

func main() {
	logger := slog.New(slog.NewTextHandler(machine.Serial, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if err := run(logger); err != nil {
		printErrForever(logger, "startup failed", slog.Any("reason", err))
	}
}

// run configures the peripherals and sweeps forever. It only returns if
// the LED or servo cannot be set up.
func run(logger *slog.Logger) error {
	ledPin.Configure(machine.PinConfig{Mode: machine.PinOutput})

	err := servoPWM.Configure(machine.PWMConfig{
		Period: uint64(servo.Period()),
	})
	if err != nil {
		return errors.New("configure PWM:" + err.Error())
	}
	ch, err := servoPWM.Channel(servoPin)
	if err != nil {
		return errors.New("PWM channel for servo pin:" + err.Error())
	}
	logger.Info("pwm:configured", slog.Uint64("top", uint64(servoPWM.Top())), slog.Duration("period", servo.Period()))

	status := startDisplay(logger)
	readings := startTelemetry(logger, status)

	cfg := sweep.DefaultConfig(ledPin, servoPWM, ch)
	cfg.Logger = logger
	cfg.OnStep = func(r sweep.Reading) {
		lcd.SendMessage(status, lcd.ReadingMessage(r))
		if readings != nil {
			select {
			case readings <- r:
			default:
			}
		}
	}
	s, err := sweep.New(cfg)
	if err != nil {
		return errors.New("sweep config:" + err.Error())
	}
	s.Run()
	return nil
}

// startDisplay returns a channel drawn on the LCD, or nil without one.
func startDisplay(logger *slog.Logger) chan<- lcd.Message {
	err := machine.I2C0.Configure(machine.I2CConfig{
		SDA: machine.GP4,
		SCL: machine.GP5,
	})
	if err != nil {
		logger.Warn("lcd:configure I2C", slog.Any("reason", err))
		return nil
	}
	dev, err := lcd.Probe(machine.I2C0, logger)
	if err != nil {
		logger.Warn("lcd:disabled", slog.Any("reason", err))
		return nil
	}
	messages := make(chan lcd.Message, 4)
	go lcd.NewHandler(dev, messages, logger).Run()
	lcd.Send(messages, "picoservo", "starting")
	return messages
}

// startTelemetry joins WiFi and publishes readings when the build carries
// credentials. It returns nil otherwise.
func startTelemetry(logger *slog.Logger, status chan<- lcd.Message) chan<- sweep.Reading {
	if !cyw43439.Enabled() {
		logger.Info("mqtt:disabled, no WiFi credentials")
		return nil
	}
	readings := make(chan sweep.Reading, 10)
	go func() {
		stack, err := cyw43439.NewStack(cyw43439.SSID(), cyw43439.Password(), cyw43439.StackConfig{
			Hostname:    hostname,
			MaxTCPPorts: 1,
			Logger:      logger,
		})
		if err != nil {
			logger.Error("wifi:setup", slog.Any("reason", err))
			return
		}
		go stack.PollForever()

		if _, err = stack.DHCP(cyw43439.DHCPConfig{}); err != nil {
			logger.Error("wifi:dhcp", slog.Any("reason", err))
			return
		}

		c := mqtt.Client{
			ID:                hostname,
			Logger:            logger,
			Timeout:           5 * time.Second,
			TCPBufSize:        2030, // MTU - ethhdr - iphdr - tcphdr
			HeartbeatInterval: 30 * time.Second,
		}
		err = c.ConnectAndPublish(stack.Lneto(), cyw43439.Broker(), readings, status)
		if err != nil {
			logger.Error("mqtt:stopped", slog.Any("reason", err))
		}
	}()
	return readings
}

// printErrForever logs msg once a second so it reaches a serial monitor
// attached after boot. It never returns.
func printErrForever(logger *slog.Logger, msg string, args ...any) {
	for {
		logger.Error(msg, args...)
		time.Sleep(time.Second)
	}
}
