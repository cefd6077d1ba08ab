// Package lcd shows sweep status on a 16x2 HD44780 display behind an I2C
// backpack.
//
// Messages are queued on a channel and drawn by a Handler running in its
// own goroutine, so the servo loop never waits on the I2C bus:
//
//	messages := make(chan lcd.Message, 4)
//	go lcd.NewHandler(device, messages, logger).Run()
//	lcd.Send(messages, "Booting", "")
package lcd

import (
	"errors"
	"io"
	"log/slog"
	"strconv"

	"github.com/harveysanders/picoservo/servosweep/sweep"
	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/hd44780i2c"
)

const (
	columns = 16
	rows    = 2
)

// Common PCF8574 backpack addresses.
var DefaultAddrs = []uint8{0x27, 0x3F}

// Message is one screen worth of text.
type Message struct {
	Line1 []byte
	Line2 []byte
}

// Handler draws messages from a channel.
type Handler struct {
	device   hd44780i2c.Device
	messages <-chan Message
	logger   *slog.Logger
}

func NewHandler(device hd44780i2c.Device, messages <-chan Message, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = discardLogger()
	}
	return &Handler{
		device:   device,
		messages: messages,
		logger:   logger,
	}
}

// Run draws messages until the channel is closed.
func (h *Handler) Run() {
	for msg := range h.messages {
		h.display(msg)
	}
	h.logger.Info("lcd:handler stopped")
}

func (h *Handler) display(msg Message) {
	h.device.ClearDisplay()
	h.device.SetCursor(0, 0)
	h.device.Print(truncate(msg.Line1))
	h.device.SetCursor(0, 1)
	h.device.Print(truncate(msg.Line2))
}

// Probe returns a configured display at the first of addrs that answers a
// one byte read, trying DefaultAddrs when none are given.
func Probe(bus drivers.I2C, logger *slog.Logger, addrs ...uint8) (hd44780i2c.Device, error) {
	if logger == nil {
		logger = discardLogger()
	}
	if len(addrs) == 0 {
		addrs = DefaultAddrs
	}
	var probe [1]byte
	for _, a := range addrs {
		logger.Info("lcd:checking I2C address", slog.Uint64("addr", uint64(a)))
		if err := bus.Tx(uint16(a), nil, probe[:]); err != nil {
			continue
		}
		dev := hd44780i2c.New(bus, a)
		err := dev.Configure(hd44780i2c.Config{
			Width:  columns,
			Height: rows,
		})
		if err != nil {
			return hd44780i2c.Device{}, errors.New("lcd configure:" + err.Error())
		}
		return dev, nil
	}
	return hd44780i2c.Device{}, errors.New("lcd: no display found")
}

// Send queues a message without blocking. It reports false when the
// handler is behind and the message was dropped.
func Send(messages chan<- Message, line1, line2 string) bool {
	return SendMessage(messages, Message{Line1: []byte(line1), Line2: []byte(line2)})
}

// SendMessage is Send for a prepared Message.
func SendMessage(messages chan<- Message, msg Message) bool {
	if messages == nil {
		return false
	}
	select {
	case messages <- msg:
		return true
	default:
		return false
	}
}

// ReadingMessage formats r as
//
//	A:180.0 LED:on
//	D:7208 P:2200us
func ReadingMessage(r sweep.Reading) Message {
	line1 := make([]byte, 0, columns)
	line1 = append(line1, "A:"...)
	line1 = strconv.AppendFloat(line1, float64(r.Angle), 'f', 1, 32)
	if r.LED {
		line1 = append(line1, " LED:on"...)
	} else {
		line1 = append(line1, " LED:off"...)
	}

	line2 := make([]byte, 0, columns)
	line2 = append(line2, "D:"...)
	line2 = strconv.AppendUint(line2, uint64(r.Duty), 10)
	line2 = append(line2, " P:"...)
	line2 = strconv.AppendUint(line2, uint64(r.PulseUS), 10)
	line2 = append(line2, "us"...)
	return Message{Line1: line1, Line2: line2}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func truncate(line []byte) []byte {
	if len(line) > columns {
		return line[:columns]
	}
	return line
}
