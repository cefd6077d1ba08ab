//go:build tinygo

// Package cyw43439 brings up WiFi on the Pico W's CYW43439 radio and exposes
// an lneto network stack for the telemetry publisher.
//
// Credentials and the broker address are compiled in with linker flags:
//
//	tinygo flash -target=pico-w \
//	  -ldflags="-X github.com/harveysanders/picoservo/servosweep/cyw43439.ssid=home \
//	            -X github.com/harveysanders/picoservo/servosweep/cyw43439.pass=secret \
//	            -X github.com/harveysanders/picoservo/servosweep/cyw43439.broker=10.0.0.9:1883" \
//	  ./servosweep
//
// Adapted from the examples in the soypat/cyw43439 repository:
// https://github.com/soypat/cyw43439/tree/main/examples/common
//
// Original author: Patricio Whittingslow (soypat)
package cyw43439

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/soypat/cyw43439"
	"github.com/soypat/lneto/x/xnet"
)

const mtu = cyw43439.MTU

var (
	ssid   string
	pass   string
	broker string
)

// SSID returns the network name set at link time. Empty disables WiFi.
func SSID() string { return ssid }

// Password returns the network password set at link time.
func Password() string { return pass }

// Broker returns the MQTT broker "host:port" set at link time.
func Broker() string { return broker }

// Enabled reports whether the firmware was built with WiFi credentials.
func Enabled() bool { return ssid != "" && broker != "" }

type StackConfig struct {
	Hostname    string // Sent with DHCP requests. Required.
	MaxTCPPorts int
	Logger      *slog.Logger
	RandSeed    int64
}

type DHCPConfig struct {
	// RequestedAddr is asked for during DHCP and used as a static address
	// if DHCP does not complete.
	RequestedAddr netip.Addr
}

// Stack couples the radio with an lneto stack.
type Stack struct {
	s       xnet.StackAsync
	dev     *cyw43439.Device
	log     *slog.Logger
	sendbuf []byte
}

// NewStack initializes the radio, joins the network and resets the lneto
// stack with the radio's hardware address. Joining is retried until it
// succeeds.
func NewStack(ssid, pass string, cfg StackConfig) (*Stack, error) {
	if cfg.Hostname == "" {
		return nil, errors.New("empty hostname")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	start := time.Now()
	dev := cyw43439.NewPicoWDevice()
	dev.SetLogger(logger)
	if err := dev.Init(cyw43439.DefaultWifiConfig()); err != nil {
		return nil, errors.New("wifi init:" + err.Error())
	}
	logger.Info("wifi:init", slog.Duration("took", time.Since(start)))

	for {
		err := dev.JoinWPA2(ssid, pass)
		if err == nil {
			break
		}
		logger.Error("wifi:join failed", slog.String("ssid", ssid), slog.String("err", err.Error()))
		time.Sleep(5 * time.Second)
	}

	mac, err := dev.HardwareAddr6()
	if err != nil {
		return nil, errors.New("wifi hardware address:" + err.Error())
	}
	logger.Info("wifi:joined", slog.String("ssid", ssid), slog.String("mac", net.HardwareAddr(mac[:]).String()))

	st := &Stack{
		dev:     dev,
		log:     logger,
		sendbuf: make([]byte, mtu),
	}
	err = st.s.Reset(xnet.StackConfig{
		Hostname:        cfg.Hostname,
		MaxTCPConns:     max(cfg.MaxTCPPorts, 1),
		RandSeed:        time.Since(start).Nanoseconds() ^ cfg.RandSeed,
		HardwareAddress: mac,
		MTU:             mtu,
	})
	if err != nil {
		return nil, errors.New("stack reset:" + err.Error())
	}
	dev.RecvEthHandle(func(pkt []byte) error {
		return st.s.Demux(pkt, 0)
	})
	return st, nil
}

// DHCP acquires an IPv4 address and resolves the gateway. The stack must
// be polled from another goroutine while DHCP runs.
func (s *Stack) DHCP(cfg DHCPConfig) (*xnet.DHCPResults, error) {
	if !cfg.RequestedAddr.IsValid() {
		cfg.RequestedAddr = netip.IPv4Unspecified()
	}
	if !cfg.RequestedAddr.Is4() {
		return nil, errors.New("only dhcpv4 supported")
	}

	rstack := s.s.StackRetrying(50 * time.Millisecond)
	s.log.Info("dhcp:starting")
	results, err := rstack.DoDHCPv4(cfg.RequestedAddr.As4(), 3*time.Second, 3)
	if err != nil {
		if cfg.RequestedAddr.IsUnspecified() {
			return nil, errors.New("dhcp:" + err.Error())
		}
		s.log.Info("dhcp:fallback to static", slog.String("ip", cfg.RequestedAddr.String()))
		s.s.SetIPAddr(cfg.RequestedAddr)
		return &xnet.DHCPResults{AssignedAddr: cfg.RequestedAddr}, nil
	}
	if err = s.s.AssimilateDHCPResults(results); err != nil {
		return nil, errors.New("dhcp assimilate:" + err.Error())
	}

	gw, err := rstack.DoResolveHardwareAddress6(results.Router, 500*time.Millisecond, 4)
	if err != nil {
		return nil, errors.New("resolve gateway:" + err.Error())
	}
	s.s.SetGateway6(gw)
	s.log.Info("dhcp:complete",
		slog.String("ip", results.AssignedAddr.String()),
		slog.String("router", results.Router.String()),
	)
	return results, nil
}

// Poll moves at most one packet in each direction. Call it in a loop from
// a dedicated goroutine.
func (s *Stack) Poll() (send, recv int, err error) {
	got, errRecv := s.dev.PollOne()
	if got {
		recv = 1
	}
	if errRecv != nil {
		s.log.Error("poll:recv", slog.String("err", errRecv.Error()))
	}

	send, err = s.s.Encapsulate(s.sendbuf, -1, 0)
	if err != nil {
		s.log.Error("poll:encapsulate", slog.String("err", err.Error()))
		return send, recv, err
	}
	if send == 0 {
		return send, recv, errRecv
	}
	if err = s.dev.SendEth(s.sendbuf[:send]); err != nil {
		s.log.Error("poll:send", slog.Int("plen", send), slog.String("err", err.Error()))
	}
	return send, recv, err
}

// PollForever runs Poll, sleeping briefly when the link is idle.
func (s *Stack) PollForever() {
	for {
		send, recv, _ := s.Poll()
		if send == 0 && recv == 0 {
			time.Sleep(5 * time.Millisecond)
		}
	}
}

// Lneto returns the underlying stack for dialing and DNS.
func (s *Stack) Lneto() *xnet.StackAsync {
	return &s.s
}
