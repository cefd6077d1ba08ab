package mqtt

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/netip"
	"runtime"
	"time"

	"github.com/harveysanders/picoservo/servosweep/lcd"
	"github.com/harveysanders/picoservo/servosweep/sweep"
	"github.com/soypat/lneto/tcp"
	"github.com/soypat/lneto/x/xnet"
	mqtt "github.com/soypat/natiu-mqtt"
)

const (
	DefaultTopic     = "picoservo/state"
	DefaultHeartbeat = 30 * time.Second
)

var pubFlags, _ = mqtt.NewPublishFlags(mqtt.QoS0, false, false)

// Client publishes sweep readings to an MQTT broker.
type Client struct {
	ID                string
	Topic             string // DefaultTopic if empty.
	Timeout           time.Duration
	TCPBufSize        int
	Logger            *slog.Logger
	HeartbeatInterval time.Duration
	Username          string // Optional.
	Password          string // Optional, requires Username.
}

// statePayload is the JSON body of each published reading.
type statePayload struct {
	Step        uint32  `json:"step"`
	Angle       float32 `json:"angle"`
	Duty        uint32  `json:"duty"`
	PulseUS     float32 `json:"pulse_us"`
	LED         bool    `json:"led"`
	SinceBootMS int64   `json:"since_boot_ms"`
}

// EncodeReading returns the JSON payload published for r.
func EncodeReading(r sweep.Reading) ([]byte, error) {
	return json.Marshal(statePayload{
		Step:        r.Step,
		Angle:       r.Angle,
		Duty:        r.Duty,
		PulseUS:     r.PulseUS,
		LED:         r.LED,
		SinceBootMS: r.SinceBoot.Milliseconds(),
	})
}

// ConnectAndPublish connects to the broker at addr ("host:port") and
// publishes every reading received. Connection progress is reported to
// status, which may be nil. It reconnects forever and only returns when
// addr cannot be used.
func (c *Client) ConnectAndPublish(
	stack *xnet.StackAsync,
	addr string,
	readings <-chan sweep.Reading,
	status chan<- lcd.Message,
) error {
	const pollTime = 5 * time.Millisecond
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	host, portStr, err := splitHostPort(addr)
	if err != nil {
		return errors.New("parsing host:port from " + addr + ": " + err.Error())
	}
	port := parsePort(portStr)
	if port == 0 {
		return errors.New("invalid port in " + addr)
	}
	topic := c.Topic
	if topic == "" {
		topic = DefaultTopic
	}

	rstack := stack.StackRetrying(pollTime)

	var brokerAddr netip.Addr
	if parsed, err := netip.ParseAddr(host); err == nil {
		brokerAddr = parsed
	} else {
		c.Logger.Info("dns:resolving", slog.String("host", host))
		addrs, err := rstack.DoLookupIP(host, 5*time.Second, 3)
		if err != nil {
			return errors.New("dns lookup for " + host + ": " + err.Error())
		}
		if len(addrs) == 0 {
			return errors.New("dns lookup for " + host + ": no addresses returned")
		}
		brokerAddr = addrs[0]
	}
	serverAddr := netip.AddrPortFrom(brokerAddr, port)
	c.Logger.Info("mqtt:broker", slog.String("addr", serverAddr.String()))

	cfg := mqtt.ClientConfig{
		Decoder: mqtt.DecoderNoAlloc{UserBuffer: make([]byte, 1024)},
		OnPub: func(_ mqtt.Header, varPub mqtt.VariablesPublish, _ io.Reader) error {
			c.Logger.Info("mqtt:unexpected publish", slog.String("topic", string(varPub.TopicName)))
			return nil
		},
	}
	var varconn mqtt.VariablesConnect
	varconn.SetDefaultMQTT([]byte(c.ID))
	if c.Username != "" {
		varconn.Username = []byte(c.Username)
		if c.Password != "" {
			varconn.Password = []byte(c.Password)
		}
	}
	client := mqtt.NewClient(cfg)

	var conn tcp.Conn
	err = conn.Configure(tcp.ConnConfig{
		RxBuf:             make([]byte, c.TCPBufSize),
		TxBuf:             make([]byte, c.TCPBufSize),
		TxPacketQueueSize: 3,
	})
	if err != nil {
		return errors.New("tcp configure:" + err.Error())
	}

	closeConn := func(reason string) {
		c.Logger.Error("tcpconn:closing", slog.String("reason", reason))
		conn.Close()
		for i := 0; i < 50 && !conn.State().IsClosed(); i++ {
			time.Sleep(100 * time.Millisecond)
		}
		conn.Abort()
	}

	pubVar := mqtt.VariablesPublish{TopicName: []byte(topic)}
	for {
		localPort := uint16(stack.Prand32()>>17) + 1024
		c.Logger.Info("socket:dialing", slog.Uint64("localPort", uint64(localPort)))
		lcd.Send(status, "MQTT dialing", addr)

		err = rstack.DoDialTCP(&conn, localPort, serverAddr, 10*time.Second, 3)
		if err != nil {
			closeConn("dial failed: " + err.Error())
			time.Sleep(2 * time.Second)
			continue
		}
		c.Logger.Info("tcp:connected", slog.String("state", conn.State().String()))

		conn.SetDeadline(time.Now().Add(c.Timeout))
		err = client.StartConnect(&conn, &varconn)
		if err != nil {
			c.Logger.Error("mqtt:start-connect-failed", slog.String("reason", err.Error()))
			closeConn("connect failed")
			continue
		}
		for retries := 50; retries > 0 && !client.IsConnected(); retries-- {
			time.Sleep(100 * time.Millisecond)
			if err = client.HandleNext(); err != nil {
				c.Logger.Error("mqtt:handle-next-failed", slog.String("err", err.Error()))
			}
		}
		if !client.IsConnected() {
			c.Logger.Error("mqtt:connect-failed", slog.Any("reason", client.Err()))
			lcd.Send(status, "MQTT failed", "Timed out")
			closeConn("connect timed out")
			continue
		}
		lcd.Send(status, "MQTT connected", topic)

		c.publishLoop(client, &conn, stack, pubVar, readings)

		c.Logger.Error("mqtt:disconnected", slog.Any("reason", client.Err()))
		lcd.Send(status, "MQTT lost", "Reconnecting...")
		closeConn("disconnected")
		runtime.Gosched()
	}
}

func (c *Client) publishLoop(client *mqtt.Client, conn *tcp.Conn, stack *xnet.StackAsync, pubVar mqtt.VariablesPublish, readings <-chan sweep.Reading) {
	interval := c.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultHeartbeat
	}
	heartbeat := time.NewTicker(interval)
	defer heartbeat.Stop()
	for client.IsConnected() {
		select {
		case r := <-readings:
			payload, err := EncodeReading(r)
			if err != nil {
				c.Logger.Error("mqtt:marshal-failed", slog.Any("reason", err))
				continue
			}
			conn.SetDeadline(time.Now().Add(c.Timeout))
			pubVar.PacketIdentifier = uint16(stack.Prand32())
			if err = client.PublishPayload(pubFlags, pubVar, payload); err != nil {
				c.Logger.Error("mqtt:publish-failed", slog.Any("reason", err))
				continue
			}
			c.Logger.Debug("mqtt:published", slog.Uint64("step", uint64(r.Step)))
			if err = client.HandleNext(); err != nil {
				c.Logger.Error("mqtt:handle-next-failed", slog.String("err", err.Error()))
			}
		case <-heartbeat.C:
			if err := client.HandleNext(); err != nil {
				c.Logger.Error("mqtt:handle-next-failed", slog.String("err", err.Error()))
			}
		default:
			// TinyGo schedules cooperatively on one core; let the sweep loop run.
			runtime.Gosched()
		}
	}
}

// splitHostPort splits addr at its last colon.
func splitHostPort(addr string) (host, port string, err error) {
	colonIdx := -1
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			colonIdx = i
			break
		}
	}
	if colonIdx == -1 {
		return "", "", errors.New("missing port in address")
	}
	host = addr[:colonIdx]
	port = addr[colonIdx+1:]
	if host == "" {
		return "", "", errors.New("empty host")
	}
	if port == "" {
		return "", "", errors.New("empty port")
	}
	return host, port, nil
}

// parsePort returns 0 for anything that is not a decimal uint16.
func parsePort(s string) uint16 {
	var port uint32
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0
		}
		port = port*10 + uint32(s[i]-'0')
		if port > 65535 {
			return 0
		}
	}
	return uint16(port)
}
