package traffic

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/tturner/iotnoise/internal/config"
	"github.com/tturner/iotnoise/internal/logging"
	"github.com/tturner/iotnoise/internal/mqtt"
)

// Telemetry is the sensor reading published on each MQTT action.
type Telemetry struct {
	Temp json.Number `json:"temp"` // one decimal, always printed with it
	Hum  int         `json:"hum"`
	Bat  int         `json:"bat"`
	TS   int64       `json:"ts,omitempty"`
}

// NewTelemetry draws a plausible reading.
func NewTelemetry(rng *rand.Rand, now time.Time) Telemetry {
	temp := math.Round((18+rng.Float64()*8)*10) / 10
	return Telemetry{
		Temp: json.Number(strconv.FormatFloat(temp, 'f', 1, 64)),
		Hum:  int(30 + rng.Float64()*40),
		Bat:  int(10 + rng.Float64()*90),
		TS:   now.Unix(),
	}
}

// TelemetryPayload renders t compactly. If the timestamped form is denied,
// the reading is sent without ts.
func TelemetryPayload(t Telemetry, gate Gate) string {
	b, _ := json.Marshal(t)
	if _, blocked := gate.Classify(string(b)); !blocked {
		return string(b)
	}
	t.TS = 0
	b, _ = json.Marshal(t)
	return string(b)
}

// MQTT publishes telemetry over a persistent session.
type MQTT struct {
	base
	cfg     config.MQTTConfig
	target  config.Target
	topic   string
	session *mqtt.Session
	now     func() time.Time
}

// NewMQTT creates the MQTT action for one simulated device.
func NewMQTT(cfg config.MQTTConfig, target config.Target, device string, gate Gate, logger *logging.Logger) *MQTT {
	b := newBase(gate, logger, cfg.DialTimeout)
	return &MQTT{
		base:   b,
		cfg:    cfg,
		target: target,
		topic:  strings.TrimSuffix(cfg.TopicPrefix, "/") + "/" + device,
		session: mqtt.NewSession(mqtt.SessionConfig{
			Host:              target.Host,
			Port:              target.Port,
			ClientID:          "sensor-" + device,
			Gate:              b.gate,
			DialTimeout:       cfg.DialTimeout,
			IOTimeout:         cfg.IOTimeout,
			ReconnectInterval: cfg.ReconnectInterval,
			DropProbability:   cfg.DropProbability,
		}),
		now: time.Now,
	}
}

// Topic returns the publish topic.
func (m *MQTT) Topic() string {
	return m.topic
}

// Session exposes the underlying session.
func (m *MQTT) Session() *mqtt.Session {
	return m.session
}

// Act publishes one reading, or occasionally drops the session on purpose.
func (m *MQTT) Act(ctx context.Context, rng *rand.Rand) Result {
	if !m.target.Configured() {
		return noTarget(ProtoMQTT)
	}
	res := Result{Protocol: ProtoMQTT, Target: m.target.String()}
	if rng.Float64() < m.cfg.DisconnectProbability {
		m.session.Close()
		res.OK, res.Message, res.Outcome = true, OutcomeDisconnect, OutcomeDisconnect
		return res
	}

	payload := TelemetryPayload(NewTelemetry(rng, m.now()), m.gate)
	m.hex("mqtt publish", mqtt.Publish(m.topic, []byte(payload)))
	start := time.Now()
	ok, info := m.session.Publish(ctx, rng, m.topic, payload)
	res.RTT = time.Since(start)
	res.OK = ok
	res.Message = "PUB " + m.topic + " " + info
	switch {
	case info == "blocked":
		res.Outcome = OutcomeBlocked
	case info == "drop":
		res.Outcome = OutcomeDrop
	case ok:
		res.Outcome = OutcomeOK
	default:
		res.Outcome = OutcomeError
	}
	return res
}

// Close tears down the session. Safe to call more than once.
func (m *MQTT) Close() {
	m.session.Close()
}
