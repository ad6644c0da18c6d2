package mqtt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"

	nerrors "github.com/tturner/iotnoise/internal/errors"
)

// TelemetryFilter is subscribed to on every connect unless denied.
const TelemetryFilter = "home/telemetry/#"

// maxAckLength bounds the remaining length of a CONNACK or SUBACK worth
// decoding. A longer header is garbage and the read is abandoned.
const maxAckLength = 16

// Gate decides whether text may be sent.
type Gate interface {
	Classify(text string) (reason string, blocked bool)
}

// SessionConfig holds the connection parameters of a Session.
type SessionConfig struct {
	Host     string
	Port     int
	ClientID string
	Gate     Gate

	DialTimeout       time.Duration // default 3s
	IOTimeout         time.Duration // default 2s
	ReconnectInterval time.Duration // default 15s
	DropProbability   float64       // chance to force-close after a publish
}

// Session is a persistent, hand-framed MQTT connection owned by one worker.
// The mutex only covers the final Close racing a worker that missed the
// join deadline.
type Session struct {
	mu          sync.Mutex
	cfg         SessionConfig
	conn        net.Conn
	nextID      uint16
	lastAttempt time.Time
	now         func() time.Time
	dialer      net.Dialer
}

// NewSession returns a disconnected session. The connection is opened
// lazily by the first Publish.
func NewSession(cfg SessionConfig) *Session {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 3 * time.Second
	}
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = 2 * time.Second
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 15 * time.Second
	}
	return &Session{
		cfg:    cfg,
		nextID: 1,
		now:    time.Now,
		dialer: net.Dialer{Timeout: cfg.DialTimeout},
	}
}

// Addr returns host:port of the broker.
func (s *Session) Addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// Connected reports whether a socket is held.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

func (s *Session) packetID() uint16 {
	id := s.nextID
	s.nextID++
	if s.nextID == 0 {
		s.nextID = 1
	}
	return id
}

// Connect opens the session if it is not already open. Attempts are throttled
// to one per ReconnectInterval; a throttled call returns false without I/O.
func (s *Session) Connect(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connect(ctx)
}

func (s *Session) connect(ctx context.Context) bool {
	if s.conn != nil {
		return true
	}
	now := s.now()
	if !s.lastAttempt.IsZero() && now.Sub(s.lastAttempt) < s.cfg.ReconnectInterval {
		return false
	}
	s.lastAttempt = now
	if s.cfg.Host == "" || s.cfg.Port <= 0 {
		return false
	}

	conn, err := s.dialer.DialContext(ctx, "tcp", s.Addr())
	if err != nil {
		return false
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	if err := s.write(conn, Connect(s.cfg.ClientID)); err != nil {
		conn.Close()
		return false
	}
	r := bufio.NewReader(conn)
	readAck(conn, r, s.cfg.IOTimeout)

	if _, blocked := s.gate(TelemetryFilter); !blocked {
		if err := s.write(conn, Subscribe(s.packetID(), TelemetryFilter)); err != nil {
			conn.Close()
			return false
		}
		readAck(conn, r, s.cfg.IOTimeout)
	}
	s.conn = conn
	return true
}

// readAck is a degraded read: it waits up to timeout for one control packet
// and discards it. A missing, late, oversized or undecodable ack is the same
// as no ack.
func readAck(conn net.Conn, r *bufio.Reader, timeout time.Duration) packets.ControlPacket {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	defer conn.SetReadDeadline(time.Time{})
	length, size, ok := peekRemainingLength(r)
	if !ok || length > maxAckLength {
		_, _ = r.Discard(r.Buffered())
		return nil
	}
	cp, err := packets.ReadPacket(io.LimitReader(r, int64(1+size+length)))
	if err != nil {
		_, _ = r.Discard(r.Buffered())
		return nil
	}
	return cp
}

// peekRemainingLength decodes the length field of the next fixed header
// without consuming it. size is the number of length bytes.
func peekRemainingLength(r *bufio.Reader) (int, int, bool) {
	for size := 1; size <= 4; size++ {
		hdr, err := r.Peek(1 + size)
		if err != nil {
			return 0, 0, false
		}
		if hdr[size]&0x80 != 0 {
			continue
		}
		length, _, err := DecodeRemainingLength(hdr[1:])
		if err != nil {
			return 0, 0, false
		}
		return length, size, true
	}
	return 0, 0, false
}

func (s *Session) write(conn net.Conn, b []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.IOTimeout))
	_, err := conn.Write(b)
	return err
}

func (s *Session) gate(text string) (string, bool) {
	if s.cfg.Gate == nil {
		return "", false
	}
	return s.cfg.Gate.Classify(text)
}

// Publish gates "topic payload", connects if needed, and sends a QoS 0
// PUBLISH. The info string is "blocked", "connect", "drop", "bytes=N" or an
// error kind.
func (s *Session) Publish(ctx context.Context, rng *rand.Rand, topic, payload string) (ok bool, info string) {
	if _, blocked := s.gate(topic + " " + payload); blocked {
		return false, "blocked"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connect(ctx) {
		return false, "connect"
	}
	conn := s.conn
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	if err := s.write(conn, Publish(topic, []byte(payload))); err != nil {
		s.close()
		return false, nerrors.Kind(err)
	}
	if s.cfg.DropProbability > 0 && rng.Float64() < s.cfg.DropProbability {
		s.close()
		return true, "drop"
	}
	return true, fmt.Sprintf("bytes=%d", len(payload))
}

// Close sends DISCONNECT and closes the socket. Failures are ignored and the
// session is left disconnected.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.close()
}

func (s *Session) close() {
	if s.conn == nil {
		return
	}
	_ = s.write(s.conn, Disconnect())
	_ = s.conn.Close()
	s.conn = nil
}
