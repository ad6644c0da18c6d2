package mqtt

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"math/rand"
	"net"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemainingLengthBoundaries(t *testing.T) {
	tests := []struct {
		n    int
		size int
	}{
		{0, 1}, {127, 1}, {128, 2}, {16383, 2}, {16384, 3},
		{2097151, 3}, {2097152, 4}, {MaxRemainingLength, 4},
	}
	for _, tt := range tests {
		enc, err := EncodeRemainingLength(tt.n)
		require.NoError(t, err)
		assert.Len(t, enc, tt.size, "n=%d", tt.n)
		got, used, err := DecodeRemainingLength(enc)
		require.NoError(t, err)
		assert.Equal(t, tt.n, got)
		assert.Equal(t, tt.size, used)
	}
}

func TestRemainingLengthRoundTripSampled(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20000; i++ {
		n := rng.Intn(MaxRemainingLength + 1)
		enc, err := EncodeRemainingLength(n)
		require.NoError(t, err)
		got, _, err := DecodeRemainingLength(enc)
		require.NoError(t, err)
		require.Equal(t, n, got)
	}
}

func TestRemainingLengthRejects(t *testing.T) {
	_, err := EncodeRemainingLength(-1)
	assert.Error(t, err)
	_, err = EncodeRemainingLength(MaxRemainingLength + 1)
	assert.Error(t, err)
	_, _, err = DecodeRemainingLength([]byte{0x80, 0x80})
	assert.Error(t, err)
	_, _, err = DecodeRemainingLength([]byte{0xff, 0xff, 0xff, 0xff, 0x01})
	assert.Error(t, err)
}

func TestEncodeString(t *testing.T) {
	assert.Equal(t, []byte{0x00, 0x04, 'M', 'Q', 'T', 'T'}, EncodeString("MQTT"))
	assert.Equal(t, []byte{0x00, 0x00}, EncodeString(""))
}

func TestConnectBytes(t *testing.T) {
	got := Connect("sensor-dev123")
	want := []byte{0x10, 0x19, 0x00, 0x04, 'M', 'Q', 'T', 'T', 0x04, 0x02, 0x00, 0x3c, 0x00, 0x0d}
	want = append(want, "sensor-dev123"...)
	assert.Equal(t, want, got)

	cp, err := packets.ReadPacket(bytes.NewReader(got))
	require.NoError(t, err)
	c, ok := cp.(*packets.ConnectPacket)
	require.True(t, ok, "got %T", cp)
	assert.Equal(t, "MQTT", c.ProtocolName)
	assert.Equal(t, byte(4), c.ProtocolVersion)
	assert.True(t, c.CleanSession)
	assert.Equal(t, uint16(60), c.Keepalive)
	assert.Equal(t, "sensor-dev123", c.ClientIdentifier)
}

func TestSubscribePublishDisconnectDecode(t *testing.T) {
	cp, err := packets.ReadPacket(bytes.NewReader(Subscribe(0x0102, TelemetryFilter)))
	require.NoError(t, err)
	sub, ok := cp.(*packets.SubscribePacket)
	require.True(t, ok, "got %T", cp)
	assert.Equal(t, uint16(0x0102), sub.MessageID)
	assert.Equal(t, []string{TelemetryFilter}, sub.Topics)
	assert.Equal(t, []byte{0}, sub.Qoss)

	payload := []byte(`{"temp":21.3,"hum":55,"bat":80}`)
	cp, err = packets.ReadPacket(bytes.NewReader(Publish("home/telemetry/dev1", payload)))
	require.NoError(t, err)
	pub, ok := cp.(*packets.PublishPacket)
	require.True(t, ok, "got %T", cp)
	assert.Equal(t, "home/telemetry/dev1", pub.TopicName)
	assert.Equal(t, byte(0), pub.Qos)
	assert.Equal(t, payload, pub.Payload)

	assert.Equal(t, []byte{0xE0, 0x00}, Disconnect())
	cp, err = packets.ReadPacket(bytes.NewReader(Disconnect()))
	require.NoError(t, err)
	_, ok = cp.(*packets.DisconnectPacket)
	assert.True(t, ok)
}

func TestPacketIDWrapsPastZero(t *testing.T) {
	s := NewSession(SessionConfig{})
	s.nextID = 0xffff
	assert.Equal(t, uint16(0xffff), s.packetID())
	assert.Equal(t, uint16(1), s.packetID())
}

// fakeBroker accepts connections and records every decoded packet.
type fakeBroker struct {
	ln      net.Listener
	mu      sync.Mutex
	packets []packets.ControlPacket
	ack     bool
	connack []byte // raw reply to CONNECT instead of a CONNACK
}

func newFakeBroker(t *testing.T, ack bool) *fakeBroker {
	t.Helper()
	return startBroker(t, &fakeBroker{ack: ack})
}

func startBroker(t *testing.T, b *fakeBroker) *fakeBroker {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	b.ln = ln
	go b.serve()
	t.Cleanup(func() { ln.Close() })
	return b
}

func (b *fakeBroker) serve() {
	for {
		conn, err := b.ln.Accept()
		if err != nil {
			return
		}
		go b.handle(conn)
	}
}

func (b *fakeBroker) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		cp, err := packets.ReadPacket(r)
		if err != nil {
			return
		}
		b.mu.Lock()
		b.packets = append(b.packets, cp)
		b.mu.Unlock()
		if !b.ack {
			continue
		}
		switch p := cp.(type) {
		case *packets.ConnectPacket:
			if b.connack != nil {
				_, _ = conn.Write(b.connack)
				continue
			}
			ack := packets.NewControlPacket(packets.Connack).(*packets.ConnackPacket)
			_ = ack.Write(conn)
		case *packets.SubscribePacket:
			ack := packets.NewControlPacket(packets.Suback).(*packets.SubackPacket)
			ack.MessageID = p.MessageID
			ack.ReturnCodes = []byte{0}
			_ = ack.Write(conn)
		}
	}
}

func (b *fakeBroker) port() int {
	return b.ln.Addr().(*net.TCPAddr).Port
}

func (b *fakeBroker) waitFor(t *testing.T, n int) []packets.ControlPacket {
	t.Helper()
	var got []packets.ControlPacket
	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		got = append([]packets.ControlPacket(nil), b.packets...)
		return len(got) >= n
	}, 3*time.Second, 10*time.Millisecond)
	return got
}

type denyList []string

func (d denyList) Classify(text string) (string, bool) {
	for _, s := range d {
		if strings.Contains(text, s) {
			return s, true
		}
	}
	return "", false
}

func TestSessionPublish(t *testing.T) {
	for _, ack := range []bool{true, false} {
		b := newFakeBroker(t, ack)
		s := NewSession(SessionConfig{
			Host: "127.0.0.1", Port: b.port(), ClientID: "sensor-dev1",
			IOTimeout: 200 * time.Millisecond,
		})
		rng := rand.New(rand.NewSource(1))

		ok, info := s.Publish(context.Background(), rng, "home/telemetry/dev1", `{"temp":20.0}`)
		require.True(t, ok, info)
		assert.Equal(t, "bytes=13", info)
		assert.True(t, s.Connected())

		got := b.waitFor(t, 3)
		require.IsType(t, &packets.ConnectPacket{}, got[0])
		sub, isSub := got[1].(*packets.SubscribePacket)
		require.True(t, isSub, "got %T", got[1])
		assert.Equal(t, uint16(1), sub.MessageID)
		pub, isPub := got[2].(*packets.PublishPacket)
		require.True(t, isPub, "got %T", got[2])
		assert.Equal(t, "home/telemetry/dev1", pub.TopicName)

		s.Close()
		assert.False(t, s.Connected())
		got = b.waitFor(t, 4)
		assert.IsType(t, &packets.DisconnectPacket{}, got[3])
	}
}

func TestSessionSkipsBlockedSubscription(t *testing.T) {
	b := newFakeBroker(t, true)
	s := NewSession(SessionConfig{
		Host: "127.0.0.1", Port: b.port(), ClientID: "c",
		Gate: denyList{"#"}, IOTimeout: 200 * time.Millisecond,
	})
	ok, _ := s.Publish(context.Background(), rand.New(rand.NewSource(1)), "t", "x")
	require.True(t, ok)
	got := b.waitFor(t, 2)
	assert.IsType(t, &packets.ConnectPacket{}, got[0])
	assert.IsType(t, &packets.PublishPacket{}, got[1])
	s.Close()
}

func TestSessionBlockedPublishHasNoNetworkEffect(t *testing.T) {
	s := NewSession(SessionConfig{Host: "127.0.0.1", Port: 1, Gate: denyList{"payload="}})
	ok, info := s.Publish(context.Background(), rand.New(rand.NewSource(1)), "t", "payload=1")
	assert.False(t, ok)
	assert.Equal(t, "blocked", info)
	assert.True(t, s.lastAttempt.IsZero(), "blocked publish must not attempt a connect")
}

func TestSessionReconnectThrottle(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	now := time.Unix(1700000000, 0)
	s := NewSession(SessionConfig{Host: "127.0.0.1", Port: port, DialTimeout: 200 * time.Millisecond})
	s.now = func() time.Time { return now }

	ctx := context.Background()
	assert.False(t, s.Connect(ctx))
	first := s.lastAttempt
	now = now.Add(5 * time.Second)
	assert.False(t, s.Connect(ctx))
	assert.Equal(t, first, s.lastAttempt, "attempt inside the interval must be throttled")
	now = now.Add(11 * time.Second)
	assert.False(t, s.Connect(ctx))
	assert.Equal(t, now, s.lastAttempt)

	ok, info := s.Publish(ctx, rand.New(rand.NewSource(1)), "t", "x")
	assert.False(t, ok)
	assert.Equal(t, "connect", info)
}

func TestSessionDrop(t *testing.T) {
	b := newFakeBroker(t, true)
	s := NewSession(SessionConfig{
		Host: "127.0.0.1", Port: b.port(), ClientID: "c",
		IOTimeout: 200 * time.Millisecond, DropProbability: 1,
	})
	ok, info := s.Publish(context.Background(), rand.New(rand.NewSource(1)), "t", "x")
	assert.True(t, ok)
	assert.Equal(t, "drop", info)
	assert.False(t, s.Connected())
}

func TestCloseWithoutConnection(t *testing.T) {
	s := NewSession(SessionConfig{})
	s.Close()
	s.Close()
	assert.False(t, s.Connected())
}

func TestPeekRemainingLength(t *testing.T) {
	tests := []struct {
		in     []byte
		length int
		size   int
		ok     bool
	}{
		{[]byte{0x20, 0x02, 0x00, 0x00}, 2, 1, true},
		{[]byte{0x90, 0x80, 0x01}, 128, 2, true},
		{[]byte{0x40, 0xff, 0xff, 0xff, 0x7f}, MaxRemainingLength, 4, true},
		{[]byte{0x20, 0xff, 0xff, 0xff, 0xff, 0x01}, 0, 0, false},
		{[]byte{0x20}, 0, 0, false},
	}
	for _, tt := range tests {
		r := bufio.NewReader(bytes.NewReader(tt.in))
		length, size, ok := peekRemainingLength(r)
		assert.Equal(t, tt.ok, ok, "% x", tt.in)
		assert.Equal(t, tt.length, length, "% x", tt.in)
		assert.Equal(t, tt.size, size, "% x", tt.in)
		assert.Equal(t, len(tt.in), r.Buffered(), "peek must not consume")
	}
}

func TestSessionIgnoresOversizedAck(t *testing.T) {
	b := startBroker(t, &fakeBroker{ack: true, connack: []byte{0x40, 0xff, 0xff, 0xff, 0x7f}})
	s := NewSession(SessionConfig{
		Host: "127.0.0.1", Port: b.port(), ClientID: "c",
		IOTimeout: 200 * time.Millisecond,
	})
	defer s.Close()

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	ok, info := s.Publish(context.Background(), rand.New(rand.NewSource(1)), "home/telemetry/dev1", "{}")
	runtime.ReadMemStats(&after)

	assert.True(t, ok, info)
	assert.Equal(t, "bytes=2", info)
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(8<<20), "garbage ack length must not be allocated")

	got := b.waitFor(t, 3)
	assert.IsType(t, &packets.ConnectPacket{}, got[0])
	assert.IsType(t, &packets.PublishPacket{}, got[len(got)-1])
}

func TestSessionConnectStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = io.Copy(io.Discard, conn)
	}()

	s := NewSession(SessionConfig{
		Host: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port, ClientID: "c",
		IOTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	ok, _ := s.Publish(ctx, rand.New(rand.NewSource(1)), "t", "x")
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 2*time.Second, "silent broker must not hold a cancelled action")
}
