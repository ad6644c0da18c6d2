// Package pcap summarizes captured noise per decoy protocol, so a run can be
// checked at the wire level.
package pcap

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/tturner/iotnoise/internal/config"
	"github.com/tturner/iotnoise/internal/traffic"
)

// ProtocolSummary counts the packets exchanged with one protocol's decoys.
type ProtocolSummary struct {
	Packets     int
	Bytes       int // transport payload bytes
	Requests    int // payload packets toward a decoy
	Responses   int // payload packets from a decoy
	Connections int // TCP SYNs toward a decoy
	Resets      int
	Messages    map[string]int // request kinds, e.g. GET, PUBLISH
}

// CaptureSummary is the per-file result.
type CaptureSummary struct {
	TotalPackets int
	Matched      int
	Protocols    map[string]*ProtocolSummary
	Decoys       map[string]int // decoy ip:port -> packets
}

type portMap struct {
	tcp map[uint16]string
	udp map[uint16]string
}

// portsFor maps decoy ports to protocol labels. Matching is by port only:
// the capture filter already narrows traffic to the target hosts.
func portsFor(targets config.Targets) portMap {
	pm := portMap{tcp: map[uint16]string{}, udp: map[uint16]string{}}
	for key, t := range targets {
		if t.Port <= 0 || t.Port > 65535 {
			continue
		}
		port := uint16(t.Port)
		switch key {
		case config.TargetRouter, config.TargetCamera:
			pm.tcp[port] = traffic.ProtoHTTP
		case config.TargetMQTT:
			pm.tcp[port] = traffic.ProtoMQTT
		case config.TargetRTSP:
			pm.tcp[port] = traffic.ProtoRTSP
		case config.TargetCoAP:
			pm.udp[port] = traffic.ProtoCoAP
		}
	}
	return pm
}

type packetReader interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

func openReader(path string, f io.Reader) (packetReader, error) {
	if strings.EqualFold(filepath.Ext(path), ".pcapng") {
		r, err := pcapgo.NewNgReader(f, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// SummarizeCapture reads a PCAP or PCAPNG file and attributes each packet to
// the decoy protocol whose port it uses.
func SummarizeCapture(path string, targets config.Targets) (*CaptureSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pcap file: %w", err)
	}
	defer f.Close()
	r, err := openReader(path, f)
	if err != nil {
		return nil, fmt.Errorf("read pcap header: %w", err)
	}

	pm := portsFor(targets)
	s := &CaptureSummary{
		Protocols: make(map[string]*ProtocolSummary),
		Decoys:    make(map[string]int),
	}
	source := gopacket.NewPacketSource(r, r.LinkType())
	for packet := range source.Packets() {
		s.TotalPackets++
		s.add(packet, pm)
	}
	return s, nil
}

func (s *CaptureSummary) protocol(name string) *ProtocolSummary {
	ps, ok := s.Protocols[name]
	if !ok {
		ps = &ProtocolSummary{Messages: make(map[string]int)}
		s.Protocols[name] = ps
	}
	return ps
}

func (s *CaptureSummary) add(packet gopacket.Packet, pm portMap) {
	var (
		proto            string
		toDecoy          bool
		decoyPort        uint16
		payload          []byte
		syn, rst, ackSet bool
	)
	if tcpLayer := packet.Layer(layers.LayerTypeTCP); tcpLayer != nil {
		tcp, _ := tcpLayer.(*layers.TCP)
		if p, ok := pm.tcp[uint16(tcp.DstPort)]; ok {
			proto, toDecoy, decoyPort = p, true, uint16(tcp.DstPort)
		} else if p, ok := pm.tcp[uint16(tcp.SrcPort)]; ok {
			proto, decoyPort = p, uint16(tcp.SrcPort)
		}
		payload, syn, rst, ackSet = tcp.Payload, tcp.SYN, tcp.RST, tcp.ACK
	} else if udpLayer := packet.Layer(layers.LayerTypeUDP); udpLayer != nil {
		udp, _ := udpLayer.(*layers.UDP)
		if p, ok := pm.udp[uint16(udp.DstPort)]; ok {
			proto, toDecoy, decoyPort = p, true, uint16(udp.DstPort)
		} else if p, ok := pm.udp[uint16(udp.SrcPort)]; ok {
			proto, decoyPort = p, uint16(udp.SrcPort)
		}
		payload = udp.Payload
	}
	if proto == "" {
		return
	}

	s.Matched++
	ps := s.protocol(proto)
	ps.Packets++
	ps.Bytes += len(payload)
	if syn && !ackSet && toDecoy {
		ps.Connections++
	}
	if rst {
		ps.Resets++
	}
	if nl := packet.NetworkLayer(); nl != nil {
		flow := nl.NetworkFlow()
		host := flow.Src().String()
		if toDecoy {
			host = flow.Dst().String()
		}
		s.Decoys[joinHostPort(host, decoyPort)]++
	}
	if len(payload) == 0 {
		return
	}
	if !toDecoy {
		ps.Responses++
		return
	}
	ps.Requests++
	if kind := requestKind(proto, payload); kind != "" {
		ps.Messages[kind]++
	}
}

func joinHostPort(host string, port uint16) string {
	return net.JoinHostPort(host, strconv.Itoa(int(port)))
}

var mqttTypes = map[byte]string{
	1: "CONNECT", 3: "PUBLISH", 8: "SUBSCRIBE", 12: "PINGREQ", 14: "DISCONNECT",
}

var coapCodes = map[byte]string{1: "GET", 2: "POST", 3: "PUT", 4: "DELETE"}

// requestKind names the request a payload starts with.
func requestKind(proto string, payload []byte) string {
	switch proto {
	case traffic.ProtoHTTP, traffic.ProtoRTSP:
		end := 0
		for end < len(payload) && end < 16 && payload[end] >= 'A' && payload[end] <= 'Z' {
			end++
		}
		if end == 0 || end >= len(payload) || payload[end] != ' ' {
			return "other"
		}
		return string(payload[:end])
	case traffic.ProtoMQTT:
		if name, ok := mqttTypes[payload[0]>>4]; ok {
			return name
		}
		return "other"
	case traffic.ProtoCoAP:
		if len(payload) < 4 || payload[0]>>6 != 1 {
			return "other"
		}
		if name, ok := coapCodes[payload[1]]; ok {
			return name
		}
		return "other"
	}
	return ""
}

// FormatCaptureSummary renders a summary for terminal output.
func FormatCaptureSummary(s *CaptureSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Packets: total=%d matched=%d\n", s.TotalPackets, s.Matched)
	for _, p := range traffic.Protocols {
		ps, ok := s.Protocols[p]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%4s: packets=%d conns=%d requests=%d responses=%d resets=%d bytes=%d\n",
			p, ps.Packets, ps.Connections, ps.Requests, ps.Responses, ps.Resets, ps.Bytes)
		if len(ps.Messages) > 0 {
			b.WriteString("      " + formatCounts(ps.Messages) + "\n")
		}
	}
	if len(s.Decoys) > 0 {
		b.WriteString("Decoys: " + formatCounts(s.Decoys) + "\n")
	}
	return b.String()
}

func formatCounts(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, m[k]))
	}
	return strings.Join(parts, " ")
}
