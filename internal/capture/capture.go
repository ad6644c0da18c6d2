package capture

import (
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"github.com/google/gopacket/pcapgo"

	"github.com/tturner/iotnoise/internal/config"
)

const snapLen = 65535

// Capture represents a packet capture session
type Capture struct {
	iface    string
	handle   *pcap.Handle
	writer   *pcapgo.Writer
	file     *os.File
	mu       sync.Mutex
	count    int
	stopChan chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// StartCapture opens iface, applies filter (may be empty) and streams
// matching packets into outputFile.
func StartCapture(iface, outputFile, filter string) (*Capture, error) {
	handle, err := pcap.OpenLive(iface, snapLen, true, 200*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("open live capture on %s: %w", iface, err)
	}
	if filter != "" {
		if err := handle.SetBPFFilter(filter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("set BPF filter %q: %w", filter, err)
		}
	}

	file, err := os.Create(outputFile)
	if err != nil {
		handle.Close()
		return nil, fmt.Errorf("create pcap file: %w", err)
	}
	writer := pcapgo.NewWriter(file)
	if err := writer.WriteFileHeader(snapLen, handle.LinkType()); err != nil {
		file.Close()
		handle.Close()
		return nil, fmt.Errorf("write pcap header: %w", err)
	}

	c := &Capture{
		iface:    iface,
		handle:   handle,
		writer:   writer,
		file:     file,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go c.captureLoop()
	return c, nil
}

// StartCaptureForTargets captures the traffic exchanged with the configured
// targets. An empty iface is resolved from the route to the first target.
func StartCaptureForTargets(outputFile string, targets config.Targets, iface string) (*Capture, error) {
	if iface == "" {
		var err error
		iface, err = InterfaceForTargets(targets)
		if err != nil {
			return nil, err
		}
	}
	return StartCapture(iface, outputFile, BuildFilter(targets))
}

// BuildFilter returns a BPF expression matching every configured target
// host and port, or "" when none is configured.
func BuildFilter(targets config.Targets) string {
	seen := make(map[string]bool)
	var terms []string
	for _, k := range targets.Keys() {
		t := targets[k]
		if !t.Configured() {
			continue
		}
		term := "(host " + t.Host + " and port " + strconv.Itoa(t.Port) + ")"
		if seen[term] {
			continue
		}
		seen[term] = true
		terms = append(terms, term)
	}
	sort.Strings(terms)
	return strings.Join(terms, " or ")
}

// InterfaceForTargets picks the capture interface that routes to the first
// configured target.
func InterfaceForTargets(targets config.Targets) (string, error) {
	for _, k := range targets.Keys() {
		t := targets[k]
		if !t.Configured() {
			continue
		}
		ip, err := localIPFor(t.Host)
		if err != nil {
			return "", err
		}
		devs, err := pcap.FindAllDevs()
		if err != nil {
			return "", fmt.Errorf("find network devices: %w", err)
		}
		if name := matchDevice(devs, ip); name != "" {
			return name, nil
		}
		return "", fmt.Errorf("no capture interface carries %s", ip)
	}
	return "", fmt.Errorf("no configured target to derive a capture interface from")
}

// localIPFor returns the source address the kernel would use to reach host.
// A UDP "connect" sends nothing.
func localIPFor(host string) (net.IP, error) {
	conn, err := net.Dial("udp", net.JoinHostPort(host, "9"))
	if err != nil {
		return nil, fmt.Errorf("route to %s: %w", host, err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP, nil
}

func matchDevice(devs []pcap.Interface, ip net.IP) string {
	for _, d := range devs {
		for _, a := range d.Addresses {
			if a.IP.Equal(ip) {
				return d.Name
			}
		}
	}
	if ip.IsLoopback() {
		for _, d := range devs {
			switch d.Name {
			case "lo", "lo0", "Loopback", "Loopback Pseudo-Interface 1":
				return d.Name
			}
		}
	}
	return ""
}

func (c *Capture) captureLoop() {
	defer close(c.done)
	source := gopacket.NewPacketSource(c.handle, c.handle.LinkType())
	packets := source.Packets()
	for {
		select {
		case <-c.stopChan:
			return
		case packet, ok := <-packets:
			if !ok {
				return
			}
			ci := packet.Metadata().CaptureInfo
			c.mu.Lock()
			if err := c.writer.WritePacket(ci, packet.Data()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to write packet: %v\n", err)
			} else {
				c.count++
			}
			c.mu.Unlock()
		}
	}
}

// Stop stops the capture and closes resources (idempotent)
func (c *Capture) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		close(c.stopChan)
		select {
		case <-c.done:
		case <-time.After(time.Second):
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		err = c.file.Close()
		c.handle.Close()
	})
	return err
}

// Interface returns the capture interface name.
func (c *Capture) Interface() string {
	return c.iface
}

// GetPacketCount returns the number of packets written so far.
func (c *Capture) GetPacketCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}
