package config

import (
	"fmt"
	"net"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Target keys the workers read.
const (
	TargetRouter = "router"
	TargetCamera = "camera"
	TargetMQTT   = "mqtt"
	TargetRTSP   = "rtsp"
	TargetCoAP   = "coap"
)

// KnownTargetKeys lists the built-in keys in display order.
var KnownTargetKeys = []string{TargetRouter, TargetCamera, TargetMQTT, TargetRTSP, TargetCoAP}

// Target is one decoy endpoint. An empty host means unconfigured.
type Target struct {
	Host string
	Port int
}

// Configured reports whether the target has a host and a usable port.
func (t Target) Configured() bool {
	return t.Host != "" && t.Port > 0
}

// String renders host:port as shown in log lines.
func (t Target) String() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// Addr returns a dialable address.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

var defaultTargets = map[string]Target{
	TargetRouter: {"10.10.0.3", 80},
	TargetCamera: {"10.10.0.4", 80},
	TargetMQTT:   {"10.10.0.5", 1883},
	TargetRTSP:   {"10.10.0.6", 8554},
	TargetCoAP:   {"10.10.0.5", 5683},
}

// Targets maps protocol keys to endpoints.
type Targets map[string]Target

// DefaultTargets returns a fresh copy of the built-in target map.
func DefaultTargets() Targets {
	t := make(Targets, len(defaultTargets))
	for k, v := range defaultTargets {
		t[k] = v
	}
	return t
}

// ParseTargets applies a "key=host[:port],..." list over the defaults.
// Entries without '=', with an empty value, or with a non-numeric port are
// ignored. A value without a port keeps the key's current port, or 0 for a
// new key.
func ParseTargets(s string) Targets {
	t := DefaultTargets()
	t.Apply(s)
	return t
}

// Apply overlays a "key=host[:port],..." list on t.
func (t Targets) Apply(s string) {
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		t.set(k, v)
	}
}

func (t Targets) set(key, value string) {
	key = strings.ToLower(strings.TrimSpace(key))
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	if i := strings.LastIndex(value, ":"); i >= 0 {
		port, err := strconv.Atoi(value[i+1:])
		if err != nil {
			return
		}
		t[key] = Target{Host: value[:i], Port: port}
		return
	}
	t[key] = Target{Host: value, Port: t[key].Port}
}

// Keys returns the built-in keys present in t followed by any others sorted.
func (t Targets) Keys() []string {
	keys := make([]string, 0, len(t))
	known := make(map[string]bool, len(KnownTargetKeys))
	for _, k := range KnownTargetKeys {
		known[k] = true
		if _, ok := t[k]; ok {
			keys = append(keys, k)
		}
	}
	var extra []string
	for k := range t {
		if !known[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return append(keys, extra...)
}

// String renders "key=host:port,..." in Keys order.
func (t Targets) String() string {
	parts := make([]string, 0, len(t))
	for _, k := range t.Keys() {
		parts = append(parts, k+"="+t[k].String())
	}
	return strings.Join(parts, ",")
}

// Ports returns the distinct configured ports in ascending order.
func (t Targets) Ports() []int {
	seen := make(map[int]bool)
	var ports []int
	for _, v := range t {
		if v.Port > 0 && !seen[v.Port] {
			seen[v.Port] = true
			ports = append(ports, v.Port)
		}
	}
	sort.Ints(ports)
	return ports
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DefaultRuleGlobs are used when no rule paths are given.
var DefaultRuleGlobs = []string{"*.rules", "suricata.rules"}

// ExpandRuleGlobs expands each pattern. A pattern matching nothing is kept
// as a literal path so an unreadable file is still counted. An empty list
// expands DefaultRuleGlobs, where unmatched patterns are dropped instead.
func ExpandRuleGlobs(patterns []string) []string {
	defaults := len(patterns) == 0
	if defaults {
		patterns = DefaultRuleGlobs
	}
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, p := range patterns {
		matches, err := filepath.Glob(p)
		if err != nil || len(matches) == 0 {
			if !defaults {
				add(p)
			}
			continue
		}
		for _, m := range matches {
			add(m)
		}
	}
	return out
}
