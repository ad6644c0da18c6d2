package app

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEmptyCapture(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, pcapgo.NewWriter(f).WriteFileHeader(65535, layers.LinkTypeEthernet))
}

func TestRunPcapSummary(t *testing.T) {
	dir := t.TempDir()
	writeEmptyCapture(t, filepath.Join(dir, "a.pcap"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.pcap"), []byte("junk"), 0644))

	var out bytes.Buffer
	err := RunPcapSummary(PcapSummaryOptions{Input: dir, Targets: "mqtt=10.0.0.9", Stdout: &out})
	require.NoError(t, err)

	s := out.String()
	assert.Contains(t, s, "== "+filepath.Join(dir, "a.pcap"))
	assert.Contains(t, s, "Packets: total=0 matched=0")
	assert.Contains(t, s, "error: read pcap header")
}

func TestRunPcapSummaryFailures(t *testing.T) {
	dir := t.TempDir()
	err := RunPcapSummary(PcapSummaryOptions{Input: dir, Stdout: &bytes.Buffer{}})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "no capture files"), err.Error())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.pcapng"), []byte("junk"), 0644))
	err = RunPcapSummary(PcapSummaryOptions{Input: dir, Stdout: &bytes.Buffer{}})
	require.EqualError(t, err, "no capture could be read")

	err = RunPcapSummary(PcapSummaryOptions{Input: dir, ConfigPath: filepath.Join(dir, "missing.yaml"), Stdout: &bytes.Buffer{}})
	require.ErrorContains(t, err, "load config")
}
