package pcap

import (
	"path/filepath"

	"github.com/tturner/iotnoise/internal/config"
)

// SummaryEntry captures a per-PCAP summary result.
type SummaryEntry struct {
	Name    string
	Path    string
	Summary *CaptureSummary
	Err     error
}

// BuildSummaryEntries summarizes root, or every capture under it when it is
// a directory. A file that fails to parse is reported in its entry.
func BuildSummaryEntries(root string, targets config.Targets) ([]SummaryEntry, error) {
	pcaps, err := CollectPcapFiles(root)
	if err != nil {
		return nil, err
	}
	entries := make([]SummaryEntry, 0, len(pcaps))
	for _, pcapPath := range pcaps {
		entry := SummaryEntry{
			Name: filepath.Base(pcapPath),
			Path: pcapPath,
		}
		summary, err := SummarizeCapture(pcapPath, targets)
		if err != nil {
			entry.Err = err
		} else {
			entry.Summary = summary
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
