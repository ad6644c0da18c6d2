package progress

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func newTestBar(total time.Duration, desc string) (*RunBar, *bytes.Buffer, *time.Time) {
	pb := NewRunBar(total, desc)
	var buf bytes.Buffer
	pb.output = &buf
	now := time.Unix(1000, 0)
	pb.startTime = now
	pb.now = func() time.Time { return now }
	return pb, &buf, &now
}

func TestNewRunBar(t *testing.T) {
	pb := NewRunBar(time.Minute, "noise")
	if pb.total != time.Minute {
		t.Errorf("total = %v, want 1m", pb.total)
	}
	if !pb.enabled {
		t.Error("should be enabled by default")
	}
	if pb.description != "noise" {
		t.Errorf("description = %q, want %q", pb.description, "noise")
	}
}

func TestRunBar_Render(t *testing.T) {
	pb, buf, now := newTestBar(10*time.Second, "noise")
	*now = now.Add(5 * time.Second)
	pb.SetActions(12)

	out := buf.String()
	for _, want := range []string{"\rnoise [", "50%", "12 actions", "Elapsed: 5.0s", "Left: 5.0s"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
	if strings.Count(out, "=") != barWidth/2 {
		t.Errorf("expected half-filled bar in %q", out)
	}
}

func TestRunBar_RenderNoDescription(t *testing.T) {
	pb, buf, now := newTestBar(10*time.Second, "")
	*now = now.Add(time.Second)
	pb.SetActions(1)
	if !strings.HasPrefix(buf.String(), "\r[") {
		t.Errorf("output should start with bar, got %q", buf.String())
	}
}

func TestRunBar_ClampsOvertime(t *testing.T) {
	pb, buf, now := newTestBar(2*time.Second, "")
	*now = now.Add(5 * time.Second)
	pb.SetActions(3)
	out := buf.String()
	if !strings.Contains(out, "100%") || strings.Contains(out, "Left:") {
		t.Errorf("overtime render: %q", out)
	}
}

func TestRunBar_Throttle(t *testing.T) {
	pb, buf, now := newTestBar(10*time.Second, "")
	*now = now.Add(time.Second)
	pb.SetActions(1)
	first := buf.Len()
	*now = now.Add(50 * time.Millisecond)
	pb.SetActions(2)
	if buf.Len() != first {
		t.Error("second render within 100ms should be throttled")
	}
	*now = now.Add(200 * time.Millisecond)
	pb.SetActions(3)
	if buf.Len() == first {
		t.Error("render after 100ms should not be throttled")
	}
}

func TestRunBar_Disable(t *testing.T) {
	pb, buf, now := newTestBar(10*time.Second, "")
	pb.Disable()
	*now = now.Add(time.Second)
	pb.SetActions(5)
	pb.Finish(5)
	if buf.Len() > 0 {
		t.Errorf("disabled bar wrote %q", buf.String())
	}
}

func TestRunBar_Finish(t *testing.T) {
	pb, buf, now := newTestBar(10*time.Second, "")
	*now = now.Add(3 * time.Second)
	pb.Finish(7)
	out := buf.String()
	if !strings.HasSuffix(out, "\n") {
		t.Error("Finish should end with newline")
	}
	if !strings.Contains(out, "100%") || !strings.Contains(out, "7 actions") {
		t.Errorf("finish output %q", out)
	}
	before := buf.Len()
	pb.Finish(8)
	if buf.Len() != before {
		t.Error("second Finish should be a no-op")
	}
}

func TestRunBar_Watch(t *testing.T) {
	pb := NewRunBar(time.Second, "")
	var buf bytes.Buffer
	pb.output = &buf
	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	pb.Watch(ctx, 10*time.Millisecond, func() int { return 4 })
	if !strings.HasSuffix(buf.String(), "\n") || !strings.Contains(buf.String(), "4 actions") {
		t.Errorf("watch output %q", buf.String())
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Millisecond, "500ms"},
		{1500 * time.Millisecond, "1.5s"},
		{59 * time.Second, "59.0s"},
		{90 * time.Second, "1m30s"},
		{3 * time.Minute, "3m0s"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := formatDuration(tt.d)
			if got != tt.want {
				t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
			}
		})
	}
}
