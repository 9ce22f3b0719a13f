package utils

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDurationUS(t *testing.T) {
	d := 1234*time.Microsecond + 567*time.Nanosecond
	got := DurationUS(d)
	if math.Abs(got-1234.567) > 0.001 {
		t.Fatalf("want 1234.567µs, got %.3f", got)
	}
}

func TestPrintTimingStatsRespectsVerbose(t *testing.T) {
	var buf bytes.Buffer
	oldOut, oldVerbose := Output, Verbose
	defer func() { Output, Verbose = oldOut, oldVerbose }()
	Output = &buf

	stats := &TimingStats{TotalTime: time.Second, ForwardPassTime: 500 * time.Millisecond}
	stats.StageTimes[2] = 250 * time.Millisecond

	Verbose = false
	PrintTimingStats(stats, 2)
	Logf("hidden %d\n", 1)
	assert.Zero(t, buf.Len())

	Verbose = true
	PrintTimingStats(stats, 0)
	out := buf.String()
	assert.Contains(t, out, "Stage 3: 250ms (50.0% of forward)")
	assert.Contains(t, out, "Forward pass: 500ms (50.0%)")
}
