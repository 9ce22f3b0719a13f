package utils

import (
	"fmt"
	"io"
	"os"
	"time"
)

// Verbose controls whether timing statistics are printed.
// Set to false to suppress output.
var Verbose = true

// Output is the writer where timing statistics are printed.
// Defaults to os.Stdout.
var Output io.Writer = os.Stdout

// Logf prints to Output when Verbose is set.
func Logf(format string, args ...interface{}) {
	if !Verbose {
		return
	}
	fmt.Fprintf(Output, format, args...)
}

// TimingStats holds timing information for different operations
type TimingStats struct {
	TotalTime       time.Duration
	ModelInitTime   time.Duration
	WeightsLoadTime time.Duration
	ForwardPassTime time.Duration
	StemTime        time.Duration
	StageTimes      [4]time.Duration
	HeadTime        time.Duration
	EncryptionTime  time.Duration
	ServerHeadTime  time.Duration
	DecryptionTime  time.Duration
}

func pct(part, whole time.Duration) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}

// PrintTimingStats prints detailed timing statistics.
// Respects the Verbose flag - does nothing if Verbose is false.
func PrintTimingStats(stats *TimingStats, passes int) {
	if !Verbose {
		return
	}
	if passes <= 0 {
		passes = 1
	}
	fmt.Fprintln(Output, "\n=== TIMING STATISTICS ===")
	fmt.Fprintf(Output, "Total time: %v\n", stats.TotalTime)
	fmt.Fprintf(Output, "Forward passes: %d\n", passes)
	fmt.Fprintln(Output, "\nBreakdown by operation:")
	fmt.Fprintf(Output, "  Model initialization: %v (%.1f%%)\n", stats.ModelInitTime, pct(stats.ModelInitTime, stats.TotalTime))
	fmt.Fprintf(Output, "  Weights loading: %v (%.1f%%)\n", stats.WeightsLoadTime, pct(stats.WeightsLoadTime, stats.TotalTime))
	fmt.Fprintf(Output, "  Forward pass: %v (%.1f%%)\n", stats.ForwardPassTime, pct(stats.ForwardPassTime, stats.TotalTime))
	fmt.Fprintf(Output, "  Encryption: %v (%.1f%%)\n", stats.EncryptionTime, pct(stats.EncryptionTime, stats.TotalTime))
	fmt.Fprintf(Output, "  Server head: %v (%.1f%%)\n", stats.ServerHeadTime, pct(stats.ServerHeadTime, stats.TotalTime))
	fmt.Fprintf(Output, "  Decryption: %v (%.1f%%)\n", stats.DecryptionTime, pct(stats.DecryptionTime, stats.TotalTime))
	fmt.Fprintln(Output, "\nForward pass breakdown:")
	fmt.Fprintf(Output, "  Stem: %v (%.1f%% of forward)\n", stats.StemTime, pct(stats.StemTime, stats.ForwardPassTime))
	for i, d := range stats.StageTimes {
		fmt.Fprintf(Output, "  Stage %d: %v (%.1f%% of forward)\n", i+1, d, pct(d, stats.ForwardPassTime))
	}
	fmt.Fprintf(Output, "  Head: %v (%.1f%% of forward)\n", stats.HeadTime, pct(stats.HeadTime, stats.ForwardPassTime))
	fmt.Fprintf(Output, "\nAverage forward pass time: %v\n", stats.ForwardPassTime/time.Duration(passes))
}

// DurationUS converts any time.Duration to micro-seconds as float64
func DurationUS(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1_000.0
}
