package utils

import (
	"fmt"
	"strconv"
	"strings"
)

// Config holds model and run configuration shared by the commands.
type Config struct {
	Arch           string
	BlocksPerStage []int
	NumClasses     int
	IncludeHead    bool
	InputSize      int
	BatchSize      int
	Seed           int64
}

// ParseBlocks parses a block-count string such as "3 4 6 3" or "3,4,6,3".
func ParseBlocks(s string) ([]int, error) {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
	blocks := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("block count %q: %w", p, err)
		}
		blocks[i] = n
	}
	return blocks, nil
}

// ValidateConfig validates run configuration
func ValidateConfig(config *Config) error {
	if len(config.BlocksPerStage) != 4 {
		return fmt.Errorf("need exactly 4 stage block counts, got %d", len(config.BlocksPerStage))
	}
	for i, n := range config.BlocksPerStage {
		if n <= 0 {
			return fmt.Errorf("stage %d block count must be positive, got %d", i+1, n)
		}
	}
	if config.IncludeHead && config.NumClasses <= 0 {
		return fmt.Errorf("number of classes must be positive")
	}
	if config.InputSize < 32 {
		return fmt.Errorf("input size must be at least 32, got %d", config.InputSize)
	}
	if config.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	return nil
}
