package utils

import (
	"errors"
	"strconv"
	"strings"
)

// SizeStringToBytes parses a human-readable size such as "10mb" or "1.5MB"
// into a byte count. A bare number is treated as already being bytes. An
// empty string returns 0 with no error, matching an unset config field.
func SizeStringToBytes(size string) (int64, error) {
	size = strings.TrimSpace(size)
	if size == "" {
		return 0, nil
	}

	lower := strings.ToLower(size)
	multiplier := int64(1)
	numPart := lower

	switch {
	case strings.HasSuffix(lower, "kb"):
		multiplier = 1024
		numPart = strings.TrimSuffix(lower, "kb")
	case strings.HasSuffix(lower, "k"):
		multiplier = 1024
		numPart = strings.TrimSuffix(lower, "k")
	case strings.HasSuffix(lower, "mb"):
		multiplier = 1024 * 1024
		numPart = strings.TrimSuffix(lower, "mb")
	case strings.HasSuffix(lower, "m"):
		multiplier = 1024 * 1024
		numPart = strings.TrimSuffix(lower, "m")
	case strings.HasSuffix(lower, "gb"):
		multiplier = 1024 * 1024 * 1024
		numPart = strings.TrimSuffix(lower, "gb")
	case strings.HasSuffix(lower, "g"):
		multiplier = 1024 * 1024 * 1024
		numPart = strings.TrimSuffix(lower, "g")
	case strings.HasSuffix(lower, "tb"):
		multiplier = 1024 * 1024 * 1024 * 1024
		numPart = strings.TrimSuffix(lower, "tb")
	case strings.HasSuffix(lower, "t"):
		multiplier = 1024 * 1024 * 1024 * 1024
		numPart = strings.TrimSuffix(lower, "t")
	}

	numPart = strings.TrimSpace(numPart)
	value, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, errors.New("invalid size string: " + size)
	}

	return int64(value * float64(multiplier)), nil
}
