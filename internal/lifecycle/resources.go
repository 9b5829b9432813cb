package lifecycle

import (
	"fmt"
	"strconv"
	"strings"
)

// parseMemory parses a human resource-limit string ("512m", "2g", "256Mi")
// into bytes. An empty string yields 0 (no limit).
func parseMemory(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	s = strings.ToLower(s)

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(s, "kib"), strings.HasSuffix(s, "ki"):
		multiplier = 1024
		s = trimAnySuffix(s, "kib", "ki")
	case strings.HasSuffix(s, "mib"), strings.HasSuffix(s, "mi"), strings.HasSuffix(s, "m"):
		multiplier = 1024 * 1024
		s = trimAnySuffix(s, "mib", "mi", "m")
	case strings.HasSuffix(s, "gib"), strings.HasSuffix(s, "gi"), strings.HasSuffix(s, "g"):
		multiplier = 1024 * 1024 * 1024
		s = trimAnySuffix(s, "gib", "gi", "g")
	case strings.HasSuffix(s, "kb"), strings.HasSuffix(s, "k"):
		multiplier = 1000
		s = trimAnySuffix(s, "kb", "k")
	case strings.HasSuffix(s, "mb"):
		multiplier = 1000 * 1000
		s = strings.TrimSuffix(s, "mb")
	case strings.HasSuffix(s, "gb"):
		multiplier = 1000 * 1000 * 1000
		s = strings.TrimSuffix(s, "gb")
	case strings.HasSuffix(s, "b"):
		s = strings.TrimSuffix(s, "b")
	}

	val, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("parse memory limit %q: %w", s, err)
	}
	return int64(val * float64(multiplier)), nil
}

// parseCPU parses a human CPU-limit string ("0.5", "2") into fractional
// cores. An empty string yields 0 (no limit).
func parseCPU(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse cpu limit %q: %w", s, err)
	}
	return v, nil
}

func trimAnySuffix(s string, suffixes ...string) string {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return strings.TrimSuffix(s, suf)
		}
	}
	return s
}
