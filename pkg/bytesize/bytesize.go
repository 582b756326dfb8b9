// Package bytesize renders and parses human-readable byte counts.
package bytesize

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// Units selects the unit family used when rendering sizes.
type Units string

const (
	// Binary renders powers of 1024 (KiB, MiB, ...).
	Binary Units = "binary"
	// SI renders powers of 1000 (kB, MB, ...).
	SI Units = "si"
)

// DefaultDecimals is the fractional precision used by Format.
const DefaultDecimals = 2

var (
	binarySuffixes = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB", "EiB"}
	siSuffixes     = []string{"B", "kB", "MB", "GB", "TB", "PB", "EB"}
)

// ParseUnits maps a configuration token to a unit family.
func ParseUnits(raw string) (Units, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "binary", "iec":
		return Binary, nil
	case "si", "decimal":
		return SI, nil
	default:
		return "", fmt.Errorf("unsupported size units %q", raw)
	}
}

// Format renders n with DefaultDecimals fractional digits and trailing zeros trimmed.
func Format(n uint64, units Units) string {
	return FormatDecimals(n, units, DefaultDecimals)
}

// FormatDecimals renders n using at most decimals fractional digits.
func FormatDecimals(n uint64, units Units, decimals int) string {
	base := float64(humanize.KiByte)
	suffixes := binarySuffixes
	if units == SI {
		base = float64(humanize.KByte)
		suffixes = siSuffixes
	}
	if decimals < 0 {
		decimals = 0
	}

	value := float64(n)
	exp := 0
	for value >= base && exp < len(suffixes)-1 {
		value /= base
		exp++
	}
	if exp == 0 {
		return fmt.Sprintf("%d %s", n, suffixes[0])
	}

	return humanize.FtoaWithDigits(value, decimals) + " " + suffixes[exp]
}

// Parse converts text such as "42 MB" or "1.5 KiB" into a byte count.
func Parse(raw string) (uint64, error) {
	value, err := humanize.ParseBytes(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse size %q: %w", raw, err)
	}

	return value, nil
}
