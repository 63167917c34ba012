// Package classify assigns a role to each spreadsheet column based on the
// background fill of its header cell.
//
// The convention comes from the workbook template: blue headers (#4472C4)
// mark PUSH columns the collector writes, unfilled or white headers mark
// PULL columns the user writes. Anything else is UNKNOWN and excluded from
// both watch sets.
package classify

import (
	"strconv"
	"strings"
)

// Role is the intent assigned to a column.
type Role int

const (
	// RoleUnknown marks a column with an unrecognized header color.
	// Unknown columns are excluded from watching entirely.
	RoleUnknown Role = iota
	// RolePush marks a system-written column.
	RolePush
	// RolePull marks a user-written column.
	RolePull
)

// String returns a human-readable representation of the role.
func (r Role) String() string {
	switch r {
	case RolePush:
		return "PUSH"
	case RolePull:
		return "PULL"
	default:
		return "UNKNOWN"
	}
}

// Strategy resolves a header fill color to a column role.
//
// It is pluggable so the exact thresholds can be swapped or tested in
// isolation from the watcher.
type Strategy interface {
	// Classify maps a hex RGB color (with or without leading '#', ARGB
	// accepted) to a Role. An empty string means "no fill".
	Classify(hexRGB string) Role
}

// PushColor is the reference header fill for PUSH columns.
const PushColor = "4472C4"

// ReferenceColors is the default Strategy. It matches the reference PUSH
// blue exactly or within a blue-dominant tolerance band, treats no-fill and
// near-white as PULL, and everything else as UNKNOWN.
type ReferenceColors struct {
	// MinBlue is the minimum blue channel for the tolerance band.
	MinBlue uint8
	// MaxRed and MaxGreen bound the other channels in the tolerance band.
	MaxRed   uint8
	MaxGreen uint8
	// WhiteFloor is the minimum per-channel value for near-white.
	WhiteFloor uint8
}

// DefaultStrategy returns a ReferenceColors strategy with the thresholds
// tuned for the workbook template palette.
func DefaultStrategy() *ReferenceColors {
	return &ReferenceColors{
		MinBlue:    0xA0,
		MaxRed:     0x80,
		MaxGreen:   0xA0,
		WhiteFloor: 0xF0,
	}
}

// Classify implements Strategy.
func (s *ReferenceColors) Classify(hexRGB string) Role {
	color := normalizeColor(hexRGB)

	// No fill means the user owns the column.
	if color == "" {
		return RolePull
	}

	if color == PushColor {
		return RolePush
	}

	r, g, b, ok := splitRGB(color)
	if !ok {
		return RoleUnknown
	}

	if r >= s.WhiteFloor && g >= s.WhiteFloor && b >= s.WhiteFloor {
		return RolePull
	}

	if b >= s.MinBlue && r <= s.MaxRed && g <= s.MaxGreen {
		return RolePush
	}

	return RoleUnknown
}

// normalizeColor strips '#' and alpha prefixes and uppercases.
func normalizeColor(color string) string {
	color = strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(color), "#"))
	if len(color) == 8 {
		color = color[2:]
	}
	return color
}

// splitRGB parses a 6-digit hex color into channels.
func splitRGB(color string) (r, g, b uint8, ok bool) {
	if len(color) != 6 {
		return 0, 0, 0, false
	}
	rv, err1 := strconv.ParseUint(color[0:2], 16, 8)
	gv, err2 := strconv.ParseUint(color[2:4], 16, 8)
	bv, err3 := strconv.ParseUint(color[4:6], 16, 8)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, 0, 0, false
	}
	return uint8(rv), uint8(gv), uint8(bv), true
}
