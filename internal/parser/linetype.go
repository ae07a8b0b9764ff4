package parser

import (
	"strings"
	"unicode"

	"github.com/transitlive/livemap/pkg/core"
)

// LineType guesses the vehicle type from a Vienna-style line name:
// U1..U6 are metro lines, N-prefixed lines night buses, numbers with an A or
// B suffix buses, and plain numbers or single letters trams.
func LineType(line string) core.VehicleType {
	l := strings.ToUpper(strings.TrimSpace(line))
	switch {
	case l == "":
		return core.VehicleUnknown
	case len(l) == 2 && l[0] == 'U' && l[1] >= '1' && l[1] <= '9':
		return core.VehicleMetro
	case l[0] == 'N' && len(l) > 1 && isDigits(l[1:]):
		return core.VehicleNightBus
	case isDigits(l):
		return core.VehicleTram
	case len(l) > 1 && isDigits(l[:len(l)-1]) && (l[len(l)-1] == 'A' || l[len(l)-1] == 'B'):
		return core.VehicleBus
	case len(l) == 1 && unicode.IsLetter(rune(l[0])):
		return core.VehicleTram
	}
	return core.VehicleUnknown
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
