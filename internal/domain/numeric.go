package domain

import (
	"math"
	"regexp"
	"strconv"
)

// numberPattern extracts the first numeric substring from a raw value.
// Matches plain integers, decimals, and signed forms; "12.3 mm" yields "12.3".
var numberPattern = regexp.MustCompile(`[-+]?\d*\.?\d+`)

// ToFloat coerces a raw measurement value to float64 by best-effort numeric
// extraction. Values that contain no parseable number coerce to NaN, the
// missing sentinel, never an error.
func ToFloat(s string) float64 {
	m := numberPattern.FindString(s)
	if m == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
