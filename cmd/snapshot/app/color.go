package app

import (
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

const (
	hueStart = 240.0 // blue
	hueEnd   = 0.0   // red
)

var noDataColor = color.Black

// powerColor maps a power reading onto a cold-to-hot gradient between the
// observed minimum and maximum.
func powerColor(power, minPower, maxPower float64) color.Color {
	if maxPower <= minPower {
		return noDataColor
	}

	normalized := (power - minPower) / (maxPower - minPower)
	normalized = math.Max(0, math.Min(1, normalized))

	hue := hueStart - normalized*(hueStart-hueEnd)

	// Value is gamma corrected so weak signals stay visible.
	return colorful.Hsv(hue, 1, math.Pow(normalized, 0.7))
}
