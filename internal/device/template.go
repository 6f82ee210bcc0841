// internal/device/template.go
package device

import (
	"math"
	"strconv"
	"strings"
)

// command holds the values substituted into a line template
type command struct {
	index     uint32
	speed     float64
	clockwise bool
	position  float64
	duration  uint32
}

// render fills tmpl with cmd, mapping unit values onto 0..scale
func render(tmpl string, scale uint32, cmd command) []byte {
	cw := "0"
	if cmd.clockwise {
		cw = "1"
	}
	r := strings.NewReplacer(
		"{index}", strconv.FormatUint(uint64(cmd.index), 10),
		"{speed}", strconv.FormatUint(uint64(scaled(cmd.speed, scale)), 10),
		"{clockwise}", cw,
		"{position}", strconv.FormatUint(uint64(scaled(cmd.position, scale)), 10),
		"{duration}", strconv.FormatUint(uint64(cmd.duration), 10),
		`\n`, "\n",
		`\r`, "\r",
	)
	return []byte(r.Replace(tmpl))
}

func scaled(v float64, scale uint32) uint32 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return scale
	}
	return uint32(math.Round(v * float64(scale)))
}

// legacyDuration converts a 0-99 launch speed and travel distance (0..1)
// into a move duration in milliseconds
func legacyDuration(distance float64, speed uint32) uint32 {
	if speed == 0 {
		speed = 1
	}
	if distance <= 0 {
		return 0
	}
	mil := math.Pow(float64(speed)/25000, -0.95)
	return uint32(math.Round(mil / (90 / (distance * 100))))
}
