package scene

import (
	"fmt"
	"strings"
)

// Color is an RGB triple.
type Color struct {
	R, G, B byte
}

// Palette is the named color set scenes may refer to.
var Palette = []Color{
	{255, 0, 0},     // red
	{255, 127, 0},   // orange
	{255, 255, 0},   // yellow
	{0, 255, 0},     // green
	{0, 0, 255},     // blue
	{75, 0, 130},    // purple
	{255, 0, 255},   // pink
	{255, 255, 255}, // white
}

var ColorNames = []string{"red", "orange", "yellow", "green", "blue", "purple", "pink", "white"}

// ColorSpec is a palette color or "random".
type ColorSpec struct {
	Random bool
	Color  Color
}

// ParseColor accepts a palette name or "random". An empty string is random.
func ParseColor(name string) (ColorSpec, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == "random" {
		return ColorSpec{Random: true}, nil
	}
	for i, n := range ColorNames {
		if n == name {
			return ColorSpec{Color: Palette[i]}, nil
		}
	}
	return ColorSpec{}, fmt.Errorf("unknown color %q", name)
}
