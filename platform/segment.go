package platform

import (
	"fmt"
	"math"
	"strings"

	"lautenbacher.net/golights/dmx"
	"lautenbacher.net/golights/scene"
)

// segment is a run of DMX channels shown as one block: a fixture of the
// profile, or an unused gap between fixtures.
type segment struct {
	name    string
	typ     scene.FixtureType
	first   int
	last    int
	visible bool
	values  []byte
}

// parseSegments lays out the profile's fixtures in channel order. Gaps up to
// the last used channel become invisible segments.
func parseSegments(profile *scene.Profile) []*segment {
	var segments []*segment
	next := 1
	for _, name := range profile.FixtureNames() {
		f := profile.Fixtures[name]
		if f.StartChannel > next {
			segments = append(segments, newSegment("", "", next, f.StartChannel-1, false))
		}
		segments = append(segments, newSegment(name, f.Type, f.StartChannel, f.LastChannel(), true))
		next = f.LastChannel() + 1
	}
	return segments
}

func newSegment(name string, typ scene.FixtureType, first, last int, visible bool) *segment {
	if first > last {
		first, last = last, first
	}
	first = clamp(first)
	last = clamp(last)
	return &segment{
		name:    name,
		typ:     typ,
		first:   first,
		last:    last,
		visible: visible,
		values:  make([]byte, last-first+1),
	}
}

func clamp(channel int) int {
	return min(max(channel, 1), dmx.Channels)
}

// setValues copies the segment's channels out of frame.
func (s *segment) setValues(frame *dmx.Frame) {
	if s.visible {
		copy(s.values, frame[s.first-1:s.last])
	}
}

func (s *segment) value(i int) byte {
	if i < len(s.values) {
		return s.values[i]
	}
	return 0
}

// brightness returns the intensity and the color tag the segment is drawn
// with.
func (s *segment) brightness() (byte, string) {
	switch s.typ {
	case scene.Dimmer:
		v := s.value(0)
		return v, scaledColor(v, v, v)
	case scene.Strobe:
		v := s.value(1)
		return v, scaledColor(v, v, v)
	default:
		return s.value(0), scaledColor(s.value(1), s.value(2), s.value(3))
	}
}

// render draws one line for the fixture view.
func (s *segment) render() string {
	width := s.last - s.first + 1
	if !s.visible {
		return fmt.Sprintf(" %-12s %s", "", strings.Repeat("·", min(width, 24)))
	}
	level, color := s.brightness()
	bar := int(math.Round(float64(level) / 255 * 24))
	var extra string
	switch s.typ {
	case scene.Strobe:
		extra = fmt.Sprintf(" speed %3d", s.value(0))
	case scene.Dimmer:
	default:
		if sv := s.value(4); sv > 0 {
			extra = fmt.Sprintf(" strobe %3d", sv)
		}
	}
	return fmt.Sprintf(" %-12s %s%s[-]%s %3d @%d%s",
		s.name, color, strings.Repeat("█", bar), strings.Repeat(" ", 24-bar), level, s.first, extra)
}

// scaledColor returns the tview color tag of the hue, scaled to full
// brightness so dim colors stay recognisable.
func scaledColor(r, g, b byte) string {
	maxColor := math.Max(float64(r), math.Max(float64(g), float64(b)))
	if maxColor == 0 {
		return "[#303030]"
	}
	factor := 255 / maxColor
	scale := func(v byte) byte {
		const epsilon = 1e-9
		return byte(math.Round(math.Min(float64(v)*factor, 255) + epsilon))
	}
	return fmt.Sprintf("[#%02x%02x%02x]", scale(r), scale(g), scale(b))
}
