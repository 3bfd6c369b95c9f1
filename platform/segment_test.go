package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"lautenbacher.net/golights/dmx"
	"lautenbacher.net/golights/scene"
)

func testProfile() *scene.Profile {
	return &scene.Profile{Name: "test", Fixtures: map[string]scene.Fixture{
		"par":   {Name: "par", Type: scene.RGB, StartChannel: 1, ChannelCount: 6},
		"wash":  {Name: "wash", Type: scene.Dimmer, StartChannel: 10, ChannelCount: 1},
		"flash": {Name: "flash", Type: scene.Strobe, StartChannel: 11, ChannelCount: 2},
	}}
}

func TestParseSegments(t *testing.T) {
	segs := parseSegments(testProfile())
	assert.Len(t, segs, 4)

	assert.Equal(t, "par", segs[0].name)
	assert.Equal(t, 1, segs[0].first)
	assert.Equal(t, 6, segs[0].last)

	// channels 7-9 are unused
	assert.False(t, segs[1].visible)
	assert.Equal(t, 7, segs[1].first)
	assert.Equal(t, 9, segs[1].last)

	assert.Equal(t, "wash", segs[2].name)
	assert.Equal(t, "flash", segs[3].name)
	assert.Len(t, segs[3].values, 2)
}

func TestNewSegment(t *testing.T) {
	s := newSegment("x", scene.Dimmer, 9, 3, true)
	assert.Equal(t, 3, s.first, "bounds are swapped")
	assert.Equal(t, 9, s.last)

	s = newSegment("x", scene.Dimmer, -5, 600, true)
	assert.Equal(t, 1, s.first)
	assert.Equal(t, dmx.Channels, s.last)
}

func TestSetValues(t *testing.T) {
	segs := parseSegments(testProfile())
	var frame dmx.Frame
	frame.Set(1, 200)
	frame.Set(2, 255)
	frame.Set(10, 77)
	frame.Set(11, 30)
	frame.Set(12, 180)
	for _, s := range segs {
		s.setValues(&frame)
	}

	level, color := segs[0].brightness()
	assert.Equal(t, byte(200), level)
	assert.Equal(t, "[#ff0000]", color)

	level, _ = segs[2].brightness()
	assert.Equal(t, byte(77), level)

	level, _ = segs[3].brightness()
	assert.Equal(t, byte(180), level, "strobe brightness is the second channel")
	assert.Contains(t, segs[3].render(), "speed  30")
	assert.Contains(t, segs[1].render(), "···")
}

func TestScaledColor(t *testing.T) {
	assert.Equal(t, "[#303030]", scaledColor(0, 0, 0))
	assert.Equal(t, "[#ff8000]", scaledColor(100, 50, 0))
	assert.Equal(t, "[#ffffff]", scaledColor(3, 3, 3))
}
