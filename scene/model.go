// Package scene holds the immutable lighting data the engine works on:
// profiles, scenes with their modulators and orchestrators, fallback maps,
// and the resolver that decides which scene is actually rendered.
package scene

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/exp/maps"
)

// FixtureType selects the channel layout of a fixture.
type FixtureType string

const (
	Dimmer    FixtureType = "dimmer"    // [brightness]
	RGB       FixtureType = "rgb"       // [brightness, red, green, blue, strobe, colorfade]
	Strobe    FixtureType = "strobe"    // [speed, brightness]
	Rockville FixtureType = "rockville" // 39 channel panel, driven with the rgb layout
	Custom    FixtureType = "custom"    // explicit channel count, driven with the rgb layout
)

// DefaultChannelCount returns the channel count implied by the type, 0 if the
// type needs an explicit count.
func DefaultChannelCount(t FixtureType) int {
	switch t {
	case Dimmer:
		return 1
	case RGB:
		return 6
	case Strobe:
		return 2
	case Rockville:
		return 39
	default:
		return 0
	}
}

// Fixture is one addressable device. StartChannel is 1-based.
type Fixture struct {
	Name         string
	Type         FixtureType
	StartChannel int
	ChannelCount int
}

// LastChannel returns the highest DMX channel occupied by the fixture.
func (f Fixture) LastChannel() int {
	return f.StartChannel + f.ChannelCount - 1
}

// Profile is the set of fixtures present in one deployment.
type Profile struct {
	Name     string
	Fixtures map[string]Fixture
}

// Has reports whether the profile contains the named fixture.
func (p *Profile) Has(name string) bool {
	_, ok := p.Fixtures[name]
	return ok
}

// FixtureNames returns the fixture names ordered by start channel.
func (p *Profile) FixtureNames() []string {
	names := maps.Keys(p.Fixtures)
	slices.SortFunc(names, func(a, b string) int {
		if d := p.Fixtures[a].StartChannel - p.Fixtures[b].StartChannel; d != 0 {
			return d
		}
		return strings.Compare(a, b)
	})
	return names
}

// Validate checks channel ranges and overlaps.
func (p *Profile) Validate() error {
	names := p.FixtureNames()
	for i, name := range names {
		f := p.Fixtures[name]
		if f.ChannelCount < 1 {
			return fmt.Errorf("profile %s: fixture %s has no channels", p.Name, name)
		}
		if f.StartChannel < 1 || f.LastChannel() > 512 {
			return fmt.Errorf("profile %s: fixture %s occupies channels %d-%d, must be within 1-512", p.Name, name, f.StartChannel, f.LastChannel())
		}
		if i > 0 {
			prev := p.Fixtures[names[i-1]]
			if prev.LastChannel() >= f.StartChannel {
				return fmt.Errorf("profile %s: fixtures %s and %s overlap at channel %d", p.Name, prev.Name, name, f.StartChannel)
			}
		}
	}
	return nil
}

// Range is a closed numeric interval.
type Range struct {
	Min float64
	Max float64
}

// BinRange selects spectrum bins [Lo, Hi).
type BinRange struct {
	Lo int
	Hi int
}

// Value is a channel value that is either fixed or drawn at random.
type Value struct {
	Random bool
	Fixed  byte
}

// ModulatorKind tags the Modulator variant.
type ModulatorKind int

const (
	FreqBand ModulatorKind = iota + 1
	Boolean
	TimeBased
)

func (k ModulatorKind) String() string {
	switch k {
	case FreqBand:
		return "mfft"
	case Boolean:
		return "bool"
	case TimeBased:
		return "time"
	default:
		return fmt.Sprintf("ModulatorKind(%d)", int(k))
	}
}

// Modulator is a closed variant: exactly the field matching Kind is set.
type Modulator struct {
	Kind   ModulatorKind
	Band   *BandModulator
	Random *RandomModulator
	Time   *TimeModulator
}

// BandModulator maps the mean energy of a bin range through a power curve
// into a brightness range. Strobe fixtures fire when the energy reaches
// Power.Min.
type BandModulator struct {
	Bins       BinRange
	Power      Range
	Brightness Range
	Curve      float64 // exponent, 1 is linear
	Color      ColorSpec
	Strobe     byte
}

// TriggerMode says when a random modulator draws new values.
type TriggerMode int

const (
	PerTick  TriggerMode = iota // fresh draw on every tick the gate opens
	PerEvent                    // hold the draw until the gate opens again
)

// RandomModulator produces random or fixed values gated by Probability.
type RandomModulator struct {
	Brightness  Value
	Color       ColorSpec
	Strobe      Value
	Colorfade   byte
	Speed       Value // strobe fixtures
	Probability float64
	Trigger     TriggerMode
}

// Waveform is a periodic function with range [0, 1].
type Waveform int

const (
	Sine Waveform = iota
	Square
	Triangle
	SawtoothForward
	SawtoothBackward
)

// StrobeTarget picks which strobe channel a time modulator drives.
type StrobeTarget int

const (
	TargetSpeed StrobeTarget = iota
	TargetBrightness
	TargetBoth
)

// TimeModulator evaluates a waveform on wall clock time.
type TimeModulator struct {
	Waveform   Waveform
	Frequency  float64 // Hz
	Brightness Range
	Speed      Range
	Target     StrobeTarget
	Color      ColorSpec
	Strobe     Value
}

// EffectKind tags the Effect variant.
type EffectKind int

const (
	// Fade jumps to Brightness.Max when the band energy reaches Threshold
	// and decays to Brightness.Min over Duration; the result scales the
	// light's brightness.
	Fade EffectKind = iota
	// PanelFade lights all eight panel groups of a rockville fixture in
	// PanelColor and fades them like Fade.
	PanelFade
	// SequentialPanels walks Colors across the eight panel groups, one group
	// at a time, within Duration after a trigger.
	SequentialPanels
	// Splatter paints random panel groups from Colors and random bar bulbs
	// from BarLevels on every tick above Threshold.
	Splatter
)

func (k EffectKind) String() string {
	switch k {
	case Fade:
		return "fade"
	case PanelFade:
		return "rockville_panel_fade"
	case SequentialPanels:
		return "rockville_sequential_panels"
	case Splatter:
		return "rockville_splatter"
	default:
		return fmt.Sprintf("effect(%d)", int(k))
	}
}

// Effect is applied after the modulator. A Fade scales the modulator's
// output; the rockville kinds replace it with their own panel and bar
// channels.
type Effect struct {
	Kind       EffectKind
	Bins       BinRange
	Threshold  float64
	Duration   time.Duration
	Brightness Range

	PanelColor  Color
	ModeSpeed   byte
	Colors      []Color
	BarLevels   []byte
	AffectPanel bool
	AffectBar   bool
}

// Overrides reports whether the effect replaces the modulator's channels.
func (e *Effect) Overrides() bool {
	return e.Kind != Fade
}

// Light binds a modulator to one fixture.
type Light struct {
	Fixture   string
	Type      FixtureType
	Modulator Modulator
	Effect    *Effect
}

// OrchestratorKind tags the Orchestrator variant.
type OrchestratorKind int

const (
	Hopper OrchestratorKind = iota + 1
	Racer
)

func (k OrchestratorKind) String() string {
	switch k {
	case Hopper:
		return "hopper"
	case Racer:
		return "racer"
	default:
		return fmt.Sprintf("OrchestratorKind(%d)", int(k))
	}
}

// Orchestrator selects which of its target fixtures are active each tick.
type Orchestrator struct {
	Kind    OrchestratorKind
	Targets []string
	Hopper  *HopperConfig
	Racer   *RacerConfig
}

// HopperConfig moves to the next target whenever the trigger band crosses
// Threshold and at least Transition has passed since the last hop.
type HopperConfig struct {
	Trigger    BinRange
	Threshold  float64
	Transition time.Duration
}

// Order is the racer's walk through its targets.
type Order int

const (
	Forward Order = iota
	Reverse
	Alternating
	RandomOrder
)

// RacerConfig advances through the targets Frequency times per second.
type RacerConfig struct {
	Frequency  float64
	Order      Order
	Transition time.Duration
}

// Scene is an immutable named lighting configuration.
type Scene struct {
	Name         string
	Midi         int
	KeyCommand   string
	Lights       []Light
	Orchestrator *Orchestrator
}

// Fixtures returns every fixture the scene references, lights first, then
// orchestrator targets, without duplicates.
func (s *Scene) Fixtures() []string {
	seen := make(map[string]bool, len(s.Lights))
	var out []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, l := range s.Lights {
		add(l.Fixture)
	}
	if s.Orchestrator != nil {
		for _, t := range s.Orchestrator.Targets {
			add(t)
		}
	}
	return out
}

// FallbackMap forces scene substitutions for one profile.
type FallbackMap map[string]string
