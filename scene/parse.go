package scene

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RawValue is a document value that is either a number or "random".
type RawValue struct {
	Set    bool
	Random bool
	Number float64
}

func (v *RawValue) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a number or \"random\"", node.Line)
	}
	v.Set = true
	if strings.EqualFold(node.Value, "random") {
		v.Random = true
		return nil
	}
	if err := node.Decode(&v.Number); err != nil {
		return fmt.Errorf("line %d: expected a number or \"random\", got %q", node.Line, node.Value)
	}
	return nil
}

// RawFixture is a fixture entry of a profile document.
type RawFixture struct {
	Name         string `yaml:"name"`
	Type         string `yaml:"type"`
	StartChannel int    `yaml:"start_channel"`
	ChannelCount int    `yaml:"channel_count"`
}

// RawProfile is the on-disk profile document.
type RawProfile struct {
	Lights []RawFixture `yaml:"lights"`
}

// RawColor is a palette name or an [r, g, b] triple.
type RawColor struct {
	Color Color
}

func (c *RawColor) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		spec, err := ParseColor(node.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		if spec.Random {
			return fmt.Errorf("line %d: a fixed color is required", node.Line)
		}
		c.Color = spec.Color
		return nil
	case yaml.SequenceNode:
		var rgb []int
		if err := node.Decode(&rgb); err != nil || len(rgb) != 3 {
			return fmt.Errorf("line %d: expected [r, g, b]", node.Line)
		}
		for _, v := range rgb {
			if v < 0 || v > 255 {
				return fmt.Errorf("line %d: color component %d out of range", node.Line, v)
			}
		}
		c.Color = Color{byte(rgb[0]), byte(rgb[1]), byte(rgb[2])}
		return nil
	default:
		return fmt.Errorf("line %d: expected a color name or [r, g, b]", node.Line)
	}
}

type RawEffect struct {
	Type             string     `yaml:"type"`
	Name             string     `yaml:"name"`
	MfftRange        []int      `yaml:"mfft_range"`
	Threshold        float64    `yaml:"threshold"`
	FadeDuration     float64    `yaml:"fade_duration"`     // seconds
	SequenceDuration float64    `yaml:"sequence_duration"` // seconds
	MinBrightness    *float64   `yaml:"min_brightness"`
	MaxBrightness    *float64   `yaml:"max_brightness"`
	ModeSpeed        *int       `yaml:"mode_speed"`
	PanelColor       *RawColor  `yaml:"panel_color"`
	Colors           []RawColor `yaml:"colors"`
	PanelColors      []RawColor `yaml:"panel_colors"`
	BarColors        []int      `yaml:"bar_colors"`
	AffectPanel      *bool      `yaml:"affect_panel"`
	AffectBar        *bool      `yaml:"affect_bar"`
}

// RawLight is a light entry of a scene document. Which fields apply depends
// on the modulator and the fixture type.
type RawLight struct {
	Name            string     `yaml:"name"`
	Type            string     `yaml:"type"`
	Modulator       string     `yaml:"modulator"`
	MfftRange       []int      `yaml:"mfft_range"`
	PowerRange      []float64  `yaml:"power_range"`
	BrightnessRange []float64  `yaml:"brightness_range"`
	Curve           float64    `yaml:"curve"`
	Color           string     `yaml:"color"`
	Strobe          RawValue   `yaml:"strobe"`
	Brightness      RawValue   `yaml:"brightness"`
	Speed           RawValue   `yaml:"speed"`
	Colorfade       int        `yaml:"colorfade"`
	Probability     *float64   `yaml:"probability"`
	Trigger         string     `yaml:"trigger"`
	Function        string     `yaml:"function"`
	Frequency       float64    `yaml:"frequency"`
	MinBrightness   *float64   `yaml:"min_brightness"`
	MaxBrightness   *float64   `yaml:"max_brightness"`
	SpeedRange      []float64  `yaml:"speed_range"`
	Target          string     `yaml:"target"`
	Effect          *RawEffect `yaml:"effect"`
}

type RawOrchestratorConfig struct {
	TargetLights []string `yaml:"target_lights"`
	Trigger      struct {
		MfftRange []int   `yaml:"mfft_range"`
		Threshold float64 `yaml:"threshold"`
	} `yaml:"trigger"`
	Transition struct {
		Duration *float64 `yaml:"duration"` // seconds
	} `yaml:"transition"`
	Frequency float64 `yaml:"frequency"`
	Order     string  `yaml:"order"`
}

type RawOrchestrator struct {
	Type         string                `yaml:"type"`
	TargetLights []string              `yaml:"target_lights"`
	Config       RawOrchestratorConfig `yaml:"config"`
}

// RawScene is the on-disk scene document.
type RawScene struct {
	Name         string           `yaml:"name"`
	Midi         int              `yaml:"midi"`
	KeyCommand   string           `yaml:"key_command"`
	Lights       []RawLight       `yaml:"lights"`
	Orchestrator *RawOrchestrator `yaml:"orchestrator"`
}

const defaultTransition = 100 * time.Millisecond

// ParseProfile converts a profile document. Fixtures without start_channel
// are placed directly after the previous fixture, starting at channel 1.
func ParseProfile(name string, raw RawProfile) (*Profile, error) {
	p := &Profile{Name: name, Fixtures: make(map[string]Fixture, len(raw.Lights))}
	next := 1
	for i, rf := range raw.Lights {
		if rf.Name == "" {
			return nil, fmt.Errorf("profile %s: fixture %d has no name", name, i)
		}
		if p.Has(rf.Name) {
			return nil, fmt.Errorf("profile %s: duplicate fixture %s", name, rf.Name)
		}
		t := FixtureType(strings.ToLower(rf.Type))
		count := rf.ChannelCount
		if count == 0 {
			count = DefaultChannelCount(t)
		}
		if count == 0 {
			return nil, fmt.Errorf("profile %s: fixture %s of type %q needs channel_count", name, rf.Name, rf.Type)
		}
		start := rf.StartChannel
		if start == 0 {
			start = next
		}
		f := Fixture{Name: rf.Name, Type: t, StartChannel: start, ChannelCount: count}
		p.Fixtures[rf.Name] = f
		next = f.LastChannel() + 1
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// ParseScene converts a scene document into its typed form. Unknown
// modulator, waveform or orchestrator kinds are rejected.
func ParseScene(raw RawScene) (*Scene, error) {
	if raw.Name == "" {
		return nil, errors.New("scene has no name")
	}
	s := &Scene{Name: raw.Name, Midi: raw.Midi, KeyCommand: raw.KeyCommand}
	for i, rl := range raw.Lights {
		l, err := parseLight(rl)
		if err != nil {
			return nil, fmt.Errorf("scene %s: light %d (%s): %w", raw.Name, i, rl.Name, err)
		}
		s.Lights = append(s.Lights, l)
	}
	if raw.Orchestrator != nil {
		o, err := parseOrchestrator(*raw.Orchestrator)
		if err != nil {
			return nil, fmt.Errorf("scene %s: orchestrator: %w", raw.Name, err)
		}
		s.Orchestrator = o
	}
	return s, nil
}

func parseLight(rl RawLight) (Light, error) {
	if rl.Name == "" {
		return Light{}, errors.New("missing name")
	}
	l := Light{Fixture: rl.Name, Type: FixtureType(strings.ToLower(rl.Type))}
	switch l.Type {
	case Dimmer, RGB, Strobe, Rockville, Custom:
	default:
		return l, fmt.Errorf("unknown type %q", rl.Type)
	}

	switch strings.ToLower(rl.Modulator) {
	case "mfft", "fft":
		m, err := parseBand(rl)
		if err != nil {
			return l, err
		}
		l.Modulator = Modulator{Kind: FreqBand, Band: m}
	case "bool", "random":
		m, err := parseRandom(rl)
		if err != nil {
			return l, err
		}
		l.Modulator = Modulator{Kind: Boolean, Random: m}
	case "time":
		m, err := parseTime(rl)
		if err != nil {
			return l, err
		}
		l.Modulator = Modulator{Kind: TimeBased, Time: m}
	default:
		return l, fmt.Errorf("unknown modulator %q", rl.Modulator)
	}

	if rl.Effect != nil {
		e, err := parseEffect(*rl.Effect)
		if err != nil {
			return l, fmt.Errorf("effect: %w", err)
		}
		if e.Overrides() && l.Type != Rockville {
			return l, fmt.Errorf("effect %s needs a rockville light, got %q", e.Kind, l.Type)
		}
		l.Effect = e
	}
	return l, nil
}

func parseBand(rl RawLight) (*BandModulator, error) {
	bins, err := parseBins(rl.MfftRange)
	if err != nil {
		return nil, err
	}
	if len(rl.PowerRange) != 2 {
		return nil, errors.New("power_range needs two values")
	}
	power := Range{rl.PowerRange[0], rl.PowerRange[1]}
	if power.Max < power.Min {
		return nil, fmt.Errorf("power_range %v is inverted", rl.PowerRange)
	}
	bright, err := parseByteRange(rl.BrightnessRange, nil, nil)
	if err != nil {
		return nil, err
	}
	curve := rl.Curve
	if curve == 0 {
		curve = 1
	}
	if curve < 0 {
		return nil, fmt.Errorf("curve must be positive, got %v", curve)
	}
	color, err := ParseColor(rl.Color)
	if err != nil {
		return nil, err
	}
	strobe, err := fixedByte(rl.Strobe, "strobe")
	if err != nil {
		return nil, err
	}
	return &BandModulator{Bins: bins, Power: power, Brightness: bright, Curve: curve, Color: color, Strobe: strobe}, nil
}

func parseRandom(rl RawLight) (*RandomModulator, error) {
	m := &RandomModulator{Probability: 1}
	var err error
	if m.Brightness, err = toValue(rl.Brightness, "brightness", 255); err != nil {
		return nil, err
	}
	if m.Strobe, err = toValue(rl.Strobe, "strobe", 0); err != nil {
		return nil, err
	}
	if m.Speed, err = toValue(rl.Speed, "speed", 255); err != nil {
		return nil, err
	}
	if rl.Colorfade < 0 || rl.Colorfade > 255 {
		return nil, fmt.Errorf("colorfade must be between 0 and 255, got %d", rl.Colorfade)
	}
	m.Colorfade = byte(rl.Colorfade)
	if m.Color, err = ParseColor(rl.Color); err != nil {
		return nil, err
	}
	if rl.Probability != nil {
		m.Probability = *rl.Probability
	}
	if m.Probability < 0 || m.Probability > 1 {
		return nil, fmt.Errorf("probability must be between 0 and 1, got %v", m.Probability)
	}
	switch strings.ToLower(rl.Trigger) {
	case "", "tick":
		m.Trigger = PerTick
	case "event":
		m.Trigger = PerEvent
	default:
		return nil, fmt.Errorf("unknown trigger %q", rl.Trigger)
	}
	return m, nil
}

var waveforms = map[string]Waveform{
	"sine":              Sine,
	"square":            Square,
	"triangle":          Triangle,
	"sawtooth_forward":  SawtoothForward,
	"sawtooth_backward": SawtoothBackward,
}

func parseTime(rl RawLight) (*TimeModulator, error) {
	wf, ok := waveforms[strings.ToLower(rl.Function)]
	if !ok {
		return nil, fmt.Errorf("unknown function %q", rl.Function)
	}
	if rl.Frequency <= 0 {
		return nil, fmt.Errorf("frequency must be positive, got %v", rl.Frequency)
	}
	bright, err := parseByteRange(rl.BrightnessRange, rl.MinBrightness, rl.MaxBrightness)
	if err != nil {
		return nil, err
	}
	speed, err := parseByteRange(rl.SpeedRange, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("speed_range: %w", err)
	}
	var target StrobeTarget
	switch strings.ToLower(rl.Target) {
	case "", "speed":
		target = TargetSpeed
	case "brightness":
		target = TargetBrightness
	case "both":
		target = TargetBoth
	default:
		return nil, fmt.Errorf("unknown target %q", rl.Target)
	}
	color, err := ParseColor(rl.Color)
	if err != nil {
		return nil, err
	}
	strobe, err := toValue(rl.Strobe, "strobe", 0)
	if err != nil {
		return nil, err
	}
	return &TimeModulator{Waveform: wf, Frequency: rl.Frequency, Brightness: bright, Speed: speed, Target: target, Color: color, Strobe: strobe}, nil
}

var effectKinds = map[string]EffectKind{
	"fade":                        Fade,
	"rockville_panel_fade":        PanelFade,
	"rockville_sequential_panels": SequentialPanels,
	"rockville_splatter":          Splatter,
}

func parseEffect(re RawEffect) (*Effect, error) {
	name := re.Type
	if name == "" {
		name = re.Name
	}
	kind, ok := effectKinds[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown effect %q", name)
	}
	bins, err := parseBins(re.MfftRange)
	if err != nil {
		return nil, err
	}
	bright, err := parseByteRange(nil, re.MinBrightness, re.MaxBrightness)
	if err != nil {
		return nil, err
	}
	threshold := re.Threshold
	if threshold == 0 {
		threshold = 0.5
	}
	d := re.FadeDuration
	if kind == SequentialPanels {
		d = re.SequenceDuration
	}
	if d == 0 {
		d = 1
	}
	if d < 0 {
		return nil, fmt.Errorf("%s duration must be positive, got %v", kind, d)
	}
	e := &Effect{
		Kind:        kind,
		Bins:        bins,
		Threshold:   threshold,
		Duration:    seconds(d),
		Brightness:  bright,
		PanelColor:  Color{255, 255, 255},
		ModeSpeed:   255,
		AffectPanel: re.AffectPanel == nil || *re.AffectPanel,
		AffectBar:   re.AffectBar == nil || *re.AffectBar,
	}
	if re.PanelColor != nil {
		e.PanelColor = re.PanelColor.Color
	}
	if re.ModeSpeed != nil {
		if *re.ModeSpeed < 0 || *re.ModeSpeed > 255 {
			return nil, fmt.Errorf("mode_speed must be between 0 and 255, got %d", *re.ModeSpeed)
		}
		e.ModeSpeed = byte(*re.ModeSpeed)
	}
	switch kind {
	case SequentialPanels:
		e.Colors = colors(re.Colors, []Color{{255, 0, 0}, {0, 255, 0}, {0, 0, 255}})
	case Splatter:
		e.Colors = colors(re.PanelColors, []Color{{255, 0, 255}, {0, 255, 0}})
		e.BarLevels = []byte{0, 255}
		if len(re.BarColors) > 0 {
			e.BarLevels = make([]byte, len(re.BarColors))
			for i, v := range re.BarColors {
				if v < 0 || v > 255 {
					return nil, fmt.Errorf("bar_colors value %d out of range", v)
				}
				e.BarLevels[i] = byte(v)
			}
		}
	}
	return e, nil
}

func colors(raw []RawColor, def []Color) []Color {
	if len(raw) == 0 {
		return def
	}
	out := make([]Color, len(raw))
	for i, c := range raw {
		out[i] = c.Color
	}
	return out
}

func parseOrchestrator(ro RawOrchestrator) (*Orchestrator, error) {
	targets := ro.TargetLights
	if len(targets) == 0 {
		targets = ro.Config.TargetLights
	}
	if len(targets) == 0 {
		return nil, errors.New("no target_lights")
	}
	transition := defaultTransition
	if d := ro.Config.Transition.Duration; d != nil {
		if *d <= 0 {
			return nil, fmt.Errorf("transition duration must be positive, got %v", *d)
		}
		transition = seconds(*d)
	}

	o := &Orchestrator{Targets: append([]string(nil), targets...)}
	switch strings.ToLower(ro.Type) {
	case "hopper":
		bins, err := parseBins(ro.Config.Trigger.MfftRange)
		if err != nil {
			return nil, fmt.Errorf("trigger: %w", err)
		}
		o.Kind = Hopper
		o.Hopper = &HopperConfig{Trigger: bins, Threshold: ro.Config.Trigger.Threshold, Transition: transition}
	case "racer":
		freq := ro.Config.Frequency
		if freq == 0 {
			freq = 4
		}
		if freq < 0 {
			return nil, fmt.Errorf("frequency must be positive, got %v", freq)
		}
		var order Order
		switch strings.ToLower(ro.Config.Order) {
		case "", "forward":
			order = Forward
		case "reverse":
			order = Reverse
		case "alternating":
			order = Alternating
		case "random":
			order = RandomOrder
		default:
			return nil, fmt.Errorf("unknown order %q", ro.Config.Order)
		}
		o.Kind = Racer
		o.Racer = &RacerConfig{Frequency: freq, Order: order, Transition: transition}
	default:
		return nil, fmt.Errorf("unknown orchestrator %q", ro.Type)
	}
	return o, nil
}

// parseBins accepts an empty range (all bins) or [lo, hi) with lo < hi.
func parseBins(r []int) (BinRange, error) {
	switch len(r) {
	case 0:
		return BinRange{}, nil
	case 2:
		if r[0] < 0 || r[1] <= r[0] {
			return BinRange{}, fmt.Errorf("mfft_range %v must satisfy 0 <= lo < hi", r)
		}
		return BinRange{Lo: r[0], Hi: r[1]}, nil
	default:
		return BinRange{}, fmt.Errorf("mfft_range needs two values, got %d", len(r))
	}
}

// parseByteRange reads a [min, max] pair, or min/max fields, defaulting to
// the full 0-255 range.
func parseByteRange(pair []float64, lo, hi *float64) (Range, error) {
	r := Range{0, 255}
	switch len(pair) {
	case 0:
	case 2:
		r = Range{pair[0], pair[1]}
	default:
		return r, fmt.Errorf("range needs two values, got %d", len(pair))
	}
	if lo != nil {
		r.Min = *lo
	}
	if hi != nil {
		r.Max = *hi
	}
	if r.Min < 0 || r.Max > 255 || r.Min > r.Max {
		return r, fmt.Errorf("range [%v, %v] must be between 0 and 255", r.Min, r.Max)
	}
	return r, nil
}

func toValue(v RawValue, name string, def byte) (Value, error) {
	if !v.Set {
		return Value{Fixed: def}, nil
	}
	if v.Random {
		return Value{Random: true}, nil
	}
	if v.Number < 0 || v.Number > 255 {
		return Value{}, fmt.Errorf("%s must be between 0 and 255, got %v", name, v.Number)
	}
	return Value{Fixed: byte(math.Round(v.Number))}, nil
}

func fixedByte(v RawValue, name string) (byte, error) {
	if v.Random {
		return 0, fmt.Errorf("%s cannot be random for this modulator", name)
	}
	val, err := toValue(v, name, 0)
	return val.Fixed, err
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
