package scene

import (
	"cmp"
	"fmt"
	"slices"
)

// Library is an immutable, indexed set of scenes. A reload builds a new
// Library instead of mutating the old one.
type Library struct {
	scenes map[string]*Scene
	names  []string
	byKey  map[string]string
	byMidi map[int]string
}

// NewLibrary indexes scenes. Duplicate names or key commands are errors.
func NewLibrary(scenes []*Scene) (*Library, error) {
	lib := &Library{
		scenes: make(map[string]*Scene, len(scenes)),
		byKey:  make(map[string]string),
		byMidi: make(map[int]string),
	}
	for _, s := range scenes {
		if _, dup := lib.scenes[s.Name]; dup {
			return nil, fmt.Errorf("duplicate scene %q", s.Name)
		}
		lib.scenes[s.Name] = s
		if s.KeyCommand != "" {
			if other, dup := lib.byKey[s.KeyCommand]; dup {
				return nil, fmt.Errorf("scenes %q and %q share key command %q", other, s.Name, s.KeyCommand)
			}
			lib.byKey[s.KeyCommand] = s.Name
		}
		if s.Midi > 0 {
			lib.byMidi[s.Midi] = s.Name
		}
	}

	// ordered by MIDI note, unnumbered scenes last, then by name
	lib.names = make([]string, 0, len(scenes))
	for _, s := range scenes {
		lib.names = append(lib.names, s.Name)
	}
	slices.SortFunc(lib.names, func(a, b string) int {
		ma, mb := lib.scenes[a].Midi, lib.scenes[b].Midi
		if (ma > 0) != (mb > 0) {
			if ma > 0 {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(ma, mb); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	return lib, nil
}

// Get returns the named scene.
func (l *Library) Get(name string) (*Scene, bool) {
	s, ok := l.scenes[name]
	return s, ok
}

// Names returns all scene names in display order.
func (l *Library) Names() []string {
	return slices.Clone(l.names)
}

// ByKey returns the scene bound to a key command.
func (l *Library) ByKey(key string) (string, bool) {
	name, ok := l.byKey[key]
	return name, ok
}

// ByMidi returns the scene bound to a MIDI note.
func (l *Library) ByMidi(note int) (string, bool) {
	name, ok := l.byMidi[note]
	return name, ok
}

// Len returns the number of scenes.
func (l *Library) Len() int {
	return len(l.scenes)
}

// DefaultScene returns preferred if it exists, otherwise the first scene in
// display order. It returns "" for an empty library.
func (l *Library) DefaultScene(preferred string) string {
	if _, ok := l.scenes[preferred]; ok {
		return preferred
	}
	if len(l.names) > 0 {
		return l.names[0]
	}
	return ""
}
