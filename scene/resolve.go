package scene

import (
	"errors"
	"fmt"
)

var ErrUnknownScene = errors.New("unknown scene")

// Resolution is the outcome of resolving a requested scene name.
type Resolution struct {
	Requested string
	Name      string
	Scene     *Scene
	// Forced is set when a fallback entry replaced the requested scene.
	Forced bool
	// Incompatible is set when the rendered scene shares no fixture with
	// the profile. Such a scene is still rendered; it just lights nothing.
	Incompatible bool
}

// Flagged reports whether the rendered scene differs from a plain,
// compatible rendering of the request.
func (r Resolution) Flagged() bool {
	return r.Forced || r.Incompatible
}

// Resolve maps a requested scene name to the scene that is rendered.
//
// A fallback entry always wins, even for scenes that are compatible with the
// profile. Without one, the requested scene is used as is and marked
// Incompatible when none of its fixtures exist in the profile. Fallbacks are
// applied once; the substitute is not looked up in the fallback map again.
func Resolve(requested string, lib *Library, profile *Profile, fallbacks FallbackMap) (Resolution, error) {
	res := Resolution{Requested: requested, Name: requested}

	if substitute, ok := fallbacks[requested]; ok {
		s, found := lib.Get(substitute)
		if !found {
			return res, fmt.Errorf("%w: fallback %q for %q", ErrUnknownScene, substitute, requested)
		}
		res.Name = substitute
		res.Scene = s
		res.Forced = true
		res.Incompatible = !Compatible(s, profile)
		return res, nil
	}

	s, found := lib.Get(requested)
	if !found {
		return res, fmt.Errorf("%w: %q", ErrUnknownScene, requested)
	}
	res.Scene = s
	res.Incompatible = !Compatible(s, profile)
	return res, nil
}

// Compatible reports whether the scene references at least one fixture of
// the profile.
func Compatible(s *Scene, profile *Profile) bool {
	for _, name := range s.Fixtures() {
		if profile.Has(name) {
			return true
		}
	}
	return false
}
