// Package store loads profiles, scenes, fallback maps and the cluster mapping
// from a data directory:
//
//	<dir>/profiles/<profile>.json
//	<dir>/scenes/*.json
//	<dir>/profile_fallbacks.json
//	<dir>/scene_mapping.json
//
// The documents are JSON; they are decoded with the YAML decoder, which
// accepts JSON as a subset.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"lautenbacher.net/golights/scene"
)

const (
	ProfilesDir   = "profiles"
	ScenesDir     = "scenes"
	FallbacksFile = "profile_fallbacks.json"
	MappingFile   = "scene_mapping.json"
)

// Data is everything loaded for one session. It is never modified after
// Load returns; a reload produces a new Data.
type Data struct {
	Profile   *scene.Profile
	Library   *scene.Library
	Fallbacks scene.FallbackMap
	// Mapping translates cluster ids of the predictor into scene names.
	Mapping map[int]string
}

// Load reads the data directory for the given profile. Missing fallback and
// mapping files are not errors; a missing profile or an unreadable scene is.
func Load(dir, profileName string) (*Data, error) {
	profile, err := loadProfile(dir, profileName)
	if err != nil {
		return nil, err
	}

	scenes, err := loadScenes(filepath.Join(dir, ScenesDir))
	if err != nil {
		return nil, err
	}
	lib, err := scene.NewLibrary(scenes)
	if err != nil {
		return nil, fmt.Errorf("failed to index scenes: %w", err)
	}

	fallbacks, err := loadFallbacks(filepath.Join(dir, FallbacksFile), profileName)
	if err != nil {
		return nil, err
	}
	for from, to := range fallbacks {
		if _, ok := lib.Get(to); !ok {
			slog.Warn("Dropping fallback to unknown scene", "profile", profileName, "scene", from, "fallback", to)
			delete(fallbacks, from)
		}
	}

	mapping, err := loadMapping(filepath.Join(dir, MappingFile))
	if err != nil {
		return nil, err
	}
	for id, name := range mapping {
		if _, ok := lib.Get(name); !ok {
			slog.Warn("Cluster mapped to unknown scene", "cluster", id, "scene", name)
		}
	}

	slog.Info("Loaded lighting data", "dir", dir, "profile", profileName, "fixtures", len(profile.Fixtures),
		"scenes", lib.Len(), "fallbacks", len(fallbacks), "clusters", len(mapping))
	return &Data{Profile: profile, Library: lib, Fallbacks: fallbacks, Mapping: mapping}, nil
}

// ListProfiles returns the profile names available in dir.
func ListProfiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(dir, ProfilesDir))
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, strings.TrimSuffix(e.Name(), ".json"))
		}
	}
	slices.Sort(names)
	return names, nil
}

func decodeFile(path string, out any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := yaml.NewDecoder(f).Decode(out); err != nil {
		return fmt.Errorf("can't decode %s: %w", path, err)
	}
	return nil
}

func loadProfile(dir, name string) (*scene.Profile, error) {
	path := filepath.Join(dir, ProfilesDir, name+".json")
	var raw scene.RawProfile
	if err := decodeFile(path, &raw); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if names, lerr := ListProfiles(dir); lerr == nil {
				return nil, fmt.Errorf("profile %s not found, available: %s: %w", name, strings.Join(names, ", "), err)
			}
		}
		return nil, fmt.Errorf("failed to load profile %s: %w", name, err)
	}
	return scene.ParseProfile(name, raw)
}

func loadScenes(dir string) ([]*scene.Scene, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	slices.Sort(paths)
	scenes := make([]*scene.Scene, 0, len(paths))
	for _, path := range paths {
		var raw scene.RawScene
		if err := decodeFile(path, &raw); err != nil {
			return nil, err
		}
		if raw.Name == "" {
			raw.Name = strings.TrimSuffix(filepath.Base(path), ".json")
		}
		s, err := scene.ParseScene(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		scenes = append(scenes, s)
	}
	return scenes, nil
}

// loadFallbacks reads the per-profile section of the fallback document.
// Top level keys starting with "_" are comments.
func loadFallbacks(path, profile string) (scene.FallbackMap, error) {
	var doc map[string]yaml.Node
	if err := decodeFile(path, &doc); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return scene.FallbackMap{}, nil
		}
		return nil, fmt.Errorf("failed to load fallbacks: %w", err)
	}
	node, ok := doc[profile]
	if !ok || strings.HasPrefix(profile, "_") {
		return scene.FallbackMap{}, nil
	}
	fallbacks := scene.FallbackMap{}
	if err := node.Decode(&fallbacks); err != nil {
		return nil, fmt.Errorf("failed to load fallbacks for %s: %w", profile, err)
	}
	return fallbacks, nil
}

func loadMapping(path string) (map[int]string, error) {
	var doc map[string]string
	if err := decodeFile(path, &doc); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[int]string{}, nil
		}
		return nil, fmt.Errorf("failed to load scene mapping: %w", err)
	}
	mapping := make(map[int]string, len(doc))
	for key, name := range doc {
		id, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("scene mapping key %q is not a cluster id", key)
		}
		mapping[id] = name
	}
	return mapping, nil
}
