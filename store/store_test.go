package store

import (
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// makeDataDir builds the mobile / bass_hopper_rainbow setup on disk.
func makeDataDir(t *testing.T) string {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ProfilesDir, "mobile.json"), `{"lights": [
	  {"name": "rockville1", "type": "rockville"},
	  {"name": "rockville2", "type": "rockville"},
	  {"name": "rockville3", "type": "rockville"},
	  {"name": "rockville4", "type": "rockville", "start_channel": 400}
	]}`)
	writeFile(t, filepath.Join(dir, ProfilesDir, "club.json"), `{"lights": [{"name": "rgb1", "type": "rgb"}]}`)
	writeFile(t, filepath.Join(dir, ScenesDir, "bass_hopper_rainbow.json"), `{
	  "name": "bass_hopper_rainbow", "midi": 61,
	  "lights": [
	    {"name": "rgb1", "type": "rgb", "modulator": "mfft", "mfft_range": [0, 10], "power_range": [0.1, 0.5], "color": "red"},
	    {"name": "rgb8", "type": "rgb", "modulator": "mfft", "mfft_range": [0, 10], "power_range": [0.1, 0.5], "color": "blue"}
	  ],
	  "orchestrator": {"type": "hopper", "config": {"target_lights": ["rgb1", "rgb8"], "trigger": {"mfft_range": [0, 4], "threshold": 0.5}}}
	}`)
	writeFile(t, filepath.Join(dir, ScenesDir, "supernova.json"), `{
	  "name": "supernova", "midi": 62, "key_command": "s",
	  "lights": [{"name": "rockville1", "type": "rockville", "modulator": "time", "function": "sine", "frequency": 1}]
	}`)
	// name is taken from the file
	writeFile(t, filepath.Join(dir, ScenesDir, "party.json"), `{
	  "lights": [{"name": "rockville2", "type": "rockville", "modulator": "bool", "color": "random"}]
	}`)
	writeFile(t, filepath.Join(dir, FallbacksFile), `{
	  "_comment": "scene substitutions per profile",
	  "mobile": {"bass_hopper_rainbow": "supernova", "party": "does_not_exist"},
	  "club": {"supernova": "party"}
	}`)
	writeFile(t, filepath.Join(dir, MappingFile), `{"0": "party", "1": "supernova", "2": "bass_hopper_rainbow"}`)
	return dir
}

func TestLoad(t *testing.T) {
	dir := makeDataDir(t)

	data, err := Load(dir, "mobile")
	require.NoError(t, err)

	assert.Equal(t, "mobile", data.Profile.Name)
	assert.Len(t, data.Profile.Fixtures, 4)
	assert.Equal(t, 40, data.Profile.Fixtures["rockville2"].StartChannel)
	assert.Equal(t, 400, data.Profile.Fixtures["rockville4"].StartChannel)

	assert.Equal(t, 3, data.Library.Len())
	_, ok := data.Library.Get("party")
	assert.True(t, ok, "scene name falls back to the file name")
	assert.Equal(t, []string{"bass_hopper_rainbow", "supernova", "party"}, data.Library.Names())

	assert.Equal(t, "supernova", data.Fallbacks["bass_hopper_rainbow"])
	_, ok = data.Fallbacks["party"]
	assert.False(t, ok, "fallbacks to unknown scenes are dropped")
	_, ok = data.Fallbacks["supernova"]
	assert.False(t, ok, "other profiles' fallbacks must not leak")

	assert.Equal(t, map[int]string{0: "party", 1: "supernova", 2: "bass_hopper_rainbow"}, data.Mapping)
}

func TestLoad_OptionalFiles(t *testing.T) {
	dir := makeDataDir(t)
	require.NoError(t, os.Remove(filepath.Join(dir, FallbacksFile)))
	require.NoError(t, os.Remove(filepath.Join(dir, MappingFile)))

	data, err := Load(dir, "club")
	require.NoError(t, err)
	assert.Empty(t, data.Fallbacks)
	assert.Empty(t, data.Mapping)
}

func TestLoad_Errors(t *testing.T) {
	dir := makeDataDir(t)
	_, err := Load(dir, "festival")
	assert.ErrorContains(t, err, "failed to load profile festival")

	writeFile(t, filepath.Join(dir, ScenesDir, "broken.json"), `{"name": "broken", "lights": [{"name": "a", "type": "rgb", "modulator": "warp"}]}`)
	_, err = Load(dir, "mobile")
	assert.ErrorContains(t, err, "unknown modulator")

	dir = makeDataDir(t)
	writeFile(t, filepath.Join(dir, MappingFile), `{"zero": "party"}`)
	_, err = Load(dir, "mobile")
	assert.ErrorContains(t, err, "not a cluster id")
}

func TestListProfiles(t *testing.T) {
	dir := makeDataDir(t)
	names, err := ListProfiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"club", "mobile"}, names)

	_, err = Load(dir, "stadium")
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.ErrorContains(t, err, "available: club, mobile")
}

func TestWatcher_Debounces(t *testing.T) {
	dir := makeDataDir(t)
	var calls atomic.Int32
	w, err := NewWatcher(dir, nil, 50*time.Millisecond, func() { calls.Add(1) })
	require.NoError(t, err)
	defer w.Close()

	for i := range 5 {
		writeFile(t, filepath.Join(dir, ScenesDir, "party.json"), `{"lights": []}`+string(rune('a'+i)))
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "a burst of writes triggers a single reload")

	// unrelated files are ignored
	writeFile(t, filepath.Join(dir, "notes.txt"), "hello")
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close(), "second close is a no-op")
}
