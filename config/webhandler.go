package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

const maxConfigBody = 1 << 20

// RuntimeConfig is the part of the configuration that may be changed while
// the engine runs. Audio devices, the serial port and logging are excluded.
type RuntimeConfig struct {
	Prediction PredictionConfig `yaml:"Prediction" json:"Prediction"`
	Modulation ModulationConfig `yaml:"Modulation" json:"Modulation"`
	Control    ControlConfig    `yaml:"Control" json:"Control"`
}

// Runtime returns the runtime editable sections.
func (c *Config) Runtime() RuntimeConfig {
	return RuntimeConfig{Prediction: c.Prediction, Modulation: c.Modulation, Control: c.Control}
}

// SetRuntime replaces the runtime editable sections.
func (c *Config) SetRuntime(rc RuntimeConfig) {
	c.Prediction = rc.Prediction
	c.Modulation = rc.Modulation
	c.Control = rc.Control
}

// ConfigEndpoint serves the runtime sections of a config file. GET returns
// them as JSON; PUT or POST merges a JSON document into them, validates the
// whole file and saves it. onSaved runs after every successful save.
type ConfigEndpoint struct {
	file    string
	onSaved func()
	mu      sync.Mutex
}

func NewConfigEndpoint(file string, onSaved func()) *ConfigEndpoint {
	return &ConfigEndpoint{file: file, onSaved: onSaved}
}

func (e *ConfigEndpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		conf, err := ReadConfig(e.file)
		if err != nil {
			slog.Error("Can't read config for the API", "error", err)
			http.Error(w, "failed to read configuration", http.StatusInternalServerError)
			return
		}
		writeRuntime(w, conf.Runtime())
	case http.MethodPut, http.MethodPost:
		e.update(w, r)
	default:
		w.Header().Set("Allow", "GET, PUT, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (e *ConfigEndpoint) update(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()

	conf, err := ReadConfig(e.file)
	if err != nil {
		slog.Error("Can't read config for update", "error", err)
		http.Error(w, "failed to read configuration", http.StatusInternalServerError)
		return
	}
	rc := conf.Runtime()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxConfigBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rc); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	conf.SetRuntime(rc)
	if err := conf.Validate(); err != nil {
		http.Error(w, fmt.Sprintf("invalid configuration: %v", err), http.StatusBadRequest)
		return
	}
	if err := save(e.file, conf); err != nil {
		slog.Error("Can't save config", "error", err)
		http.Error(w, "failed to save configuration", http.StatusInternalServerError)
		return
	}
	slog.Info("Configuration saved through the API", "file", e.file)
	if e.onSaved != nil {
		e.onSaved()
	}
	writeRuntime(w, rc)
}

func writeRuntime(w http.ResponseWriter, rc RuntimeConfig) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rc); err != nil {
		slog.Debug("Writing config response", "error", err)
	}
}

// save replaces file via a temporary file in the same directory so readers
// never see a partial document.
func save(file string, conf *Config) error {
	data, err := yaml.Marshal(conf)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(file), ".golights-*.yml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), file)
}
