// Package config loads ~/.musicbox.yaml. Every field is optional; missing
// fields keep the values from Default.
package config

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/cbegin/musicbox-go/internal/effects"
	"github.com/cbegin/musicbox-go/internal/synth"
	"github.com/cbegin/musicbox-go/internal/transport"
)

const DefaultPath = "~/.musicbox.yaml"

type Config struct {
	SampleRate        int           `yaml:"sample_rate"`
	Subdivision       string        `yaml:"subdivision"`
	NoteDuration      string        `yaml:"note_duration"`
	TempoRamp         time.Duration `yaml:"tempo_ramp"`
	AudioReadyTimeout time.Duration `yaml:"audio_ready_timeout"`
	LogLevel          string        `yaml:"log_level"`
	ProjectDir        string        `yaml:"project_dir"`
	Synth             Synth         `yaml:"synth"`
	Reverb            Reverb        `yaml:"reverb"`
	Limiter           Limiter       `yaml:"limiter"`
	Autosave          Autosave      `yaml:"autosave"`
	MIDIOut           string        `yaml:"midi_out"`
	Listen            string        `yaml:"listen"`
}

type Synth struct {
	Voices       int     `yaml:"voices"`
	Attack       float64 `yaml:"attack"`
	Decay        float64 `yaml:"decay"`
	Sustain      float64 `yaml:"sustain"`
	Release      float64 `yaml:"release"`
	Gain         float64 `yaml:"gain"` // dB
	TremoloDepth float64 `yaml:"tremolo_depth"`
	TremoloRate  float64 `yaml:"tremolo_rate"`
}

type Reverb struct {
	Enabled  bool    `yaml:"enabled"`
	RoomSize float32 `yaml:"room_size"`
	Feedback float32 `yaml:"feedback"`
	Wet      float32 `yaml:"wet"`
}

type Limiter struct {
	Enabled   bool    `yaml:"enabled"`
	Threshold float32 `yaml:"threshold"` // dB
	Ratio     float32 `yaml:"ratio"`
	Release   float32 `yaml:"release"` // ms
}

type Autosave struct {
	Enabled bool          `yaml:"enabled"`
	Delay   time.Duration `yaml:"delay"`
}

func Default() Config {
	p := synth.DefaultParams()
	return Config{
		SampleRate:        48000,
		Subdivision:       "8n",
		NoteDuration:      "8n",
		TempoRamp:         100 * time.Millisecond,
		AudioReadyTimeout: 5 * time.Second,
		LogLevel:          "info",
		ProjectDir:        ".",
		Synth: Synth{
			Voices:  p.Voices,
			Attack:  p.AttackSec,
			Decay:   p.DecaySec,
			Sustain: p.SustainLvl,
			Release: p.ReleaseSec,
			Gain:    -5,
		},
		Reverb:   Reverb{Enabled: true, RoomSize: 0.3, Feedback: 0.6, Wet: 0.15},
		Limiter:  Limiter{Enabled: true, Threshold: -1, Ratio: 10, Release: 80},
		Autosave: Autosave{Enabled: true, Delay: 2 * time.Second},
		Listen:   "127.0.0.1:8080",
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath
	}
	p, err := homedir.Expand(path)
	if err != nil {
		return cfg, errors.Wrap(err, "expand config path")
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}
	return Decode(bytes.NewReader(data))
}

// Decode reads YAML over the defaults. Unknown keys are rejected so typos do
// not silently fall back to defaults.
func Decode(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Default(), errors.Wrap(err, "parse config")
	}
	if err := cfg.Validate(); err != nil {
		return Default(), err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return errors.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	sub, err := transport.ParseNotation(c.Subdivision)
	if err != nil {
		return errors.Wrap(err, "subdivision")
	}
	if !sub.Relative() {
		return errors.Errorf("subdivision %q must be tempo-relative", c.Subdivision)
	}
	if _, err := transport.ParseNotation(c.NoteDuration); err != nil {
		return errors.Wrap(err, "note_duration")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "log_level")
	}
	if c.Synth.Sustain < 0 || c.Synth.Sustain > 1 {
		return errors.Errorf("synth.sustain must be within 0..1, got %v", c.Synth.Sustain)
	}
	if c.Autosave.Enabled && c.Autosave.Delay <= 0 {
		return errors.New("autosave.delay must be positive")
	}
	return nil
}

// Level is the parsed log level; Validate has already checked it.
func (c Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

func (c Config) SubdivisionNotation() transport.Notation {
	n, err := transport.ParseNotation(c.Subdivision)
	if err != nil {
		return transport.MustParseNotation("8n")
	}
	return n
}

func (c Config) NoteDurationNotation() transport.Notation {
	n, err := transport.ParseNotation(c.NoteDuration)
	if err != nil {
		return transport.MustParseNotation("8n")
	}
	return n
}

func (c Config) SynthParams() synth.Params {
	p := synth.DefaultParams()
	p.Voices = c.Synth.Voices
	p.AttackSec = c.Synth.Attack
	p.DecaySec = c.Synth.Decay
	p.SustainLvl = c.Synth.Sustain
	p.ReleaseSec = c.Synth.Release
	p.MasterGain = synth.DecibelsToGain(c.Synth.Gain)
	p.TremoloDepth = c.Synth.TremoloDepth
	p.TremoloRate = c.Synth.TremoloRate
	return p
}

// Effects builds the master bus; nil when every effect is disabled.
func (c Config) Effects() *effects.Chain {
	chain := effects.NewChain()
	if c.Reverb.Enabled {
		chain.Add(effects.NewReverb(c.SampleRate, c.Reverb.RoomSize, c.Reverb.Feedback, c.Reverb.Wet))
	}
	if c.Limiter.Enabled {
		chain.Add(effects.NewLimiter(c.SampleRate, c.Limiter.Threshold, c.Limiter.Ratio, c.Limiter.Release))
	}
	if chain.Len() == 0 {
		return nil
	}
	return chain
}
