package align

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultStopStrength is the cluster strength below which Extract stops
	DefaultStopStrength = 1.0

	// DefaultMinExtractInterval is the minimum time between extractions for
	// the same session (debounce).
	DefaultMinExtractInterval = 10 * time.Second
)

//go:embed config.cue
var configSchema string

// CorrelatorConfig holds the tunable thresholds of the correlator
type CorrelatorConfig struct {
	MinStrength       float64   `yaml:"minStrength" json:"minStrength"`             // Minimum pairwise strength kept by CreatePropositions
	StopStrength      float64   `yaml:"stopStrength" json:"stopStrength"`           // Extract stops at or below this strength
	MaxClusters       int       `yaml:"maxClusters" json:"maxClusters"`             // Extract iteration cap
	MinPhaseAgreement float64   `yaml:"minPhaseAgreement" json:"minPhaseAgreement"` // cos() threshold for phase checks
	MinScale          float64   `yaml:"minScale" json:"minScale"`
	MaxScale          float64   `yaml:"maxScale" json:"maxScale"`
	StrengthScale     float64   `yaml:"strengthScale" json:"strengthScale"`
	StepScales        []float64 `yaml:"stepScales" json:"stepScales"`
	MaxTweakRounds    int       `yaml:"maxTweakRounds" json:"maxTweakRounds"`
	ConsensusPasses   int       `yaml:"consensusPasses" json:"consensusPasses"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker,omitempty"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix,omitempty"`
	ClientID      string `yaml:"clientId" json:"clientId,omitempty"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// SessionConfig defines a feature-set source
type SessionConfig struct {
	ID     string `yaml:"id" json:"id"`
	Topic  string `yaml:"topic,omitempty" json:"topic,omitempty"`   // MQTT topic carrying feature sets
	APIURL string `yaml:"apiUrl,omitempty" json:"apiUrl,omitempty"` // HTTP endpoint serving feature sets
}

// Config represents the full configuration file
type Config struct {
	Correlator         CorrelatorConfig `yaml:"correlator" json:"correlator"`
	MQTT               MQTTConfig       `yaml:"mqtt" json:"mqtt"`
	Sessions           []SessionConfig  `yaml:"sessions" json:"sessions,omitempty"`
	HistoryDB          string           `yaml:"historyDb,omitempty" json:"historyDb,omitempty"`
	ReportCache        string           `yaml:"reportCache,omitempty" json:"reportCache,omitempty"`
	MinIntervalSeconds int              `yaml:"minIntervalSeconds,omitempty" json:"minIntervalSeconds,omitempty"`
}

// DefaultConfig returns a configuration with every correlator default filled in
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued correlator settings from DefaultParams
func (c *Config) ApplyDefaults() {
	d := DefaultParams()
	cc := &c.Correlator
	if cc.MaxClusters == 0 {
		cc.MaxClusters = DefaultMaxClusters
	}
	if cc.StopStrength == 0 {
		cc.StopStrength = DefaultStopStrength
	}
	if cc.MinPhaseAgreement == 0 {
		cc.MinPhaseAgreement = d.MinPhaseAgreement
	}
	if cc.MinScale == 0 {
		cc.MinScale = d.MinScale
	}
	if cc.MaxScale == 0 {
		cc.MaxScale = d.MaxScale
	}
	if cc.StrengthScale == 0 {
		cc.StrengthScale = d.StrengthScale
	}
	if len(cc.StepScales) == 0 {
		cc.StepScales = d.StepScales
	}
	if cc.MaxTweakRounds == 0 {
		cc.MaxTweakRounds = d.MaxTweakRounds
	}
	if cc.ConsensusPasses == 0 {
		cc.ConsensusPasses = d.ConsensusPasses
	}
}

// Validate checks the configuration against the embedded schema and the
// cross-field rules the schema cannot express.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(configSchema)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compiling config schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	val := ctx.Encode(c)
	if err := val.Err(); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := def.Unify(val).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Correlator.MinScale > c.Correlator.MaxScale {
		return fmt.Errorf("correlator.minScale %.3f exceeds maxScale %.3f", c.Correlator.MinScale, c.Correlator.MaxScale)
	}

	seen := make(map[string]bool, len(c.Sessions))
	for i, s := range c.Sessions {
		if seen[s.ID] {
			return fmt.Errorf("sessions[%d]: duplicate id %q", i, s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

// Params converts the correlator section into correlator thresholds
func (cc CorrelatorConfig) Params() Params {
	steps := make([]float64, len(cc.StepScales))
	copy(steps, cc.StepScales)
	return Params{
		MinPhaseAgreement: cc.MinPhaseAgreement,
		MinScale:          cc.MinScale,
		MaxScale:          cc.MaxScale,
		StrengthScale:     cc.StrengthScale,
		StepScales:        steps,
		MaxTweakRounds:    cc.MaxTweakRounds,
		ConsensusPasses:   cc.ConsensusPasses,
	}
}

// MinInterval returns the extraction debounce interval
func (c *Config) MinInterval() time.Duration {
	if c.MinIntervalSeconds <= 0 {
		return DefaultMinExtractInterval
	}
	return time.Duration(c.MinIntervalSeconds) * time.Second
}

// GetSessionByID returns the session config for the given ID
func (c *Config) GetSessionByID(id string) *SessionConfig {
	for i := range c.Sessions {
		if c.Sessions[i].ID == id {
			return &c.Sessions[i]
		}
	}
	return nil
}

// LoadConfig loads the configuration from a YAML file, fills defaults and
// validates it
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
