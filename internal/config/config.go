// Package config handles TOML configuration parsing, validation, and
// reload for rankdns.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rankdns/rankdns/internal/anomaly"
	"github.com/rankdns/rankdns/internal/dnsrank"
)

// Config is the top-level configuration for rankdns.
type Config struct {
	Servers       []string        `toml:"servers"`
	Rules         []RuleConfig    `toml:"rule"`
	TimeoutMax    string          `toml:"timeout_max"`
	TimeoutMin    string          `toml:"timeout_min"`
	RetriesMax    int             `toml:"retries_max"`
	TCP           bool            `toml:"tcp"`
	Algorithm     string          `toml:"algorithm"` // "bind", "bmod", or "ar1"
	Params        ParamsConfig    `toml:"params"`
	ListenUDP     string          `toml:"listen_udp"`
	ListenTCP     string          `toml:"listen_tcp"`
	MetricsListen string          `toml:"metrics_listen"`
	SnapshotPath  string          `toml:"snapshot_path"`
	QuerylogPath  string          `toml:"querylog_path"`
	Anomalies     []AnomalyConfig `toml:"anomaly"`
	LogLevel      string          `toml:"log_level"`
	LogFormat     string          `toml:"log_format"`
	// Questions seeds the CLI client mode's query set, one "<qname> [rdtype]"
	// entry per line; rdtype defaults to A. Unused by the server mode.
	Questions []string `toml:"questions"`
}

// RuleConfig is the unparsed form of a dnsrank.DomainRule.
type RuleConfig struct {
	Domain  string   `toml:"domain"`
	Exclude []string `toml:"exclude"`
	Servers []string `toml:"servers"`
	Tag     string   `toml:"tag"`
}

// ParamsConfig holds the tunables for every ranking algorithm; only the
// fields relevant to Algorithm are read at construction time.
type ParamsConfig struct {
	A           float64 `toml:"a"`             // BIND/BMOD/AR-1 weight
	G           float64 `toml:"g"`             // BIND/BMOD/AR-1 idle decay
	PCountMin   int64   `toml:"p_count_min"`   // AR-1
	AlphaMin    float64 `toml:"alpha_min"`     // AR-1
	AlphaMax    float64 `toml:"alpha_max"`     // AR-1
	IdleMax     int64   `toml:"idle_max"`      // AR-1
	DrcCountMin int64   `toml:"drc_count_min"` // AR-1
	DrcConsec   int64   `toml:"drc_consec"`    // AR-1
	DrcStdevCo  float64 `toml:"drc_stdev_co"`  // AR-1
}

// AnomalyConfig is the unparsed form of one anomaly.Anomaly phase.
type AnomalyConfig struct {
	Limit    *int           `toml:"limit"`
	Delayers []DelayerConfig `toml:"delayer"`
}

// DelayerConfig is the unparsed form of one anomaly.Delayer.
type DelayerConfig struct {
	Pattern string `toml:"pattern"`
	Delay   string `toml:"delay"`
}

// Load reads and parses a TOML config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Algorithm == "" {
		cfg.Algorithm = DefaultAlgorithm
	}
	if cfg.TimeoutMax == "" {
		cfg.TimeoutMax = DefaultTimeoutMax.String()
	}
	if cfg.TimeoutMin == "" {
		cfg.TimeoutMin = DefaultTimeoutMin.String()
	}
	if cfg.RetriesMax == 0 {
		cfg.RetriesMax = DefaultRetriesMax
	}
	if cfg.ListenUDP == "" {
		cfg.ListenUDP = DefaultListenUDP
	}
	if cfg.ListenTCP == "" {
		cfg.ListenTCP = DefaultListenTCP
	}
	if cfg.MetricsListen == "" {
		cfg.MetricsListen = DefaultMetricsListen
	}
	if cfg.SnapshotPath == "" {
		cfg.SnapshotPath = DefaultSnapshotPath
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = DefaultLogFormat
	}

	bindDefaults := dnsrank.DefaultBindParams()
	if cfg.Params.A == 0 {
		cfg.Params.A = bindDefaults.A
	}
	if cfg.Params.G == 0 {
		cfg.Params.G = bindDefaults.G
	}
	ar1Defaults := dnsrank.DefaultAR1Params()
	if cfg.Params.PCountMin == 0 {
		cfg.Params.PCountMin = ar1Defaults.PCountMin
	}
	if cfg.Params.AlphaMin == 0 {
		cfg.Params.AlphaMin = ar1Defaults.AlphaMin
	}
	if cfg.Params.AlphaMax == 0 {
		cfg.Params.AlphaMax = ar1Defaults.AlphaMax
	}
	if cfg.Params.IdleMax == 0 {
		cfg.Params.IdleMax = ar1Defaults.IdleMax
	}
	if cfg.Params.DrcCountMin == 0 {
		cfg.Params.DrcCountMin = ar1Defaults.DrcCountMin
	}
	if cfg.Params.DrcConsec == 0 {
		cfg.Params.DrcConsec = ar1Defaults.DrcConsec
	}
	if cfg.Params.DrcStdevCo == 0 {
		cfg.Params.DrcStdevCo = ar1Defaults.DrcStdevCo
	}
}

// validate checks the configuration for errors.
func validate(cfg *Config) error {
	if len(cfg.Servers) == 0 {
		return fmt.Errorf("servers: at least one default server is required")
	}
	switch cfg.Algorithm {
	case "bind", "bmod", "ar1":
	default:
		return fmt.Errorf("algorithm %q must be one of bind, bmod, ar1", cfg.Algorithm)
	}
	if _, err := time.ParseDuration(cfg.TimeoutMax); err != nil {
		return fmt.Errorf("timeout_max: %w", err)
	}
	if _, err := time.ParseDuration(cfg.TimeoutMin); err != nil {
		return fmt.Errorf("timeout_min: %w", err)
	}
	if cfg.RetriesMax < 0 {
		return fmt.Errorf("retries_max must not be negative")
	}
	for i, rule := range cfg.Rules {
		if rule.Domain == "" {
			return fmt.Errorf("rule[%d]: domain is required", i)
		}
		if len(rule.Servers) == 0 {
			return fmt.Errorf("rule[%d]: at least one server is required", i)
		}
	}
	for i, a := range cfg.Anomalies {
		for j, d := range a.Delayers {
			if _, err := time.ParseDuration(d.Delay); err != nil {
				return fmt.Errorf("anomaly[%d].delayer[%d].delay: %w", i, j, err)
			}
		}
	}
	return nil
}

// ResolverConfig builds a dnsrank.Config from the parsed TOML config.
func (cfg *Config) ResolverConfig() (dnsrank.Config, error) {
	timeoutMax, err := time.ParseDuration(cfg.TimeoutMax)
	if err != nil {
		return dnsrank.Config{}, fmt.Errorf("timeout_max: %w", err)
	}
	timeoutMin, err := time.ParseDuration(cfg.TimeoutMin)
	if err != nil {
		return dnsrank.Config{}, fmt.Errorf("timeout_min: %w", err)
	}
	rules, err := cfg.domainRules()
	if err != nil {
		return dnsrank.Config{}, err
	}
	return dnsrank.Config{
		Servers:    cfg.Servers,
		Rules:      rules,
		TimeoutMax: timeoutMax,
		TimeoutMin: timeoutMin,
		RetriesMax: cfg.RetriesMax,
		TCP:        cfg.TCP,
	}, nil
}

// ClientQuestions parses Questions into dnsrank.Question values for CLI
// client mode, each entry being "<qname> [rdtype]" with rdtype defaulting to
// A. With no Questions configured, it returns a single default question.
func (cfg *Config) ClientQuestions() ([]dnsrank.Question, error) {
	entries := cfg.Questions
	if len(entries) == 0 {
		entries = []string{DefaultQuestion}
	}
	questions := make([]dnsrank.Question, 0, len(entries))
	for _, entry := range entries {
		fields := strings.Fields(entry)
		if len(fields) == 0 {
			return nil, fmt.Errorf("questions: empty entry")
		}
		rdtype := dnsrank.TypeA
		if len(fields) > 1 {
			rdtype = dnsrank.RdType(strings.ToUpper(fields[1]))
		}
		questions = append(questions, dnsrank.NewQuestion(fields[0], rdtype, dnsrank.ClassIN, 0))
	}
	return questions, nil
}

func (cfg *Config) domainRules() ([]*dnsrank.DomainRule, error) {
	rules := make([]*dnsrank.DomainRule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		rule, err := dnsrank.NewDomainRule(r.Domain, r.Exclude, r.Servers, r.Tag)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Domain, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// BindParams returns the BIND algorithm's tunables from Params.
func (cfg *Config) BindParams() dnsrank.BindParams {
	return dnsrank.BindParams{A: cfg.Params.A, G: cfg.Params.G}
}

// AR1Params returns the AR-1 algorithm's tunables from Params.
func (cfg *Config) AR1Params() dnsrank.AR1Params {
	return dnsrank.AR1Params{
		BindParams:  cfg.BindParams(),
		PCountMin:   cfg.Params.PCountMin,
		AlphaMin:    cfg.Params.AlphaMin,
		AlphaMax:    cfg.Params.AlphaMax,
		IdleMax:     cfg.Params.IdleMax,
		DrcCountMin: cfg.Params.DrcCountMin,
		DrcConsec:   cfg.Params.DrcConsec,
		DrcStdevCo:  cfg.Params.DrcStdevCo,
	}
}

// NewState constructs the ranking State selected by Algorithm.
func (cfg *Config) NewState() dnsrank.State {
	switch cfg.Algorithm {
	case "bmod":
		return dnsrank.NewBmodState(cfg.BindParams())
	case "ar1":
		return dnsrank.NewAR1State(cfg.AR1Params())
	default:
		return dnsrank.NewBindState(cfg.BindParams())
	}
}

// AnomalyConfigs converts the parsed TOML anomaly phases into
// anomaly.AnomalyConfig, ready for anomaly.NewQueue.
func (cfg *Config) AnomalyConfigs() ([]anomaly.AnomalyConfig, error) {
	out := make([]anomaly.AnomalyConfig, 0, len(cfg.Anomalies))
	for i, a := range cfg.Anomalies {
		delayers := make([]anomaly.DelayerConfig, 0, len(a.Delayers))
		for j, d := range a.Delayers {
			delay, err := time.ParseDuration(d.Delay)
			if err != nil {
				return nil, fmt.Errorf("anomaly[%d].delayer[%d].delay: %w", i, j, err)
			}
			delayers = append(delayers, anomaly.DelayerConfig{Pattern: d.Pattern, Delay: delay})
		}
		out = append(out, anomaly.AnomalyConfig{Limit: a.Limit, Delayers: delayers})
	}
	return out, nil
}
