package types

import "time"

// Config represents the complete application configuration
type Config struct {
	Provider     ProviderConfig     `yaml:"provider" mapstructure:"provider"`
	Evaluation   EvaluationConfig   `yaml:"evaluation" mapstructure:"evaluation"`
	Evolution    EvolutionConfig    `yaml:"evolution" mapstructure:"evolution"`
	Consensus    ConsensusConfig    `yaml:"consensus" mapstructure:"consensus"`
	Agents       AgentsConfig       `yaml:"agents" mapstructure:"agents"`
	Target       TargetConfig       `yaml:"target" mapstructure:"target"`
	Knowledge    KnowledgeConfig    `yaml:"knowledge" mapstructure:"knowledge"`
	Output       OutputConfig       `yaml:"output" mapstructure:"output"`
	Logging      LoggingConfig      `yaml:"logging" mapstructure:"logging"`
	Concurrency  ConcurrencyConfig  `yaml:"concurrency" mapstructure:"concurrency"`
}

// ProviderConfig holds Generator (LLM) provider configuration
type ProviderConfig struct {
	Name        string          `yaml:"name" mapstructure:"name"`
	APIKey      string          `yaml:"api_key" mapstructure:"api_key"`
	BaseURL     string          `yaml:"base_url" mapstructure:"base_url"`
	Model       string          `yaml:"model" mapstructure:"model"`
	MaxTokens   int             `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64         `yaml:"temperature" mapstructure:"temperature"`
	Timeout     time.Duration   `yaml:"timeout" mapstructure:"timeout"`
	Cache       CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Fallbacks   []ProviderModel `yaml:"fallbacks,omitempty" mapstructure:"fallbacks"`
}

// ProviderModel names an alternate provider/model pair for fallback chains
type ProviderModel struct {
	Name    string `yaml:"name" mapstructure:"name"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
}

// CacheConfig holds generation response caching settings
type CacheConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	TTL     time.Duration `yaml:"ttl" mapstructure:"ttl"`
	MaxSize int           `yaml:"max_size" mapstructure:"max_size"`
}

// EvaluationConfig holds orchestrator settings
type EvaluationConfig struct {
	MaxRounds             int     `yaml:"max_rounds" mapstructure:"max_rounds"`
	BudgetUSD             float64 `yaml:"budget_usd" mapstructure:"budget_usd"`
	ExplorationThreshold  int     `yaml:"exploration_threshold" mapstructure:"exploration_threshold"`
	ExploitationThreshold int     `yaml:"exploitation_threshold" mapstructure:"exploitation_threshold"`
	TargetF1              float64 `yaml:"target_f1" mapstructure:"target_f1"`
	NumProbes             int     `yaml:"num_probes" mapstructure:"num_probes"`
	AttacksPerRound       int     `yaml:"attacks_per_round" mapstructure:"attacks_per_round"`
	Seed                  int64   `yaml:"seed" mapstructure:"seed"`
	SeedCorpus            string  `yaml:"seed_corpus,omitempty" mapstructure:"seed_corpus"`
}

// EvolutionConfig holds mutation engine settings
type EvolutionConfig struct {
	PopulationSize   int     `yaml:"population_size" mapstructure:"population_size"`
	Generations      int     `yaml:"generations" mapstructure:"generations"`
	MutationRate     float64 `yaml:"mutation_rate" mapstructure:"mutation_rate"`
	NoveltyWeight    float64 `yaml:"novelty_weight" mapstructure:"novelty_weight"`
	LLMMutationRatio float64 `yaml:"llm_mutation_ratio" mapstructure:"llm_mutation_ratio"`
	ArchiveThreshold float64 `yaml:"archive_threshold" mapstructure:"archive_threshold"`
	ArchiveMaxSize   int     `yaml:"archive_max_size" mapstructure:"archive_max_size"`
	MaxDistance      float64 `yaml:"max_distance" mapstructure:"max_distance"`
}

// ConsensusConfig holds Dawid-Skene settings
type ConsensusConfig struct {
	NumJudges    int `yaml:"num_judges" mapstructure:"num_judges"`
	EMIterations int `yaml:"em_iterations" mapstructure:"em_iterations"`
}

// AgentsConfig holds roster sizing
type AgentsConfig struct {
	NumBoundaryProbers int  `yaml:"num_boundary_probers" mapstructure:"num_boundary_probers"`
	NumExploiters      int  `yaml:"num_exploiters" mapstructure:"num_exploiters"`
	NumMutators        int  `yaml:"num_mutators" mapstructure:"num_mutators"`
	NumValidators      int  `yaml:"num_validators" mapstructure:"num_validators"`
	Counterfactual     bool `yaml:"counterfactual" mapstructure:"counterfactual"`
	Perspectives       []string `yaml:"perspectives,omitempty" mapstructure:"perspectives"`
}

// TargetConfig holds remote purple agent settings
type TargetConfig struct {
	URL        string            `yaml:"url" mapstructure:"url"`
	Method     string            `yaml:"method" mapstructure:"method"`
	Headers    map[string]string `yaml:"headers" mapstructure:"headers"`
	Timeout    time.Duration     `yaml:"timeout" mapstructure:"timeout"`
	RateLimit  float64           `yaml:"rate_limit" mapstructure:"rate_limit"`
	UseHTTP2   bool              `yaml:"use_http2" mapstructure:"use_http2"`
	VerifySSL  bool              `yaml:"verify_ssl" mapstructure:"verify_ssl"`
	Retry      RetryConfig       `yaml:"retry" mapstructure:"retry"`
	Sandboxed  bool              `yaml:"sandboxed" mapstructure:"sandboxed"`
}

// RetryConfig holds retry configuration for target calls
type RetryConfig struct {
	MaxRetries int    `yaml:"max_retries" mapstructure:"max_retries"`
	Backoff    string `yaml:"backoff" mapstructure:"backoff"` // linear, exponential
	RetryOn    []int  `yaml:"retry_on" mapstructure:"retry_on"`
}

// KnowledgeConfig holds knowledge base persistence settings
type KnowledgeConfig struct {
	SnapshotPath string `yaml:"snapshot_path" mapstructure:"snapshot_path"`
	AutoSnapshot bool   `yaml:"auto_snapshot" mapstructure:"auto_snapshot"`
}

// OutputConfig holds run output settings
type OutputConfig struct {
	Format  string `yaml:"format" mapstructure:"format"` // json, yaml, markdown, text
	File    string `yaml:"file" mapstructure:"file"`
	Verbose bool   `yaml:"verbose" mapstructure:"verbose"`
	Color   bool   `yaml:"color" mapstructure:"color"`
}

// LoggingConfig holds structured logging settings
type LoggingConfig struct {
	Level       string `yaml:"level" mapstructure:"level"`
	Development bool   `yaml:"development" mapstructure:"development"`
}

// ConcurrencyConfig holds parallel processing settings
type ConcurrencyConfig struct {
	AttackWorkers  int `yaml:"attack_workers" mapstructure:"attack_workers"`
	FitnessWorkers int `yaml:"fitness_workers" mapstructure:"fitness_workers"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			Name:        "openai",
			Model:       "gpt-4o-mini",
			MaxTokens:   1024,
			Temperature: 0.7,
			Timeout:     30 * time.Second,
			Cache: CacheConfig{
				Enabled: true,
				TTL:     5 * time.Minute,
				MaxSize: 512,
			},
		},
		Evaluation: EvaluationConfig{
			MaxRounds:             20,
			BudgetUSD:             0,
			ExplorationThreshold:  50,
			ExploitationThreshold: 200,
			TargetF1:              0.9,
			NumProbes:             20,
			AttacksPerRound:       50,
			Seed:                  0,
		},
		Evolution: EvolutionConfig{
			PopulationSize:   50,
			Generations:      10,
			MutationRate:     0.3,
			NoveltyWeight:    0.5,
			LLMMutationRatio: 0.3,
			ArchiveThreshold: 0.7,
			ArchiveMaxSize:   1000,
			MaxDistance:      10.0,
		},
		Consensus: ConsensusConfig{
			NumJudges:    3,
			EMIterations: 20,
		},
		Agents: AgentsConfig{
			NumBoundaryProbers: 2,
			NumExploiters:      3,
			NumMutators:        2,
			NumValidators:      1,
			Counterfactual:     true,
		},
		Target: TargetConfig{
			Method:    "POST",
			Headers:   make(map[string]string),
			Timeout:   30 * time.Second,
			RateLimit: 5.0,
			VerifySSL: true,
			Retry: RetryConfig{
				MaxRetries: 3,
				Backoff:    "exponential",
				RetryOn:    []int{429, 502, 503},
			},
		},
		Knowledge: KnowledgeConfig{
			AutoSnapshot: false,
		},
		Output: OutputConfig{
			Format:  "text",
			Verbose: false,
			Color:   true,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Development: false,
		},
		Concurrency: ConcurrencyConfig{
			AttackWorkers:  5,
			FitnessWorkers: 5,
		},
	}
}
