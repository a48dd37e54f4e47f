package orchestration

// RuntimeConfig is spec §6's inbound configuration struct — the core
// consumes an already-validated value, never parses a config file itself
// (spec §1 Non-goals: "config-file parsing ... the core consumes a
// validated config struct"). `env:`/`default:` struct tags document the
// external shell's expected wiring without pulling a config-loading
// library into this package.
type RuntimeConfig struct {
	Backend        string `env:"AUTORESEARCH_BACKEND" default:""`
	LLMBackend     string `env:"AUTORESEARCH_LLM_BACKEND" default:""`
	Agents         []string `env:"AUTORESEARCH_AGENTS" default:"Synthesizer,Contrarian,FactChecker"`
	PrimusStart    int    `env:"AUTORESEARCH_PRIMUS_START" default:"0"`
	ReasoningMode  string `env:"AUTORESEARCH_REASONING_MODE" default:"dialectical"`
	Loops          int    `env:"AUTORESEARCH_LOOPS" default:"2"`

	TokenBudget        int     `env:"AUTORESEARCH_TOKEN_BUDGET" default:"4000"`
	AdaptiveMaxFactor  float64 `env:"AUTORESEARCH_ADAPTIVE_MAX_FACTOR" default:"4.0"`
	AdaptiveMinBuffer  int     `env:"AUTORESEARCH_ADAPTIVE_MIN_BUFFER" default:"64"`

	CircuitBreakerThreshold  float64 `env:"AUTORESEARCH_CB_THRESHOLD" default:"5.0"`
	CircuitBreakerCooldownMS int     `env:"AUTORESEARCH_CB_COOLDOWN_MS" default:"30000"`

	MaxErrors  int `env:"AUTORESEARCH_MAX_ERRORS" default:"10"`
	MaxRetries int `env:"AUTORESEARCH_MAX_RETRIES" default:"3"`

	Search SearchConfig
	Storage StorageConfig
	Audit   AuditConfig
	Gate    GateConfig

	// AgentGroups partitions Agents into execution groups. Agents within a
	// group run sequentially; RunQuery dispatches the groups one after
	// another in rotated order, not concurrently. A nil/empty value means
	// every agent runs in its own singleton group, in Agents order — the
	// common dialectical case.
	AgentGroups [][]string
}

type SearchConfig struct {
	Backends                 []string `env:"AUTORESEARCH_SEARCH_BACKENDS"`
	HybridQuery              bool     `env:"AUTORESEARCH_SEARCH_HYBRID_QUERY" default:"false"`
	SemanticSimilarityWeight float64  `env:"AUTORESEARCH_SEARCH_SEM_WEIGHT" default:"0.3"`
	BM25Weight               float64  `env:"AUTORESEARCH_SEARCH_BM25_WEIGHT" default:"0.5"`
	SourceCredibilityWeight  float64  `env:"AUTORESEARCH_SEARCH_CRED_WEIGHT" default:"0.2"`
}

type StorageConfig struct {
	RAMBudgetMB     float64 `env:"AUTORESEARCH_STORAGE_RAM_BUDGET_MB" default:"256"`
	EvictionPolicy  string  `env:"AUTORESEARCH_STORAGE_EVICTION_POLICY" default:"lru"`
	HNSWM           int     `env:"AUTORESEARCH_STORAGE_HNSW_M" default:"16"`
	HNSWEfConstruct int     `env:"AUTORESEARCH_STORAGE_HNSW_EF_CONSTRUCTION" default:"200"`
	HNSWMetric      string  `env:"AUTORESEARCH_STORAGE_HNSW_METRIC" default:"cosine"`
	HNSWEfSearch    int     `env:"AUTORESEARCH_STORAGE_HNSW_EF_SEARCH" default:"64"`
}

type AuditConfig struct {
	MaxRetryResults  int    `env:"AUTORESEARCH_AUDIT_MAX_RETRY_RESULTS" default:"2"`
	HedgeMode        string `env:"AUTORESEARCH_AUDIT_HEDGE_MODE" default:"conservative"`
	RequireHumanAck  bool   `env:"AUTORESEARCH_AUDIT_REQUIRE_HUMAN_ACK" default:"false"`
	OperatorTimeoutS int    `env:"AUTORESEARCH_AUDIT_OPERATOR_TIMEOUT_S" default:"120"`
	ExplainConflicts bool   `env:"AUTORESEARCH_AUDIT_EXPLAIN_CONFLICTS" default:"true"`
}

type GateConfig struct {
	OverlapThreshold    float64 `env:"AUTORESEARCH_GATE_OVERLAP_THRESHOLD" default:"0.8"`
	ConflictThreshold   float64 `env:"AUTORESEARCH_GATE_CONFLICT_THRESHOLD" default:"0.3"`
	ComplexityThreshold float64 `env:"AUTORESEARCH_GATE_COMPLEXITY_THRESHOLD" default:"0.6"`
	Enabled             bool    `env:"AUTORESEARCH_GATE_ENABLED" default:"true"`
}

// groups returns cfg.AgentGroups, defaulting to one singleton group per
// agent in cfg.Agents order when unset.
func (cfg RuntimeConfig) groups() [][]string {
	if len(cfg.AgentGroups) > 0 {
		return cfg.AgentGroups
	}
	groups := make([][]string, len(cfg.Agents))
	for i, name := range cfg.Agents {
		groups[i] = []string{name}
	}
	return groups
}
