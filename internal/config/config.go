package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server       ServerConfig       `mapstructure:"server" validate:"required"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Providers    ProvidersConfig    `mapstructure:"providers" validate:"required"`
	Models       ModelsConfig       `mapstructure:"models" validate:"required"`
	Pipeline     PipelineConfig     `mapstructure:"pipeline" validate:"required"`
	Segmentation SegmentationConfig `mapstructure:"segmentation" validate:"required"`
	Quality      QualityConfig      `mapstructure:"quality" validate:"required"`
	Cache        CacheConfig        `mapstructure:"cache" validate:"required"`
	Export       ExportConfig       `mapstructure:"export" validate:"required"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
	Prompts      PromptsConfig      `mapstructure:"prompts"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig configures the Postgres card sink. An empty URL disables it.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
}

// AuthConfig contains bearer token settings. An empty secret disables auth.
type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret" validate:"omitempty,min=32"`
	TokenLifetime time.Duration `mapstructure:"token_lifetime" validate:"gte=0"`
}

// RoleModels names the model a provider uses for each role when it serves a
// request as a fallback.
type RoleModels struct {
	Generation string `mapstructure:"generation"`
	Analysis   string `mapstructure:"analysis"`
	Validation string `mapstructure:"validation"`
	Embedding  string `mapstructure:"embedding"`
}

// ProviderConfig is the shared shape of every provider section.
type ProviderConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url" validate:"omitempty,url"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gt=0"`
	ResponseTTL time.Duration `mapstructure:"response_ttl" validate:"gte=0"`
	Models      RoleModels    `mapstructure:"models"`
}

// LocalProviderConfig configures an OpenAI-compatible offline endpoint such
// as Ollama.
type LocalProviderConfig struct {
	ProviderConfig `mapstructure:",squash"`
	Enabled        bool `mapstructure:"enabled"`
}

// ProvidersConfig holds credentials and endpoints for every provider.
type ProvidersConfig struct {
	Gemini     ProviderConfig      `mapstructure:"gemini"`
	OpenAI     ProviderConfig      `mapstructure:"openai"`
	Anthropic  ProviderConfig      `mapstructure:"anthropic"`
	Local      LocalProviderConfig `mapstructure:"local"`
	Order      []string            `mapstructure:"order" validate:"dive,oneof=gemini openai anthropic local"`
	RetryDelay time.Duration       `mapstructure:"retry_delay" validate:"gte=0"`
}

// ModelsConfig holds the default model ref per role, in "provider/model" form.
type ModelsConfig struct {
	Generation string `mapstructure:"generation" validate:"required"`
	Analysis   string `mapstructure:"analysis" validate:"required"`
	Validation string `mapstructure:"validation" validate:"required"`
	Embedding  string `mapstructure:"embedding"`
}

// PipelineConfig bounds the work of a single run.
type PipelineConfig struct {
	MaxConcurrency     int    `mapstructure:"max_concurrency" validate:"gte=1,lte=32"`
	AnalysisCharBudget int    `mapstructure:"analysis_char_budget" validate:"gte=500"`
	MaxSegments        int    `mapstructure:"max_segments" validate:"gte=1"`
	FallbackExcerpt    int    `mapstructure:"fallback_excerpt_chars" validate:"gte=40"`
	DefaultCardType    string `mapstructure:"default_card_type" validate:"oneof=basic cloze mixed"`
}

// SegmentationConfig holds segmentation tuning constants.
type SegmentationConfig struct {
	Mode               string  `mapstructure:"mode" validate:"oneof=auto embedding llm off"`
	AutoThresholdChars int     `mapstructure:"auto_threshold_chars" validate:"gte=0"`
	MergeThreshold     float64 `mapstructure:"merge_threshold" validate:"gte=0,lte=1"`
	MinSegmentChars    int     `mapstructure:"min_segment_chars" validate:"gte=0"`
}

// QualityConfig holds quality gate thresholds.
type QualityConfig struct {
	AcceptThreshold         float64 `mapstructure:"accept_threshold" validate:"gt=0,lte=1"`
	RewriteFloor            float64 `mapstructure:"rewrite_floor" validate:"gte=0,lte=1"`
	RelevanceThreshold      float64 `mapstructure:"relevance_threshold" validate:"gte=0,lte=1"`
	KeywordOverlapThreshold float64 `mapstructure:"keyword_overlap_threshold" validate:"gte=0,lte=1"`
	AnswerMinWords          int     `mapstructure:"answer_min_words" validate:"gte=1"`
	AnswerMaxWords          int     `mapstructure:"answer_max_words" validate:"gtefield=AnswerMinWords"`
	EvidenceMinWords        int     `mapstructure:"evidence_min_words" validate:"gte=1"`
	EvidenceMaxWords        int     `mapstructure:"evidence_max_words" validate:"gtefield=EvidenceMinWords"`
	LLMValidation           bool    `mapstructure:"llm_validation"`
}

// CacheConfig sizes the cache tiers.
type CacheConfig struct {
	EmbeddingEntries int           `mapstructure:"embedding_entries" validate:"gte=1"`
	ResponseEntries  int           `mapstructure:"response_entries" validate:"gte=1"`
	ModelEntries     int           `mapstructure:"model_entries" validate:"gte=1"`
	ModelListTTL     time.Duration `mapstructure:"model_list_ttl" validate:"gt=0"`
	RedisAddr        string        `mapstructure:"redis_addr"`
	RedisTTL         time.Duration `mapstructure:"redis_ttl" validate:"gte=0"`
}

// ExportConfig sizes the background export worker pool.
type ExportConfig struct {
	WorkerCount int    `mapstructure:"worker_count" validate:"gte=1"`
	QueueSize   int    `mapstructure:"queue_size" validate:"gte=1"`
	DefaultDeck string `mapstructure:"default_deck" validate:"required"`

	// AutoExport queues the accepted cards of every streamed run.
	AutoExport bool     `mapstructure:"auto_export"`
	AutoTags   []string `mapstructure:"auto_tags"`
}

// TracingConfig toggles OpenTelemetry tracing to stdout.
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// PromptsConfig points at an optional prompt pack override file.
type PromptsConfig struct {
	Path string `mapstructure:"path"`
}
