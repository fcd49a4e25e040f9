package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ErrNoProvider is returned when no provider has credentials or is enabled.
var ErrNoProvider = errors.New("no provider configured")

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile behaves like Load but reads the given config file instead of
// searching the default locations. An empty path searches the defaults.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.scry")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("SCRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate runs struct tag validation and cross-field checks.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if !cfg.Providers.AnyUsable() {
		return fmt.Errorf("config validation failed: %w", ErrNoProvider)
	}
	if cfg.Quality.RewriteFloor >= cfg.Quality.AcceptThreshold {
		return fmt.Errorf("config validation failed: quality.rewrite_floor (%.2f) must be below quality.accept_threshold (%.2f)",
			cfg.Quality.RewriteFloor, cfg.Quality.AcceptThreshold)
	}
	for _, ref := range []struct{ key, value string }{
		{"models.generation", cfg.Models.Generation},
		{"models.analysis", cfg.Models.Analysis},
		{"models.validation", cfg.Models.Validation},
		{"models.embedding", cfg.Models.Embedding},
	} {
		if ref.value == "" {
			continue
		}
		provider, model, ok := strings.Cut(ref.value, "/")
		if !ok || model == "" {
			return fmt.Errorf("config validation failed: %s must look like provider/model, got %q", ref.key, ref.value)
		}
		switch provider {
		case "gemini", "openai", "anthropic", "local":
		default:
			return fmt.Errorf("config validation failed: %s names unknown provider %q", ref.key, provider)
		}
	}
	return nil
}

// AnyUsable reports whether at least one provider can serve calls.
func (p ProvidersConfig) AnyUsable() bool {
	return p.Gemini.APIKey != "" || p.OpenAI.APIKey != "" || p.Anthropic.APIKey != "" || p.Local.Enabled
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_lifetime", time.Hour)

	setProviderDefaults(v, "gemini", 60*time.Second, 10*time.Minute, RoleModels{
		Generation: "gemini-2.0-flash",
		Analysis:   "gemini-2.0-flash",
		Validation: "gemini-2.0-flash",
		Embedding:  "text-embedding-004",
	})
	setProviderDefaults(v, "openai", 60*time.Second, 10*time.Minute, RoleModels{
		Generation: "gpt-4o-mini",
		Analysis:   "gpt-4o-mini",
		Validation: "gpt-4o-mini",
		Embedding:  "text-embedding-3-small",
	})
	setProviderDefaults(v, "anthropic", 90*time.Second, 10*time.Minute, RoleModels{
		Generation: "claude-3-5-haiku-latest",
		Analysis:   "claude-3-5-haiku-latest",
		Validation: "claude-3-5-haiku-latest",
	})
	setProviderDefaults(v, "local", 180*time.Second, 30*time.Minute, RoleModels{
		Generation: "llama3.1",
		Analysis:   "llama3.1",
		Validation: "llama3.1",
		Embedding:  "nomic-embed-text",
	})
	v.SetDefault("providers.local.enabled", false)
	v.SetDefault("providers.local.base_url", "http://localhost:11434/v1")
	v.SetDefault("providers.order", []string{"gemini", "openai", "anthropic", "local"})
	v.SetDefault("providers.retry_delay", 500*time.Millisecond)

	v.SetDefault("models.generation", "gemini/gemini-2.0-flash")
	v.SetDefault("models.analysis", "gemini/gemini-2.0-flash")
	v.SetDefault("models.validation", "gemini/gemini-2.0-flash")
	v.SetDefault("models.embedding", "gemini/text-embedding-004")

	v.SetDefault("pipeline.max_concurrency", 3)
	v.SetDefault("pipeline.analysis_char_budget", 12000)
	v.SetDefault("pipeline.max_segments", 24)
	v.SetDefault("pipeline.fallback_excerpt_chars", 280)
	v.SetDefault("pipeline.default_card_type", "basic")

	v.SetDefault("segmentation.mode", "auto")
	v.SetDefault("segmentation.auto_threshold_chars", 4000)
	v.SetDefault("segmentation.merge_threshold", 0.75)
	v.SetDefault("segmentation.min_segment_chars", 80)

	v.SetDefault("quality.accept_threshold", 0.7)
	v.SetDefault("quality.rewrite_floor", 0.45)
	v.SetDefault("quality.relevance_threshold", 0.35)
	v.SetDefault("quality.keyword_overlap_threshold", 0.2)
	v.SetDefault("quality.answer_min_words", 10)
	v.SetDefault("quality.answer_max_words", 25)
	v.SetDefault("quality.evidence_min_words", 5)
	v.SetDefault("quality.evidence_max_words", 25)
	v.SetDefault("quality.llm_validation", false)

	v.SetDefault("cache.embedding_entries", 10000)
	v.SetDefault("cache.response_entries", 2000)
	v.SetDefault("cache.model_entries", 32)
	v.SetDefault("cache.model_list_ttl", 300*time.Second)
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_ttl", 24*time.Hour)

	v.SetDefault("export.worker_count", 2)
	v.SetDefault("export.queue_size", 100)
	v.SetDefault("export.default_deck", "Default")
	v.SetDefault("export.auto_export", false)
	v.SetDefault("export.auto_tags", []string{"scry"})

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("prompts.path", "")
}

func setProviderDefaults(v *viper.Viper, name string, timeout, ttl time.Duration, models RoleModels) {
	prefix := "providers." + name + "."
	v.SetDefault(prefix+"api_key", "")
	v.SetDefault(prefix+"base_url", "")
	v.SetDefault(prefix+"timeout", timeout)
	v.SetDefault(prefix+"response_ttl", ttl)
	v.SetDefault(prefix+"models.generation", models.Generation)
	v.SetDefault(prefix+"models.analysis", models.Analysis)
	v.SetDefault(prefix+"models.validation", models.Validation)
	v.SetDefault(prefix+"models.embedding", models.Embedding)
}
