package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hubenschmidt/care-ai/gateway/internal/pipeline"
)

type config struct {
	Port                   string        `mapstructure:"PORT"`
	Env                    string        `mapstructure:"ENV"`
	Product                string        `mapstructure:"PRODUCT"`
	AWSRegion              string        `mapstructure:"AWS_REGION"`
	CredentialTTL          time.Duration `mapstructure:"CREDENTIAL_TTL"`
	CredentialRefreshAhead time.Duration `mapstructure:"CREDENTIAL_REFRESH_AHEAD"`
	SecretFetchTimeout     time.Duration `mapstructure:"SECRET_FETCH_TIMEOUT"`
	RequestBudget          time.Duration `mapstructure:"REQUEST_BUDGET"`
	OpenAIBaseURL          string        `mapstructure:"OPENAI_BASE_URL"`
	OpenAIModel            string        `mapstructure:"OPENAI_MODEL"`
	LLMEngine              string        `mapstructure:"LLM_ENGINE"`
	LLMMaxTokens           int           `mapstructure:"LLM_MAX_TOKENS"`
	LLMMaxInputTokens      int           `mapstructure:"LLM_MAX_INPUT_TOKENS"`
	VisionURL              string        `mapstructure:"VISION_URL"`
	SpeechURL              string        `mapstructure:"SPEECH_URL"`
	SpeechSessionTimeout   time.Duration `mapstructure:"SPEECH_SESSION_TIMEOUT"`
	ProviderRPS            float64       `mapstructure:"PROVIDER_RPS"`
	ProviderBurst          int           `mapstructure:"PROVIDER_BURST"`
	QuotaBackoff           time.Duration `mapstructure:"QUOTA_BACKOFF"`
	DoctorDirectoryURL     string        `mapstructure:"DOCTOR_DIRECTORY_URL"`
	AppointmentsURL        string        `mapstructure:"APPOINTMENTS_URL"`
	DatabaseURL            string        `mapstructure:"DATABASE_URL"`
	MaxConcurrentSessions  int           `mapstructure:"MAX_CONCURRENT_SESSIONS"`
	HTTPPoolSize           int           `mapstructure:"HTTP_POOL_SIZE"`

	// StageTimeouts holds STAGE_TIMEOUT_<STAGE> overrides keyed by stage name.
	StageTimeouts map[string]time.Duration `mapstructure:"-"`
}

var keys = []string{
	"PORT", "ENV", "PRODUCT", "AWS_REGION",
	"CREDENTIAL_TTL", "CREDENTIAL_REFRESH_AHEAD", "SECRET_FETCH_TIMEOUT", "REQUEST_BUDGET",
	"OPENAI_BASE_URL", "OPENAI_MODEL", "LLM_ENGINE", "LLM_MAX_TOKENS", "LLM_MAX_INPUT_TOKENS",
	"VISION_URL", "SPEECH_URL", "SPEECH_SESSION_TIMEOUT",
	"PROVIDER_RPS", "PROVIDER_BURST", "QUOTA_BACKOFF",
	"DOCTOR_DIRECTORY_URL", "APPOINTMENTS_URL", "DATABASE_URL",
	"MAX_CONCURRENT_SESSIONS", "HTTP_POOL_SIZE",
}

// stageTimeoutKey is the environment key overriding a stage deadline,
// e.g. STAGE_TIMEOUT_RISK_SCORE.
func stageTimeoutKey(stage string) string {
	return "STAGE_TIMEOUT_" + strings.ToUpper(strings.ReplaceAll(stage, "-", "_"))
}

// loadConfig reads .env (if present) and the environment.
func loadConfig() (*config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("PRODUCT", "care-ai")
	v.SetDefault("AWS_REGION", "us-east-1")
	v.SetDefault("CREDENTIAL_TTL", "5m")
	v.SetDefault("CREDENTIAL_REFRESH_AHEAD", "30s")
	v.SetDefault("SECRET_FETCH_TIMEOUT", "3s")
	v.SetDefault("REQUEST_BUDGET", "29s")
	v.SetDefault("OPENAI_MODEL", "gpt-4o-mini")
	v.SetDefault("LLM_ENGINE", engineChat)
	v.SetDefault("LLM_MAX_TOKENS", 600)
	v.SetDefault("LLM_MAX_INPUT_TOKENS", 6000)
	v.SetDefault("VISION_URL", "https://vision.googleapis.com")
	v.SetDefault("SPEECH_SESSION_TIMEOUT", "25s")
	v.SetDefault("PROVIDER_RPS", 20)
	v.SetDefault("PROVIDER_BURST", 40)
	v.SetDefault("QUOTA_BACKOFF", "30s")
	v.SetDefault("MAX_CONCURRENT_SESSIONS", 100)
	v.SetDefault("HTTP_POOL_SIZE", 50)

	for _, k := range keys {
		_ = v.BindEnv(k)
	}
	for stage := range pipeline.DefaultTimeouts {
		_ = v.BindEnv(stageTimeoutKey(stage))
	}

	// A missing .env file is fine.
	_ = v.ReadInConfig()

	cfg := &config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.StageTimeouts = make(map[string]time.Duration)
	for stage := range pipeline.DefaultTimeouts {
		key := stageTimeoutKey(stage)
		if !v.IsSet(key) {
			continue
		}
		d, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		cfg.StageTimeouts[stage] = d
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the gateway cannot run with.
// Text engine names accepted by LLM_ENGINE.
const (
	engineChat  = "chat"
	engineAgent = "agent"
)

func (c *config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.RequestBudget <= 0 {
		return fmt.Errorf("REQUEST_BUDGET must be positive, got %s", c.RequestBudget)
	}
	if c.LLMEngine != engineChat && c.LLMEngine != engineAgent {
		return fmt.Errorf("LLM_ENGINE must be %q or %q, got %q", engineChat, engineAgent, c.LLMEngine)
	}
	if c.ProviderRPS < 0 || c.ProviderBurst < 0 {
		return fmt.Errorf("PROVIDER_RPS and PROVIDER_BURST must not be negative")
	}
	if c.MaxConcurrentSessions <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_SESSIONS must be positive, got %d", c.MaxConcurrentSessions)
	}
	if c.CredentialRefreshAhead >= c.CredentialTTL {
		return fmt.Errorf("CREDENTIAL_REFRESH_AHEAD (%s) must be shorter than CREDENTIAL_TTL (%s)", c.CredentialRefreshAhead, c.CredentialTTL)
	}
	for stage, d := range c.StageTimeouts {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", stageTimeoutKey(stage))
		}
	}
	return nil
}

func (c *config) IsDev() bool {
	return c.Env == "development"
}
