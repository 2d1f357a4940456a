// Package config provides the configuration schema, loader, and provider
// registry for the Solenne voice companion server.
package config

// LogLevel controls log verbosity for the Solenne server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Solenne.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Session   SessionConfig   `yaml:"session"`
	Avatar    AvatarConfig    `yaml:"avatar"`
}

// ServerConfig holds network and logging settings for the Solenne server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline role. Each field selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	LLM ProviderEntry `yaml:"llm"`
	TTS ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation
	// (e.g., "openai", "deepgram", "elevenlabs").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API. Values of the
	// form "${VAR}" are expanded from the environment at load time so secrets
	// never need to live in the config file.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint. Set this to the
	// OpenRouter endpoint to route LLM traffic through OpenRouter.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider
	// (e.g., "gpt-4o-mini", "nova-2", "eleven_flash_v2_5").
	Model string `yaml:"model"`

	// Fallbacks lists alternative backends tried in order when this provider
	// fails or its circuit breaker is open. Fallback entries cannot nest
	// further fallbacks.
	Fallbacks []FallbackEntry `yaml:"fallbacks"`
}

// FallbackEntry is a ProviderEntry without nested fallbacks, used for the
// failover chain of a primary provider.
type FallbackEntry struct {
	Name    string `yaml:"name"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// Entry converts a fallback into a plain [ProviderEntry] for registry lookup.
func (f FallbackEntry) Entry() ProviderEntry {
	return ProviderEntry{Name: f.Name, APIKey: f.APIKey, BaseURL: f.BaseURL, Model: f.Model}
}

// SessionConfig describes the companion persona and audio parameters shared
// by every session the server starts.
type SessionConfig struct {
	// SystemPrompt is the persona instruction sent as the first message of
	// every conversation.
	SystemPrompt string `yaml:"system_prompt"`

	// Greeting, when non-empty, is spoken by the bot as soon as a client
	// connects.
	Greeting string `yaml:"greeting"`

	// Language is the BCP-47 language hint passed to the transcriber.
	Language string `yaml:"language"`

	// SampleRate is the PCM sample rate expected from clients, in Hz.
	// Defaults to 16000 when zero.
	SampleRate int `yaml:"sample_rate"`

	// Temperature is the LLM sampling temperature. Zero means provider default.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens caps the LLM completion length. Zero means provider default.
	MaxTokens int `yaml:"max_tokens"`

	// Voice configures the TTS voice used for bot speech.
	Voice VoiceConfig `yaml:"voice"`
}

// VoiceConfig specifies the TTS voice parameters for the companion.
type VoiceConfig struct {
	// VoiceID is the provider-specific voice identifier.
	VoiceID string `yaml:"voice_id"`

	// Stability adjusts voice consistency in the range [0, 1]. 0 means
	// provider default.
	Stability float64 `yaml:"stability"`

	// SimilarityBoost adjusts voice similarity in the range [0, 1]. 0 means
	// provider default.
	SimilarityBoost float64 `yaml:"similarity_boost"`
}

// Default returns a Config with sensible defaults for local development:
// plain HTTP on :8080, info logging, 16kHz audio, no providers and no
// avatar renderer.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		Session: SessionConfig{
			SampleRate: 16000,
			Language:   "en",
		},
	}
}

// AvatarConfig describes the optional avatar renderer subprocess. When
// Command is empty the avatar stage is omitted and sessions run voice-only.
type AvatarConfig struct {
	// Command is the renderer executable and its arguments.
	Command []string `yaml:"command"`

	// FaceID selects the rendered face, forwarded to the client in the ready
	// message and to the renderer through its environment.
	FaceID string `yaml:"face_id"`

	// StartupTimeoutSeconds bounds the wait for the renderer's ready message.
	// Zero uses the built-in default.
	StartupTimeoutSeconds int `yaml:"startup_timeout_seconds"`
}
