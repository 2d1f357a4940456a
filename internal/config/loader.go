package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"deepgram"},
	"llm": {"openai", "openrouter"},
	"tts": {"elevenlabs"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands environment
// references in credentials, and validates the result. Useful in tests where
// configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	expandCredentials(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandCredentials resolves "${VAR}" references in API keys from the
// environment. A reference to an unset variable expands to the empty string,
// which downstream provider constructors reject.
func expandCredentials(cfg *Config) {
	for _, entry := range []*ProviderEntry{&cfg.Providers.STT, &cfg.Providers.LLM, &cfg.Providers.TTS} {
		entry.APIKey = os.ExpandEnv(entry.APIKey)
		for i := range entry.Fallbacks {
			entry.Fallbacks[i].APIKey = os.ExpandEnv(entry.Fallbacks[i].APIKey)
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is configured"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is configured"))
		}
	}

	// Warn for unknown provider names, fallbacks included.
	for kind, entry := range map[string]ProviderEntry{
		"stt": cfg.Providers.STT,
		"llm": cfg.Providers.LLM,
		"tts": cfg.Providers.TTS,
	} {
		validateProviderName(kind, entry.Name)
		for _, fb := range entry.Fallbacks {
			validateProviderName(kind, fb.Name)
			if entry.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s lists fallbacks but no primary provider", kind))
				break
			}
		}
	}

	// Provider availability warnings
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; the companion cannot generate responses")
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("no STT provider configured; user speech will not be transcribed")
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("no TTS provider configured; responses will be caption-only")
	}

	// Session
	if cfg.Session.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("session.sample_rate %d is invalid; must be a positive Hz value", cfg.Session.SampleRate))
	}
	if cfg.Session.Temperature < 0 || cfg.Session.Temperature > 2 {
		errs = append(errs, fmt.Errorf("session.temperature %.2f is out of range [0, 2]", cfg.Session.Temperature))
	}
	if cfg.Session.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("session.max_tokens %d is invalid; must be non-negative", cfg.Session.MaxTokens))
	}
	if v := cfg.Session.Voice; v.Stability < 0 || v.Stability > 1 {
		errs = append(errs, fmt.Errorf("session.voice.stability %.2f is out of range [0, 1]", v.Stability))
	}
	if v := cfg.Session.Voice; v.SimilarityBoost < 0 || v.SimilarityBoost > 1 {
		errs = append(errs, fmt.Errorf("session.voice.similarity_boost %.2f is out of range [0, 1]", v.SimilarityBoost))
	}
	if cfg.Providers.TTS.Name != "" && cfg.Session.Voice.VoiceID == "" {
		errs = append(errs, errors.New("session.voice.voice_id is required when a TTS provider is configured"))
	}

	// Avatar
	if cfg.Avatar.StartupTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("avatar.startup_timeout_seconds %d is invalid; must be non-negative", cfg.Avatar.StartupTimeoutSeconds))
	}
	if len(cfg.Avatar.Command) == 0 && cfg.Avatar.FaceID != "" {
		slog.Warn("avatar.face_id is set but avatar.command is empty; sessions will run voice-only")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
