package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked: log level applies
// immediately, persona and voice changes apply to the next session started.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PersonaChanged is true when the system prompt or greeting changed.
	PersonaChanged bool

	// VoiceChanged is true when any TTS voice parameter changed.
	VoiceChanged bool

	// ProvidersChanged is true when any provider selection or credential
	// changed. Provider changes need a restart; callers log a warning.
	ProvidersChanged bool

	// AvatarChanged is true when the renderer command or face changed.
	AvatarChanged bool
}

// Any reports whether the diff contains any tracked change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.PersonaChanged || d.VoiceChanged ||
		d.ProvidersChanged || d.AvatarChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Session.SystemPrompt != new.Session.SystemPrompt ||
		old.Session.Greeting != new.Session.Greeting {
		d.PersonaChanged = true
	}

	if old.Session.Voice != new.Session.Voice {
		d.VoiceChanged = true
	}

	if !providersEqual(old.Providers, new.Providers) {
		d.ProvidersChanged = true
	}

	if old.Avatar.FaceID != new.Avatar.FaceID ||
		!equalCommand(old.Avatar.Command, new.Avatar.Command) {
		d.AvatarChanged = true
	}

	return d
}

func providersEqual(a, b ProvidersConfig) bool {
	return providerEntryEqual(a.STT, b.STT) &&
		providerEntryEqual(a.LLM, b.LLM) &&
		providerEntryEqual(a.TTS, b.TTS)
}

func providerEntryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Fallbacks) != len(b.Fallbacks) {
		return false
	}
	for i := range a.Fallbacks {
		if a.Fallbacks[i] != b.Fallbacks[i] {
			return false
		}
	}
	return true
}

func equalCommand(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
