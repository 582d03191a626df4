package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; anything that
// requires re-dialing a backend or restarting the worker pool is ignored.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// CleaningChanged is true if the default cleaning level, temperature, or
	// timeout changed. The level applies to sessions created after the
	// reload; timeout and temperature are baked into the running pipeline
	// and take effect on restart.
	CleaningChanged bool
	NewCleaning     CleaningConfig

	// SessionChanged is true if the session defaults (windows, business
	// context, template) changed.
	SessionChanged bool
	NewSession     SessionConfig
}

// Empty reports whether the diff contains no applicable changes.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.CleaningChanged && !d.SessionChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Cleaning != new.Cleaning {
		d.CleaningChanged = true
		d.NewCleaning = new.Cleaning
	}

	if old.Session != new.Session {
		d.SessionChanged = true
		d.NewSession = new.Session
	}

	return d
}
