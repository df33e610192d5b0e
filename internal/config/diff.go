package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// BridgeChanged is true when any hot-reloadable bridge setting changed
	// (voice, timeouts, page URL).
	BridgeChanged bool

	// RestartRequired names the top-level settings that changed but only take
	// effect after a restart, such as the listen address or the providers.
	RestartRequired []string
}

// IsEmpty reports whether nothing changed.
func (d ConfigDiff) IsEmpty() bool {
	return !d.LogLevelChanged && !d.BridgeChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	ob, nb := old.Bridge, new.Bridge
	d.BridgeChanged = ob.DefaultVoice != nb.DefaultVoice ||
		ob.PlaybackTimeout != nb.PlaybackTimeout ||
		ob.RecordingTimeout != nb.RecordingTimeout ||
		ob.PageURL != nb.PageURL

	restart := func(name string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, name)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.log_file", old.Server.LogFile != new.Server.LogFile)
	restart("server.tls", !reflect.DeepEqual(old.Server.TLS, new.Server.TLS))
	restart("bridge.max_message_bytes", ob.MaxMessageBytes != nb.MaxMessageBytes)
	restart("bridge.allowed_origins", !slices.Equal(ob.AllowedOrigins, nb.AllowedOrigins))
	restart("providers", !reflect.DeepEqual(old.Providers, new.Providers))
	restart("mcp", old.MCP != new.MCP)

	return d
}
