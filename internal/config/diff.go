package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. Tunables are
// applied to running sessions; everything else needs a restart and is only
// listed.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VADChanged and TurnChanged apply to sessions started afterwards.
	VADChanged  bool
	TurnChanged bool

	// CuesChanged applies to the turn machines and command matcher of
	// running sessions.
	CuesChanged bool

	// RestartRequired names the top-level sections whose change has no
	// effect until restart.
	RestartRequired []string
}

// Tunables reports whether anything hot-reloadable changed.
func (d ConfigDiff) Tunables() bool {
	return d.LogLevelChanged || d.VADChanged || d.TurnChanged || d.CuesChanged
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.VADChanged = old.VAD != new.VAD
	d.TurnChanged = old.Turn != new.Turn
	d.CuesChanged = !slices.Equal(old.Cues, new.Cues)

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	for _, s := range []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"telemetry", old.Telemetry, new.Telemetry},
		{"providers", old.Providers, new.Providers},
		{"memory", old.Memory, new.Memory},
		{"assistant", old.Assistant, new.Assistant},
	} {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
