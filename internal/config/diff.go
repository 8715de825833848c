package config

import "slices"

// ConfigDiff describes what changed between two configs. Only fields that
// can be safely hot-reloaded are tracked; everything else requires a
// restart.
type ConfigDiff struct {
	// TriggersChanged is true if any trigger phrase, agent binding, or
	// authorization list changed.
	TriggersChanged bool
	TriggerChanges  []TriggerDiff

	LogLevelChanged bool
	NewLogLevel     LogLevel
}

// TriggerDiff describes what changed for a single trigger phrase.
type TriggerDiff struct {
	Phrase          string
	AgentChanged    bool
	SpeakersChanged bool
	Added           bool
	Removed         bool
}

// Diff compares old and new configs and returns what changed.
func Diff(oldCfg, newCfg *Config) ConfigDiff {
	d := ConfigDiff{}

	if oldCfg.Server.LogLevel != newCfg.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = newCfg.Server.LogLevel
	}

	oldTriggers := make(map[string]*TriggerConfig, len(oldCfg.Commands.Triggers))
	for i := range oldCfg.Commands.Triggers {
		oldTriggers[oldCfg.Commands.Triggers[i].Phrase] = &oldCfg.Commands.Triggers[i]
	}
	newTriggers := make(map[string]*TriggerConfig, len(newCfg.Commands.Triggers))
	for i := range newCfg.Commands.Triggers {
		newTriggers[newCfg.Commands.Triggers[i].Phrase] = &newCfg.Commands.Triggers[i]
	}

	for phrase, oldTr := range oldTriggers {
		newTr, exists := newTriggers[phrase]
		if !exists {
			d.TriggerChanges = append(d.TriggerChanges, TriggerDiff{Phrase: phrase, Removed: true})
			d.TriggersChanged = true
			continue
		}
		td := TriggerDiff{Phrase: phrase}
		if oldTr.AgentID != newTr.AgentID {
			td.AgentChanged = true
		}
		if !slices.Equal(oldTr.AllowedSpeakers, newTr.AllowedSpeakers) {
			td.SpeakersChanged = true
		}
		if td.AgentChanged || td.SpeakersChanged {
			d.TriggerChanges = append(d.TriggerChanges, td)
			d.TriggersChanged = true
		}
	}

	for phrase := range newTriggers {
		if _, exists := oldTriggers[phrase]; !exists {
			d.TriggerChanges = append(d.TriggerChanges, TriggerDiff{Phrase: phrase, Added: true})
			d.TriggersChanged = true
		}
	}

	return d
}
