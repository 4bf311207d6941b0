package secret

import (
	"slices"
	"strconv"
	"strings"
)

// DesiredStage pairs a secret with the stage the application wants live.
type DesiredStage struct {
	Identity Identity
	Stage    Stage
}

// DesiredStages maps each secret to the stage the application wants live.
// It is keyed by bare name, so identities that differ only in how they were
// spelled share one entry. It is the sole input of the read path.
type DesiredStages map[string]DesiredStage

// Set records stage as the desired stage of id, replacing any earlier entry
// for the same bare name.
func (d DesiredStages) Set(id Identity, stage Stage) {
	d[id.name] = DesiredStage{Identity: id, Stage: stage}
}

// Stage returns the desired stage of id, or NewestStage when id has no entry.
func (d DesiredStages) Stage(id Identity) Stage {
	if entry, ok := d[id.name]; ok {
		return entry.Stage
	}
	return NewestStage
}

// Identities returns the secrets in d ordered by bare name.
func (d DesiredStages) Identities() []Identity {
	ids := make([]Identity, 0, len(d))
	for _, entry := range d {
		ids = append(ids, entry.Identity)
	}
	SortIdentities(ids)
	return ids
}

// Lookup finds the desired stage by bare name.
func (d DesiredStages) Lookup(name string) (Identity, Stage, bool) {
	entry, ok := d[strings.ToLower(strings.TrimSpace(name))]
	return entry.Identity, entry.Stage, ok
}

// DesiredFromEnv scans env for pointer variables and parses their values as
// version numbers.
//
// Pointer variables naming the same secret in different letter case collapse
// into one entry. The canonical upper-case spelling wins, otherwise the first
// variable in sorted order does.
func (n Naming) DesiredFromEnv(env map[string]string) (DesiredStages, error) {
	names := make([]string, 0, len(env))
	for envName := range env {
		names = append(names, envName)
	}
	slices.Sort(names)

	desired := make(DesiredStages)
	for _, envName := range names {
		id, ok := n.TryParsePointerName(envName)
		if !ok {
			continue
		}
		value := env[envName]
		number, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return nil, PointerValueError{PointerName: envName, Value: value, Err: err}
		}
		if _, seen := desired[id.name]; seen && envName != id.pointerName {
			continue
		}
		desired.Set(id, Stage(number))
	}
	return desired, nil
}
