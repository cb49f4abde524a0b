// Package experience loads and activates the session's experience: the
// named bundle of feature modules and default entity template the session
// currently runs.
package experience

import "slices"

// Definition is the resolved content of an experience. It is replaced as a
// whole on every switch and never mutated after load.
type Definition struct {
	ID              ID
	Description     string
	Features        []string // Feature modules to activate, in request order
	DefaultTemplate string   // Entity template used when a member has no selection
}

// Clone returns a deep copy.
func (d *Definition) Clone() *Definition {
	if d == nil {
		return nil
	}
	c := *d
	c.Features = slices.Clone(d.Features)
	return &c
}

// LoadState is the coordinator's load progress.
type LoadState int

const (
	Unloaded LoadState = iota
	LoadingResources
	LoadingModules
	Ready
	Failed
)

// AllLoadStates lists every state in declaration order.
var AllLoadStates = []LoadState{Unloaded, LoadingResources, LoadingModules, Ready, Failed}

func (s LoadState) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case LoadingResources:
		return "loading_resources"
	case LoadingModules:
		return "loading_modules"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s LoadState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func loadStateNames() []string {
	names := make([]string, len(AllLoadStates))
	for i, s := range AllLoadStates {
		names[i] = s.String()
	}
	return names
}
