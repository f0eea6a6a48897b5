// Package manifest loads the TOML task-set declaration the daemon boots
// from. The task set is static, the way embedded kernels declare theirs:
// every task is named up front with its RAM size and the server it runs.
package manifest

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// DefaultTaskRAM is the simulated RAM given to a task whose declaration
// omits a size.
const DefaultTaskRAM = 64 * 1024

// ErrInvalid is the umbrella error for every rejected manifest.
var ErrInvalid = errors.New("invalid manifest")

// Manifest is the parsed task-set declaration.
type Manifest struct {
	Kernel KernelDecl `toml:"kernel"`
	Tasks  []TaskDecl `toml:"tasks"`
}

// KernelDecl tunes kernel-wide knobs.
type KernelDecl struct {
	// EventBuffer is the per-subscriber event queue depth; 0 takes the
	// kernel default.
	EventBuffer int `toml:"event_buffer"`
}

// TaskDecl declares one task slot.
type TaskDecl struct {
	Name   string `toml:"name"`
	RAM    uint64 `toml:"ram"`
	Server string `toml:"server"`
}

// Load reads and validates the manifest at path. known names the servers
// the caller can actually boot.
func Load(path string, known map[string]struct{}) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(data, known)
}

// Parse validates a manifest from raw TOML.
func Parse(data []byte, known map[string]struct{}) (*Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if len(m.Tasks) == 0 {
		return nil, fmt.Errorf("%w: no tasks declared", ErrInvalid)
	}
	seen := make(map[string]struct{}, len(m.Tasks))
	for i := range m.Tasks {
		t := &m.Tasks[i]
		if t.Name == "" {
			return nil, fmt.Errorf("%w: task %d has no name", ErrInvalid, i)
		}
		if _, dup := seen[t.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate task name %q", ErrInvalid, t.Name)
		}
		seen[t.Name] = struct{}{}
		if t.Server == "" {
			return nil, fmt.Errorf("%w: task %q names no server", ErrInvalid, t.Name)
		}
		if known != nil {
			if _, ok := known[t.Server]; !ok {
				return nil, fmt.Errorf("%w: task %q wants unknown server %q", ErrInvalid, t.Name, t.Server)
			}
		}
		if t.RAM == 0 {
			t.RAM = DefaultTaskRAM
		}
	}
	return &m, nil
}
