package slot

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Slot is one fixed operator seat defined in the roster file.
type Slot struct {
	ID    string `yaml:"id" json:"id"`
	Label string `yaml:"label" json:"label"`
	Role  string `yaml:"role,omitempty" json:"role,omitempty"`
}

// Accepts reports whether the slot may take a task with the given owner
// field. An empty owner means unpinned work; otherwise the pin must name
// this slot or its role.
func (s Slot) Accepts(owner string) bool {
	if owner == "" || owner == s.ID {
		return true
	}
	return s.Role != "" && owner == s.Role
}

// Roster is the fixed set of slots the server works with. It is loaded
// once at startup; changing it requires a restart.
type Roster struct {
	slots []Slot
	byID  map[string]Slot
}

type rosterFile struct {
	Slots []Slot `yaml:"slots"`
}

// LoadRoster reads the roster file. Slot order in the file is the order
// the dispatcher offers work in.
func LoadRoster(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roster %s: %w", path, err)
	}
	r, err := ParseRoster(data)
	if err != nil {
		return nil, fmt.Errorf("invalid roster %s: %w", path, err)
	}
	return r, nil
}

func ParseRoster(data []byte) (*Roster, error) {
	var f rosterFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse roster: %w", err)
	}
	if len(f.Slots) == 0 {
		return nil, fmt.Errorf("roster has no slots")
	}

	byID := make(map[string]Slot, len(f.Slots))
	for i, s := range f.Slots {
		if s.ID == "" {
			return nil, fmt.Errorf("slot %d has no id", i)
		}
		if _, ok := byID[s.ID]; ok {
			return nil, fmt.Errorf("duplicate slot id %q", s.ID)
		}
		if s.Label == "" {
			s.Label = s.ID
			f.Slots[i] = s
		}
		byID[s.ID] = s
	}
	return &Roster{slots: f.Slots, byID: byID}, nil
}

// Slots returns all slots in roster order.
func (r *Roster) Slots() []Slot {
	return r.slots
}

func (r *Roster) Get(id string) (Slot, bool) {
	s, ok := r.byID[id]
	return s, ok
}

func (r *Roster) Len() int {
	return len(r.slots)
}
