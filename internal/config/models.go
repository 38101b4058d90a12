package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/capitalize-ai/chat-assistant/internal/selector"
)

// Models is the model catalogue: descriptors plus the chain per task type.
type Models struct {
	Models []selector.ModelDescriptor     `yaml:"models"`
	Chains map[selector.TaskType][]string `yaml:"chains"`
}

// DefaultModels returns the built-in catalogue.
func DefaultModels() *Models {
	return &Models{Models: selector.DefaultModels(), Chains: selector.DefaultChains()}
}

// LoadModels reads a YAML catalogue from path. An empty or missing path yields
// the defaults; task types absent from the file keep their default chain.
func LoadModels(path string) (*Models, error) {
	defaults := DefaultModels()
	if path == "" {
		return defaults, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return defaults, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read models file: %w", err)
	}

	var m Models
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse models file %s: %w", path, err)
	}
	if len(m.Models) == 0 {
		m.Models = defaults.Models
	}
	if m.Chains == nil {
		m.Chains = make(map[selector.TaskType][]string)
	}
	for task, chain := range defaults.Chains {
		if _, ok := m.Chains[task]; !ok {
			m.Chains[task] = chain
		}
	}

	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("models file %s: %w", path, err)
	}
	return &m, nil
}

func (m *Models) validate() error {
	known := make(map[string]bool, len(m.Models))
	for _, d := range m.Models {
		if d.ID == "" {
			return errors.New("model without id")
		}
		known[d.ID] = true
	}
	for task, chain := range m.Chains {
		if len(chain) == 0 {
			return fmt.Errorf("empty chain for %s", task)
		}
		for _, id := range chain {
			if !known[id] {
				return fmt.Errorf("chain %s references unknown model %q", task, id)
			}
		}
	}
	return nil
}
