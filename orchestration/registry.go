package orchestration

import "fmt"

// AgentFactory builds a fresh Agent instance for a role name.
type AgentFactory func() Agent

// AgentRegistry maps agent/coalition names to factories (spec §2:
// "Maps name → factory; supports coalitions"). A coalition is a named
// group of agent role names expanded to its members wherever it appears
// in RuntimeConfig.Agents.
type AgentRegistry struct {
	factories  map[string]AgentFactory
	coalitions map[string][]string
}

func NewAgentRegistry() *AgentRegistry {
	return &AgentRegistry{
		factories:  make(map[string]AgentFactory),
		coalitions: make(map[string][]string),
	}
}

// Register associates name with a factory producing a fresh Agent.
func (r *AgentRegistry) Register(name string, factory AgentFactory) {
	r.factories[name] = factory
}

// RegisterCoalition associates a coalition name with an ordered list of
// member agent/coalition names.
func (r *AgentRegistry) RegisterCoalition(name string, members []string) {
	r.coalitions[name] = members
}

// Resolve expands names (which may include coalitions) into concrete
// agent role names in declaration order, coalition members substituted
// in place, duplicates removed keeping first occurrence.
func (r *AgentRegistry) Resolve(names []string) ([]string, error) {
	var resolved []string
	seen := make(map[string]struct{})
	var expand func(name string, trail map[string]bool) error
	expand = func(name string, trail map[string]bool) error {
		if members, ok := r.coalitions[name]; ok {
			if trail[name] {
				return fmt.Errorf("orchestration: coalition %q is self-referential", name)
			}
			trail[name] = true
			for _, m := range members {
				if err := expand(m, trail); err != nil {
					return err
				}
			}
			return nil
		}
		if _, ok := r.factories[name]; !ok {
			return fmt.Errorf("orchestration: unknown agent or coalition %q", name)
		}
		if _, dup := seen[name]; !dup {
			seen[name] = struct{}{}
			resolved = append(resolved, name)
		}
		return nil
	}
	for _, name := range names {
		if err := expand(name, map[string]bool{}); err != nil {
			return nil, err
		}
	}
	return resolved, nil
}

// New constructs a fresh Agent for name via its registered factory.
func (r *AgentRegistry) New(name string) (Agent, error) {
	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("orchestration: no factory registered for agent %q", name)
	}
	return factory(), nil
}
