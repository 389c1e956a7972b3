// Package agents resolves named system-agent configurations from the
// embedded agent file.
package agents

import (
	"embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"tidepool/internal/domain"
	chatSvc "tidepool/internal/domain/services/chat"
)

//go:embed config/*.yaml
var configFiles embed.FS

// Store answers agent lookups from the embedded agent table. The table is
// read once at construction and never mutated, so lookups need no locking.
type Store struct {
	agents map[string]chatSvc.AgentConfig
}

type agentFile struct {
	Agents []struct {
		Name   string `yaml:"name"`
		Prompt string `yaml:"prompt"`
	} `yaml:"agents"`
}

// NewStore loads the embedded agent file.
func NewStore() (*Store, error) {
	data, err := configFiles.ReadFile("config/agents.yaml")
	if err != nil {
		return nil, fmt.Errorf("read agent file: %w", err)
	}

	var file agentFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unmarshal agent file: %w", err)
	}

	s := &Store{agents: make(map[string]chatSvc.AgentConfig, len(file.Agents))}
	for _, a := range file.Agents {
		if a.Name == "" {
			return nil, fmt.Errorf("agent with empty name in agent file")
		}
		s.agents[a.Name] = chatSvc.AgentConfig{Name: a.Name, Prompt: a.Prompt}
	}
	return s, nil
}

// Get returns the configuration for a named agent.
func (s *Store) Get(name string) (*chatSvc.AgentConfig, error) {
	agent, ok := s.agents[name]
	if !ok {
		return nil, &domain.NotFoundError{Message: fmt.Sprintf("agent %q not found", name)}
	}
	return &agent, nil
}

// Names lists the configured agent names.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.agents))
	for name := range s.agents {
		names = append(names, name)
	}
	return names
}
