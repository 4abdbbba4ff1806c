// ABOUTME: Agent card discovery document, optionally loaded from TOML.
// ABOUTME: Falls back to a card generated from the engine's capabilities.

package a2a

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/quarrydev/quarry/internal/task"
)

// AgentCard describes this agent to its peers.
type AgentCard struct {
	Name         string           `json:"name" toml:"name"`
	Description  string           `json:"description" toml:"description"`
	Version      string           `json:"version" toml:"version"`
	Capabilities []CardCapability `json:"capabilities" toml:"capabilities"`
}

// CardCapability is one advertised capability. The input schema is a
// plain map so TOML card files can express it as a nested table.
type CardCapability struct {
	Name        string         `json:"name" toml:"name"`
	Description string         `json:"description" toml:"description"`
	InputSchema map[string]any `json:"input_schema" toml:"input_schema"`
	CostPerCall float64        `json:"cost_per_call" toml:"cost_per_call"`
}

// LoadAgentCard reads a card from a TOML file. Operators use this to
// override the generated card with richer descriptions.
func LoadAgentCard(path string) (*AgentCard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading agent card: %w", err)
	}
	var card AgentCard
	if err := toml.Unmarshal(data, &card); err != nil {
		return nil, fmt.Errorf("parsing agent card: %w", err)
	}
	if card.Name == "" {
		return nil, fmt.Errorf("agent card %s: name is required", path)
	}
	return &card, nil
}

// DefaultAgentCard builds a card from the engine's registered
// capabilities, sorted by name for stable output.
func DefaultAgentCard(engine *task.Engine) *AgentCard {
	caps := engine.Capabilities()
	sort.Slice(caps, func(i, j int) bool { return caps[i].Name() < caps[j].Name() })

	card := &AgentCard{
		Name:         "quarry-tasks",
		Description:  "Asynchronous document analysis agent.",
		Version:      "1.0.0",
		Capabilities: make([]CardCapability, len(caps)),
	}
	for i, c := range caps {
		var schema map[string]any
		if err := json.Unmarshal(c.InputSchema(), &schema); err != nil {
			schema = map[string]any{"type": "object"}
		}
		card.Capabilities[i] = CardCapability{
			Name:        c.Name(),
			Description: c.Description(),
			InputSchema: schema,
			CostPerCall: c.EstimateCost(nil),
		}
	}
	return card
}
