package rpc

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario describes a simulated swarm: the agent roster with scripted
// behaviors, the tasks to submit, and the proposals to put to a vote.
// Scenarios drive the `waggle run` command and integration tests.
type Scenario struct {
	// Agents is the simulated agent roster.
	Agents []ScenarioAgent `yaml:"agents"`
	// Tasks are submitted to the pipeline in order.
	Tasks []ScenarioTask `yaml:"tasks"`
	// Proposals are put to a consensus vote in order.
	Proposals []ScenarioProposal `yaml:"proposals"`
}

// ScenarioAgent is one agent entry in a scenario file.
type ScenarioAgent struct {
	ID           string        `yaml:"id"`
	Domain       string        `yaml:"domain"`
	Behavior     Behavior      `yaml:"behavior"`
	Latency      time.Duration `yaml:"latency"`
	FailAttempts int           `yaml:"fail_attempts"`
}

// ScenarioTask is one task entry in a scenario file.
type ScenarioTask struct {
	Target   string `yaml:"target"`
	Domain   string `yaml:"domain"`
	Priority string `yaml:"priority"`
}

// ScenarioProposal is one proposal entry in a scenario file.
type ScenarioProposal struct {
	Payload string        `yaml:"payload"`
	Domain  string        `yaml:"domain"`
	Quorum  float64       `yaml:"quorum"`
	Timeout time.Duration `yaml:"timeout"`
}

// LoadScenario reads and validates a scenario YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML and validates the agent roster.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}

	if len(sc.Agents) == 0 {
		return nil, fmt.Errorf("scenario has no agents")
	}

	seen := make(map[string]bool, len(sc.Agents))
	for i, a := range sc.Agents {
		if a.ID == "" {
			return nil, fmt.Errorf("agent %d has no id", i)
		}
		if seen[a.ID] {
			return nil, fmt.Errorf("duplicate agent id %q", a.ID)
		}
		seen[a.ID] = true
		if a.Domain == "" {
			return nil, fmt.Errorf("agent %q has no domain", a.ID)
		}
		if a.Behavior == "" {
			sc.Agents[i].Behavior = BehaviorHonest
		} else if !a.Behavior.Valid() {
			return nil, fmt.Errorf("agent %q has unknown behavior %q", a.ID, a.Behavior)
		}
	}

	for i, p := range sc.Proposals {
		if p.Quorum <= 0 || p.Quorum > 1 {
			return nil, fmt.Errorf("proposal %d: quorum %v outside (0,1]", i, p.Quorum)
		}
	}

	return &sc, nil
}

// ScriptedAgents converts the roster into simulator scripts.
func (sc *Scenario) ScriptedAgents() []ScriptedAgent {
	agents := make([]ScriptedAgent, 0, len(sc.Agents))
	for _, a := range sc.Agents {
		agents = append(agents, ScriptedAgent{
			ID:           a.ID,
			Domain:       a.Domain,
			Behavior:     a.Behavior,
			Latency:      a.Latency,
			FailAttempts: a.FailAttempts,
		})
	}
	return agents
}

// DefaultScenario returns a starter scenario used by `waggle init`.
func DefaultScenario() string {
	return `# waggle simulation scenario
agents:
  - id: sec-1
    domain: security
    behavior: honest
    latency: 20ms
  - id: sec-2
    domain: security
    behavior: honest
    latency: 30ms
  - id: sec-3
    domain: security
    behavior: contrarian
    latency: 25ms
  - id: sec-4
    domain: security
    behavior: byzantine
  - id: perf-1
    domain: performance
    behavior: flaky
    fail_attempts: 1

tasks:
  - target: pkg/auth/handler.go
    domain: security
    priority: high
  - target: pkg/cache/lru.go
    domain: performance
    priority: medium

proposals:
  - payload: "commit refactor of auth handler"
    domain: security
    quorum: 0.6
    timeout: 5s
`
}
