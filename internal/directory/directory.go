// Package directory tracks the worker agents known to the swarm: their
// identity, health, trust score, and domain pool membership. It is the
// only state shared between the consensus and pipeline subsystems.
package directory

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wagglenet/waggle/pkg/models"
)

// entry wraps one agent with its own lock so a single agent's state is
// never read-modified-written concurrently from two call sites. The
// directory lock guards membership only; unrelated agents never
// serialize on each other.
type entry struct {
	mu    sync.Mutex
	agent models.Agent
}

// Directory is the thread-safe registry of swarm agents.
type Directory struct {
	// mu protects the agents map itself, not the entries.
	mu     sync.RWMutex
	agents map[string]*entry

	// suspicionThreshold marks agents suspicious when trust drops below it.
	suspicionThreshold float64

	// onProvision is called whenever the directory creates a fresh
	// worker, so transports can learn about it.
	onProvision func(models.Agent)
}

// New creates an empty Directory using the given suspicion threshold.
// Agents whose trust falls below the threshold are flagged suspicious
// and excluded from pre-screening until their trust recovers.
func New(suspicionThreshold float64) *Directory {
	return &Directory{
		agents:             make(map[string]*entry),
		suspicionThreshold: suspicionThreshold,
	}
}

// SetProvisionHook registers a callback invoked for each worker the
// directory provisions. Must be set before the pipeline starts.
func (d *Directory) SetProvisionHook(fn func(models.Agent)) {
	d.onProvision = fn
}

// Register adds an agent to the directory. A zero trust score is
// replaced with the default. Re-registering an existing ID is an error.
func (d *Directory) Register(a models.Agent) error {
	if a.ID == "" {
		return fmt.Errorf("agent id is empty")
	}
	if a.TrustScore == 0 {
		a.TrustScore = models.DefaultTrustScore
	}
	if a.Status == "" {
		a.Status = models.AgentStatusActive
	}
	if a.Health == "" {
		a.Health = models.HealthHealthy
	}
	if a.RegisteredAt.IsZero() {
		a.RegisteredAt = time.Now()
	}
	if a.LastHeartbeat.IsZero() {
		a.LastHeartbeat = a.RegisteredAt
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.agents[a.ID]; exists {
		return fmt.Errorf("agent %q already registered", a.ID)
	}
	d.agents[a.ID] = &entry{agent: a}
	return nil
}

// Deregister removes an agent from the directory.
func (d *Directory) Deregister(agentID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.agents, agentID)
}

// Get returns a copy of the agent's current state.
func (d *Directory) Get(agentID string) (models.Agent, bool) {
	e := d.lookup(agentID)
	if e == nil {
		return models.Agent{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.agent, true
}

// All returns copies of every registered agent.
func (d *Directory) All() []models.Agent {
	d.mu.RLock()
	entries := make([]*entry, 0, len(d.agents))
	for _, e := range d.agents {
		entries = append(entries, e)
	}
	d.mu.RUnlock()

	agents := make([]models.Agent, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		agents = append(agents, e.agent)
		e.mu.Unlock()
	}
	return agents
}

// Count returns the number of registered agents.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.agents)
}

// Update applies fn to the agent's state under its per-agent lock.
// Returns false if the agent is not registered.
func (d *Directory) Update(agentID string, fn func(*models.Agent)) bool {
	e := d.lookup(agentID)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.agent)
	return true
}

// UpdateHealth writes a health classification and the underlying
// signals into the agent's record. Unhealthy classifications also pull
// the agent out of the active pool; a healthy reading restores an
// unhealthy agent to active (but never overrides busy).
func (d *Directory) UpdateHealth(agentID string, health models.HealthState, heartbeat time.Time, responseTime time.Duration, taskLoad float64) bool {
	return d.Update(agentID, func(a *models.Agent) {
		a.Health = health
		a.LastHeartbeat = heartbeat
		a.ResponseTime = responseTime
		a.TaskLoad = taskLoad
		switch {
		case health == models.HealthUnhealthy:
			a.Status = models.AgentStatusUnhealthy
		case a.Status == models.AgentStatusUnhealthy:
			a.Status = models.AgentStatusActive
		}
	})
}

// SetBusy toggles the agent between busy and active.
func (d *Directory) SetBusy(agentID string, busy bool) bool {
	return d.Update(agentID, func(a *models.Agent) {
		if busy {
			a.Status = models.AgentStatusBusy
		} else if a.Status == models.AgentStatusBusy {
			a.Status = models.AgentStatusActive
		}
	})
}

// AdjustTrust adds delta to the agent's trust score, clamping to [0,1].
// Trust below the suspicion threshold flags the agent suspicious; trust
// at or above it clears the flag. Returns the new score.
func (d *Directory) AdjustTrust(agentID string, delta float64) (float64, bool) {
	e := d.lookup(agentID)
	if e == nil {
		return 0, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	score := e.agent.TrustScore + delta
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	e.agent.TrustScore = score
	e.agent.Suspicious = score < d.suspicionThreshold
	return score, true
}

// MarkSuspicious flags the agent regardless of its trust score.
func (d *Directory) MarkSuspicious(agentID string) bool {
	return d.Update(agentID, func(a *models.Agent) {
		a.Suspicious = true
	})
}

// TrustScore returns the agent's current trust score.
func (d *Directory) TrustScore(agentID string) (float64, bool) {
	a, ok := d.Get(agentID)
	if !ok {
		return 0, false
	}
	return a.TrustScore, true
}

// lookup returns the entry for an agent ID, or nil.
func (d *Directory) lookup(agentID string) *entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.agents[agentID]
}

// WorkerFor returns an active, non-suspicious worker for the domain,
// provisioning a fresh one when the domain has no usable worker.
func (d *Directory) WorkerFor(domain string) (models.Agent, error) {
	if domain == "" {
		return models.Agent{}, fmt.Errorf("domain is empty")
	}

	var best *models.Agent
	for _, a := range d.All() {
		if a.Domain != domain || a.Suspicious {
			continue
		}
		if a.Status != models.AgentStatusActive {
			continue
		}
		// Prefer the least loaded worker.
		if best == nil || a.TaskLoad < best.TaskLoad {
			agent := a
			best = &agent
		}
	}
	if best != nil {
		return *best, nil
	}

	return d.provision(domain)
}

// ReplaceWorker discards a worker assumed Byzantine and provisions a
// fresh one for the domain. The failed worker leaves the active pool
// but stays registered (marked unhealthy) so its trust history survives.
func (d *Directory) ReplaceWorker(domain, failedID string) (models.Agent, error) {
	d.Update(failedID, func(a *models.Agent) {
		a.Status = models.AgentStatusUnhealthy
		a.Health = models.HealthUnhealthy
	})
	return d.provision(domain)
}

// provision registers a fresh worker for the domain.
func (d *Directory) provision(domain string) (models.Agent, error) {
	a := models.Agent{
		ID:           fmt.Sprintf("%s-worker-%s", domain, uuid.New().String()[:8]),
		Domain:       domain,
		Status:       models.AgentStatusActive,
		Health:       models.HealthHealthy,
		TrustScore:   models.DefaultTrustScore,
		RegisteredAt: time.Now(),
	}
	a.LastHeartbeat = a.RegisteredAt
	if err := d.Register(a); err != nil {
		return models.Agent{}, fmt.Errorf("provision worker: %w", err)
	}
	if d.onProvision != nil {
		d.onProvision(a)
	}
	return a, nil
}
