package swarm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wagglenet/waggle/internal/consensus"
	"github.com/wagglenet/waggle/internal/directory"
	"github.com/wagglenet/waggle/internal/health"
	"github.com/wagglenet/waggle/internal/pipeline"
	"github.com/wagglenet/waggle/internal/rpc"
	"github.com/wagglenet/waggle/pkg/models"
)

// Recorder persists terminal task records and consensus results for
// later inspection. Implemented by the state package's audit store.
type Recorder interface {
	RecordTask(task models.PipelineTask) error
	RecordConsensus(result models.ConsensusResult) error
}

// RequiredConfig contains the minimal required configuration for a Swarm.
// All fields are required and have no defaults.
type RequiredConfig struct {
	// Transport carries vote requests and task executions to agents.
	Transport rpc.AgentRPC
	// Status answers health polls for registered agents.
	Status rpc.StatusProvider
}

// RatifyConfig controls post-execution result ratification: completed
// task results are put to a consensus vote before being accepted.
type RatifyConfig struct {
	// QuorumFraction is the agreement fraction required to ratify.
	QuorumFraction float64
	// Timeout bounds the ratification round.
	Timeout time.Duration
	// MinVoters skips ratification when fewer candidates are available.
	MinVoters int
}

// Option configures a Swarm. Use With* functions to create Options.
type Option func(*swarmOptions)

// swarmOptions holds all optional configuration.
type swarmOptions struct {
	consensusConfig consensus.Config
	detectorConfig  consensus.DetectorConfig
	pipelineConfig  pipeline.Config
	healthConfig    health.Config
	suspicionFloor  float64
	eventBuffer     int
	logger          *DebugLogger
	recorder        Recorder
	signals         *SignalWatcher
	ratify          *RatifyConfig
}

// WithConsensusConfig sets the coordinator's screening and trust parameters.
func WithConsensusConfig(cfg consensus.Config) Option {
	return func(o *swarmOptions) { o.consensusConfig = cfg }
}

// WithDetectorConfig sets the Byzantine detection heuristics.
func WithDetectorConfig(cfg consensus.DetectorConfig) Option {
	return func(o *swarmOptions) { o.detectorConfig = cfg }
}

// WithPipelineConfig sets the pipeline capacity and retry parameters.
func WithPipelineConfig(cfg pipeline.Config) Option {
	return func(o *swarmOptions) { o.pipelineConfig = cfg }
}

// WithHealthConfig sets the health monitor's polling and classification limits.
func WithHealthConfig(cfg health.Config) Option {
	return func(o *swarmOptions) { o.healthConfig = cfg }
}

// WithSuspicionFloor sets the trust score below which agents are
// flagged suspicious.
func WithSuspicionFloor(floor float64) Option {
	return func(o *swarmOptions) { o.suspicionFloor = floor }
}

// WithEventBuffer sets the event channel buffer size.
func WithEventBuffer(n int) Option {
	return func(o *swarmOptions) { o.eventBuffer = n }
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(o *swarmOptions) { o.logger = l }
}

// WithRecorder sets the audit store for terminal tasks and results.
func WithRecorder(r Recorder) Option {
	return func(o *swarmOptions) { o.recorder = r }
}

// WithSignalWatcher sets the operator signal watcher.
func WithSignalWatcher(sw *SignalWatcher) Option {
	return func(o *swarmOptions) { o.signals = sw }
}

// WithRatification enables consensus ratification of completed task results.
func WithRatification(cfg RatifyConfig) Option {
	return func(o *swarmOptions) { o.ratify = &cfg }
}

// Swarm is the top-level facade over the directory, consensus
// coordinator, pipeline manager, and health monitor.
type Swarm struct {
	dir         *directory.Directory
	coordinator *consensus.Coordinator
	manager     *pipeline.Manager
	monitor     *health.Monitor
	emitter     *EventEmitter
	logger      *DebugLogger
	recorder    Recorder
	signals     *SignalWatcher
	ratify      *RatifyConfig

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Swarm from required configuration plus options.
func New(req RequiredConfig, opts ...Option) (*Swarm, error) {
	if req.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}

	options := &swarmOptions{
		consensusConfig: consensus.DefaultConfig(),
		detectorConfig:  consensus.DefaultDetectorConfig(),
		pipelineConfig:  pipeline.DefaultConfig(),
		healthConfig:    health.DefaultConfig(),
		suspicionFloor:  0.3,
		eventBuffer:     256,
		logger:          NopLogger(),
	}
	for _, opt := range opts {
		opt(options)
	}
	setPackageLogger(options.logger)

	dir := directory.New(options.suspicionFloor)
	s := &Swarm{
		dir:         dir,
		coordinator: consensus.NewCoordinator(dir, req.Transport, options.consensusConfig, options.detectorConfig),
		manager:     pipeline.NewManager(dir, req.Transport, options.pipelineConfig),
		emitter:     NewEventEmitter(options.eventBuffer),
		logger:      options.logger,
		recorder:    options.recorder,
		signals:     options.signals,
		ratify:      options.ratify,
	}
	if req.Status != nil {
		s.monitor = health.NewMonitor(dir, req.Status, options.healthConfig)
	}

	s.wireHooks()
	return s, nil
}

// wireHooks connects subsystem callbacks to events, audit, and logging.
func (s *Swarm) wireHooks() {
	s.dir.SetProvisionHook(func(a models.Agent) {
		debugLog("provisioned worker %s for domain %s", a.ID, a.Domain)
		s.emitter.Emit(Event{Type: EventAgentProvisioned, AgentID: a.ID, Domain: a.Domain})
	})

	s.coordinator.SetResultHook(func(result models.ConsensusResult) {
		debugLog("decision %s finished: %s (%s)", result.DecisionID, result.Status, result.Decision)
		if s.recorder != nil {
			if err := s.recorder.RecordConsensus(result); err != nil {
				debugLog("record consensus %s: %v", result.DecisionID, err)
			}
		}
		r := result
		s.emitter.Emit(Event{
			Type:       EventConsensusCompleted,
			DecisionID: result.DecisionID,
			Message:    string(result.Status),
			Result:     &r,
		})
	})

	s.coordinator.SetByzantineHook(func(agentID, decisionID string) {
		debugLog("agent %s flagged byzantine in decision %s", agentID, decisionID)
		s.emitter.Emit(Event{Type: EventAgentFlagged, AgentID: agentID, DecisionID: decisionID})
	})

	s.manager.SetEventHook(func(e pipeline.TaskEvent) {
		s.emitter.Emit(Event{
			Type:   taskEventType(e.Type),
			TaskID: e.Task.ID,
			Domain: e.Task.Domain,
			// Failed tasks carry the last error as the message.
			Message: e.Task.Error,
		})
	})

	s.manager.SetTerminalHook(func(task models.PipelineTask) {
		debugLog("task %s finished: %s (%d retries)", task.ID, task.Status, task.RetryCount)
		if s.recorder != nil {
			if err := s.recorder.RecordTask(task); err != nil {
				debugLog("record task %s: %v", task.ID, err)
			}
		}
	})

	if s.monitor != nil {
		s.monitor.SetDegradedHook(func(agentID string, state models.HealthState) {
			debugLog("agent %s degraded to %s", agentID, state)
			s.emitter.Emit(Event{Type: EventHealthDegraded, AgentID: agentID, Health: state})
		})
	}

	if s.ratify != nil {
		s.manager.SetRatifier(s.ratifyResult)
	}

	if s.signals != nil {
		s.signals.SetDrainHook(func(active bool) {
			if active {
				s.manager.Pause()
			} else {
				s.manager.Resume()
			}
		})
		s.signals.SetKillHook(func() {
			debugLog("kill signal received")
			s.Stop()
		})
	}
}

// taskEventType maps pipeline event names onto swarm event types.
func taskEventType(name string) EventType {
	switch name {
	case "task.queued":
		return EventTaskQueued
	case "task.started":
		return EventTaskStarted
	case "task.completed":
		return EventTaskCompleted
	default:
		return EventTaskFailed
	}
}

// ratifyResult puts a completed task result to a consensus vote among
// the other registered agents.
func (s *Swarm) ratifyResult(ctx context.Context, task models.PipelineTask, result models.TaskResult) error {
	candidates := make([]string, 0)
	for _, a := range s.dir.All() {
		if a.ID == task.AssignedTo {
			continue
		}
		candidates = append(candidates, a.ID)
	}
	if len(candidates) < s.ratify.MinVoters {
		debugLog("task %s: skipping ratification, %d voters available", task.ID, len(candidates))
		return nil
	}

	proposal := models.Proposal{
		Domain:         task.Domain,
		Payload:        fmt.Sprintf("ratify task %s output for %s", task.ID, task.Target),
		QuorumFraction: s.ratify.QuorumFraction,
		Timeout:        s.ratify.Timeout,
	}
	outcome, err := s.coordinator.AchieveConsensus(ctx, proposal, candidates)
	if err != nil {
		return fmt.Errorf("ratification round: %w", err)
	}
	if outcome.Decision != models.DecisionExecute {
		return fmt.Errorf("result rejected by quorum: %s", outcome.Status)
	}
	return nil
}

// Start launches the background health monitor. Calling Start twice is
// an error; a swarm that never starts can still run consensus rounds
// and tasks, it just does no health polling.
func (s *Swarm) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("swarm already started")
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if s.monitor != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.monitor.Run(runCtx)
		}()
	}

	debugLog("swarm started")
	return nil
}

// Stop drains background work and closes the event channel.
// Safe to call more than once.
func (s *Swarm) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.manager.Stop()
	s.wg.Wait()
	s.emitter.Close()
	debugLog("swarm stopped")
}

// RegisterAgent adds an agent to the swarm's directory.
func (s *Swarm) RegisterAgent(a models.Agent) error {
	return s.dir.Register(a)
}

// Agents returns copies of every registered agent.
func (s *Swarm) Agents() []models.Agent {
	return s.dir.All()
}

// Directory exposes the shared agent registry.
func (s *Swarm) Directory() *directory.Directory { return s.dir }

// Events returns the swarm's event stream.
func (s *Swarm) Events() <-chan Event {
	return s.emitter.Events()
}

// AchieveConsensus runs one decision round over the candidate agents.
// With a nil candidate list, every registered agent is a candidate.
func (s *Swarm) AchieveConsensus(ctx context.Context, proposal models.Proposal, candidateIDs []string) (models.ConsensusResult, error) {
	if candidateIDs == nil {
		for _, a := range s.dir.All() {
			candidateIDs = append(candidateIDs, a.ID)
		}
	}
	return s.coordinator.AchieveConsensus(ctx, proposal, candidateIDs)
}

// SubmitTask enqueues a pipeline task and returns its ID.
func (s *Swarm) SubmitTask(domain, target string, priority models.TaskPriority) (string, error) {
	return s.manager.SubmitTask(domain, target, priority)
}

// GetTaskStatus returns a snapshot of a submitted task.
func (s *Swarm) GetTaskStatus(taskID string) (models.PipelineTask, bool) {
	return s.manager.GetTaskStatus(taskID)
}

// AgentHealth is one agent's row in a health snapshot.
type AgentHealth struct {
	ID         string             `json:"id"`
	Domain     string             `json:"domain"`
	Status     models.AgentStatus `json:"status"`
	Health     models.HealthState `json:"health"`
	TrustScore float64            `json:"trust_score"`
	Suspicious bool               `json:"suspicious"`
}

// HealthSnapshot is a point-in-time view of the whole swarm. Taking a
// snapshot never mutates state: two back-to-back snapshots of an idle
// swarm are identical apart from the timestamp.
type HealthSnapshot struct {
	Agents        []AgentHealth                  `json:"agents"`
	Queues        map[string]pipeline.QueueStats `json:"queues"`
	Consensus     consensus.Stats                `json:"consensus"`
	DroppedEvents uint64                         `json:"dropped_events"`
	GeneratedAt   time.Time                      `json:"generated_at"`
}

// GetSwarmHealth assembles a read-only snapshot of agents, queues, and
// consensus counters.
func (s *Swarm) GetSwarmHealth() HealthSnapshot {
	snapshot := HealthSnapshot{
		Queues:        make(map[string]pipeline.QueueStats),
		Consensus:     s.coordinator.Stats(),
		DroppedEvents: s.emitter.DroppedCount(),
		GeneratedAt:   time.Now(),
	}
	for _, a := range s.dir.All() {
		snapshot.Agents = append(snapshot.Agents, AgentHealth{
			ID:         a.ID,
			Domain:     a.Domain,
			Status:     a.Status,
			Health:     a.Health,
			TrustScore: a.TrustScore,
			Suspicious: a.Suspicious,
		})
	}
	sort.Slice(snapshot.Agents, func(i, j int) bool {
		return snapshot.Agents[i].ID < snapshot.Agents[j].ID
	})
	for _, domain := range s.manager.Queue().Domains() {
		snapshot.Queues[domain] = s.manager.Queue().Stats(domain)
	}
	return snapshot
}
