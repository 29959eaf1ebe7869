package state

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/wagglenet/waggle/pkg/models"
)

// Store is the audit log over a DB. It implements the swarm's Recorder
// interface and backs the status command.
type Store struct {
	db *DB
}

// NewStore creates a Store over an opened, migrated DB.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// RecordTask persists a terminal pipeline task.
// Recording the same task ID again overwrites the earlier row.
func (s *Store) RecordTask(task models.PipelineTask) error {
	var output string
	if task.Result != nil {
		output = task.Result.Output
	}
	var completedAt any
	if task.CompletedAt != nil {
		completedAt = formatTime(*task.CompletedAt)
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO tasks
			(id, target, domain, priority, status, retry_count, attempts, output, error, submitted_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.Target, task.Domain, task.Priority.String(), string(task.Status),
		task.RetryCount, strings.Join(task.Attempts, ","), output, task.Error,
		formatTime(task.SubmittedAt), completedAt)
	if err != nil {
		return fmt.Errorf("record task %s: %w", task.ID, err)
	}
	return nil
}

// RecordConsensus persists a completed consensus round.
func (s *Store) RecordConsensus(result models.ConsensusResult) error {
	quorum := 0
	if result.QuorumAchieved {
		quorum = 1
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO decisions
			(id, status, decision, confidence, quorum_achieved, vote_count, byzantine_agents, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, result.DecisionID, string(result.Status), string(result.Decision), result.Confidence,
		quorum, len(result.Votes), strings.Join(result.ByzantineAgents, ","),
		formatTime(result.CompletedAt))
	if err != nil {
		return fmt.Errorf("record decision %s: %w", result.DecisionID, err)
	}
	return nil
}

// RecordAgentSnapshot persists one agent's trust and health reading.
func (s *Store) RecordAgentSnapshot(a models.Agent) error {
	suspicious := 0
	if a.Suspicious {
		suspicious = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO agent_snapshots (agent_id, domain, trust_score, suspicious, health, taken_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, a.ID, a.Domain, a.TrustScore, suspicious, string(a.Health), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("record agent snapshot %s: %w", a.ID, err)
	}
	return nil
}

// TaskRecord is one row from the tasks table.
type TaskRecord struct {
	ID          string
	Target      string
	Domain      string
	Priority    string
	Status      string
	RetryCount  int
	Attempts    []string
	Output      string
	Error       string
	SubmittedAt time.Time
	CompletedAt *time.Time
}

// ListTasks returns recorded tasks, newest first, optionally filtered by
// domain. A zero limit returns everything.
func (s *Store) ListTasks(domain string, limit int) ([]TaskRecord, error) {
	query := `
		SELECT id, target, domain, priority, status, retry_count, attempts, output, error, submitted_at, completed_at
		FROM tasks
	`
	args := []any{}
	if domain != "" {
		query += " WHERE domain = ?"
		args = append(args, domain)
	}
	query += " ORDER BY submitted_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		var r TaskRecord
		var attempts, submittedAt string
		var completedAt sql.NullString
		if err := rows.Scan(&r.ID, &r.Target, &r.Domain, &r.Priority, &r.Status,
			&r.RetryCount, &attempts, &r.Output, &r.Error, &submittedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		if attempts != "" {
			r.Attempts = strings.Split(attempts, ",")
		}
		if t, err := parseTime(submittedAt); err == nil {
			r.SubmittedAt = t
		}
		r.CompletedAt = parseNullableTime(completedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// DecisionRecord is one row from the decisions table.
type DecisionRecord struct {
	ID              string
	Status          string
	Decision        string
	Confidence      float64
	QuorumAchieved  bool
	VoteCount       int
	ByzantineAgents []string
	CompletedAt     time.Time
}

// ListDecisions returns recorded consensus rounds, newest first.
// A zero limit returns everything.
func (s *Store) ListDecisions(limit int) ([]DecisionRecord, error) {
	query := `
		SELECT id, status, decision, confidence, quorum_achieved, vote_count, byzantine_agents, completed_at
		FROM decisions
		ORDER BY completed_at DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		var r DecisionRecord
		var quorum int
		var byzantine, completedAt string
		if err := rows.Scan(&r.ID, &r.Status, &r.Decision, &r.Confidence,
			&quorum, &r.VoteCount, &byzantine, &completedAt); err != nil {
			return nil, fmt.Errorf("scan decision row: %w", err)
		}
		r.QuorumAchieved = quorum != 0
		if byzantine != "" {
			r.ByzantineAgents = strings.Split(byzantine, ",")
		}
		if t, err := parseTime(completedAt); err == nil {
			r.CompletedAt = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TrustHistory returns an agent's recorded trust readings, oldest first.
func (s *Store) TrustHistory(agentID string) ([]float64, error) {
	rows, err := s.db.Query(`
		SELECT trust_score FROM agent_snapshots WHERE agent_id = ? ORDER BY taken_at ASC, rowid ASC
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("trust history: %w", err)
	}
	defer rows.Close()

	var scores []float64
	for rows.Next() {
		var score float64
		if err := rows.Scan(&score); err != nil {
			return nil, fmt.Errorf("scan trust row: %w", err)
		}
		scores = append(scores, score)
	}
	return scores, rows.Err()
}

// PurgeOldTasks deletes task records older than the specified duration.
// Returns the number of tasks deleted.
func (s *Store) PurgeOldTasks(olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))

	result, err := s.db.Exec(`DELETE FROM tasks WHERE submitted_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge old tasks: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return count, nil
}
