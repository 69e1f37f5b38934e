package rules

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresFlowStore implements FlowStore backed by PostgreSQL
// Flows are scoped to a workspace; rules live in their own table and are
// rewritten in array order whenever the flow is saved.
type PostgresFlowStore struct {
	db          *sql.DB
	workspaceID string
}

// NewPostgresFlowStore creates a new PostgreSQL-backed FlowStore for a specific workspace
func NewPostgresFlowStore(db *sql.DB, workspaceID string) *PostgresFlowStore {
	return &PostgresFlowStore{
		db:          db,
		workspaceID: workspaceID,
	}
}

// Add inserts a new flow and its rules
func (s *PostgresFlowStore) Add(flow *Flow) error {
	var exists bool
	err := s.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM flows WHERE id = $1 AND workspace_id = $2)
	`, flow.ID, s.workspaceID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check flow existence: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrFlowExists, flow.ID)
	}

	now := time.Now()
	flow.CreatedAt = now
	flow.UpdatedAt = now

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO flows (id, workspace_id, name, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, flow.ID, s.workspaceID, flow.Name, flow.Enabled, flow.CreatedAt, flow.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert flow: %w", err)
	}

	if err := s.insertRules(tx, flow); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit flow: %w", err)
	}
	return nil
}

// Get retrieves a flow and its rules by ID
func (s *PostgresFlowStore) Get(id string) (*Flow, error) {
	var flow Flow
	err := s.db.QueryRow(`
		SELECT id, name, enabled, created_at, updated_at
		FROM flows
		WHERE id = $1 AND workspace_id = $2
	`, id, s.workspaceID).Scan(
		&flow.ID,
		&flow.Name,
		&flow.Enabled,
		&flow.CreatedAt,
		&flow.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrFlowNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get flow: %w", err)
	}

	flow.Rules, err = s.loadRules(flow.ID)
	if err != nil {
		return nil, err
	}
	return &flow, nil
}

// List returns all flows of the workspace, oldest first
func (s *PostgresFlowStore) List() ([]*Flow, error) {
	rows, err := s.db.Query(`
		SELECT id, name, enabled, created_at, updated_at
		FROM flows
		WHERE workspace_id = $1
		ORDER BY created_at ASC, id ASC
	`, s.workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}
	defer rows.Close()

	flows := []*Flow{}
	for rows.Next() {
		var f Flow
		if err := rows.Scan(&f.ID, &f.Name, &f.Enabled, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}
		flows = append(flows, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating flows: %w", err)
	}

	for _, f := range flows {
		if f.Rules, err = s.loadRules(f.ID); err != nil {
			return nil, err
		}
	}
	return flows, nil
}

// Update modifies an existing flow and rewrites its rules
func (s *PostgresFlowStore) Update(flow *Flow) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	flow.UpdatedAt = time.Now()

	err = tx.QueryRow(`
		UPDATE flows
		SET name = $1, enabled = $2, updated_at = $3
		WHERE id = $4 AND workspace_id = $5
		RETURNING created_at
	`, flow.Name, flow.Enabled, flow.UpdatedAt, flow.ID, s.workspaceID).Scan(&flow.CreatedAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", ErrFlowNotFound, flow.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update flow: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM rules WHERE flow_id = $1`, flow.ID); err != nil {
		return fmt.Errorf("failed to clear rules: %w", err)
	}
	if err := s.insertRules(tx, flow); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit flow: %w", err)
	}
	return nil
}

// Delete removes a flow; its rules go with it through ON DELETE CASCADE
func (s *PostgresFlowStore) Delete(id string) error {
	result, err := s.db.Exec(`
		DELETE FROM flows
		WHERE id = $1 AND workspace_id = $2
	`, id, s.workspaceID)
	if err != nil {
		return fmt.Errorf("failed to delete flow: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrFlowNotFound, id)
	}
	return nil
}

func (s *PostgresFlowStore) insertRules(tx *sql.Tx, flow *Flow) error {
	for i, r := range flow.Rules {
		_, err := tx.Exec(`
			INSERT INTO rules (id, flow_id, position, pattern, replacement, description,
				enabled, global, case_sensitive, extract_only, store_in_flow, flow_key, condition)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`, r.ID, flow.ID, i, r.Pattern, r.Replacement, r.Description,
			r.Enabled, r.Global, r.CaseSensitive, r.ExtractOnly, r.StoreInFlow, r.FlowKey, r.Condition)
		if err != nil {
			return fmt.Errorf("failed to insert rule %s: %w", r.ID, err)
		}
	}
	return nil
}

func (s *PostgresFlowStore) loadRules(flowID string) ([]Rule, error) {
	rows, err := s.db.Query(`
		SELECT id, position, pattern, replacement, description,
			enabled, global, case_sensitive, extract_only, store_in_flow, flow_key, condition
		FROM rules
		WHERE flow_id = $1
		ORDER BY position ASC
	`, flowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	rulesList := []Rule{}
	for rows.Next() {
		var r Rule
		if err := rows.Scan(&r.ID, &r.Order, &r.Pattern, &r.Replacement, &r.Description,
			&r.Enabled, &r.Global, &r.CaseSensitive, &r.ExtractOnly, &r.StoreInFlow, &r.FlowKey, &r.Condition); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rulesList = append(rulesList, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return rulesList, nil
}
