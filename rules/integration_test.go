//go:build integration
// +build integration

package rules_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/liamcoop/textflow/rules"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/lib/pq"
)

// setupTestDB creates a PostgreSQL container and returns a connection
func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "textflow_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgresContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	host, err := postgresContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := postgresContainer.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	connStr := fmt.Sprintf("host=%s port=%s user=test password=test dbname=textflow_test sslmode=disable", host, port.Port())

	var db *sql.DB
	for i := 0; i < 30; i++ {
		db, err = sql.Open("postgres", connStr)
		if err == nil {
			err = db.Ping()
			if err == nil {
				break
			}
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	migrationSQL, err := os.ReadFile(filepath.Join("..", "migrations", "000001_initial_schema.up.sql"))
	if err != nil {
		t.Fatalf("Failed to read migration file: %v", err)
	}
	if _, err = db.Exec(string(migrationSQL)); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		db.Close()
		postgresContainer.Terminate(ctx)
	}

	return db, cleanup
}

func createWorkspace(t *testing.T, db *sql.DB, name string) string {
	var id string
	err := db.QueryRow(`INSERT INTO workspaces (name) VALUES ($1) RETURNING id`, name).Scan(&id)
	if err != nil {
		t.Fatalf("Failed to create workspace: %v", err)
	}
	return id
}

func sampleFlow(name string) *rules.Flow {
	flow := rules.NewFlow(name)

	r1 := rules.NewRule()
	r1.Pattern = `(\w+)@(\w+)\.com`
	r1.Replacement = "$&"
	r1.StoreInFlow = true
	r1.FlowKey = "emails"

	r2 := rules.NewRule()
	r2.Pattern = "^"
	r2.Replacement = `first: ${{emails}}\n`
	r2.Global = false
	r2.Condition = `size(captures["emails"]) > 0`

	flow.Rules = []rules.Rule{r1, r2}
	rules.Renumber(flow)
	return flow
}

func TestPostgresFlowStore_BasicCRUD(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := rules.NewPostgresFlowStore(db, createWorkspace(t, db, "test"))

	flow := sampleFlow("emails")
	if err := store.Add(flow); err != nil {
		t.Fatalf("Failed to add flow: %v", err)
	}

	retrieved, err := store.Get(flow.ID)
	if err != nil {
		t.Fatalf("Failed to get flow: %v", err)
	}
	if retrieved.Name != "emails" || len(retrieved.Rules) != 2 {
		t.Fatalf("Unexpected flow: %+v", retrieved)
	}
	for i := range flow.Rules {
		if retrieved.Rules[i] != flow.Rules[i] {
			t.Errorf("rule %d = %+v, want %+v", i, retrieved.Rules[i], flow.Rules[i])
		}
	}

	// Reordering rewrites positions
	reordered, err := rules.Reorder(retrieved, 1, 0)
	if err != nil {
		t.Fatalf("Failed to reorder: %v", err)
	}
	reordered.Name = "renamed"
	if err := store.Update(reordered); err != nil {
		t.Fatalf("Failed to update flow: %v", err)
	}

	updated, err := store.Get(flow.ID)
	if err != nil {
		t.Fatalf("Failed to get updated flow: %v", err)
	}
	if updated.Name != "renamed" {
		t.Errorf("Expected name 'renamed', got '%s'", updated.Name)
	}
	if updated.Rules[0].ID != flow.Rules[1].ID || updated.Rules[0].Order != 0 {
		t.Errorf("Expected reordered rules, got %+v", updated.Rules)
	}
	if !updated.CreatedAt.Equal(retrieved.CreatedAt) {
		t.Error("Update should preserve CreatedAt")
	}

	flows, err := store.List()
	if err != nil {
		t.Fatalf("Failed to list flows: %v", err)
	}
	if len(flows) != 1 {
		t.Errorf("Expected 1 flow, got %d", len(flows))
	}

	if err := store.Delete(flow.ID); err != nil {
		t.Fatalf("Failed to delete flow: %v", err)
	}
	if _, err := store.Get(flow.ID); !errors.Is(err, rules.ErrFlowNotFound) {
		t.Errorf("Expected ErrFlowNotFound after delete, got %v", err)
	}

	var ruleCount int
	if err := db.QueryRow(`SELECT COUNT(*) FROM rules WHERE flow_id = $1`, flow.ID).Scan(&ruleCount); err != nil {
		t.Fatalf("Failed to count rules: %v", err)
	}
	if ruleCount != 0 {
		t.Errorf("Expected rules to cascade, %d left", ruleCount)
	}
}

func TestPostgresFlowStore_WorkspaceIsolation(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storeA := rules.NewPostgresFlowStore(db, createWorkspace(t, db, "a"))
	storeB := rules.NewPostgresFlowStore(db, createWorkspace(t, db, "b"))

	flowA := sampleFlow("a")
	if err := storeA.Add(flowA); err != nil {
		t.Fatalf("Failed to add flow for workspace A: %v", err)
	}

	if _, err := storeB.Get(flowA.ID); err == nil {
		t.Error("Workspace B should not be able to see workspace A's flow")
	}
	if err := storeB.Delete(flowA.ID); err == nil {
		t.Error("Workspace B should not be able to delete workspace A's flow")
	}

	flowsB, err := storeB.List()
	if err != nil {
		t.Fatalf("Failed to list flows for workspace B: %v", err)
	}
	if len(flowsB) != 0 {
		t.Errorf("Expected workspace B to have 0 flows, got %d", len(flowsB))
	}
}

func TestPostgresFlowStore_Errors(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := rules.NewPostgresFlowStore(db, createWorkspace(t, db, "test"))

	flow := sampleFlow("dup")
	if err := store.Add(flow); err != nil {
		t.Fatalf("Failed to add flow: %v", err)
	}
	if err := store.Add(flow); !errors.Is(err, rules.ErrFlowExists) {
		t.Errorf("Expected ErrFlowExists, got %v", err)
	}

	missing := sampleFlow("missing")
	missing.ID = uuid.NewString()
	if err := store.Update(missing); !errors.Is(err, rules.ErrFlowNotFound) {
		t.Errorf("Expected ErrFlowNotFound on update, got %v", err)
	}
	if err := store.Delete(missing.ID); !errors.Is(err, rules.ErrFlowNotFound) {
		t.Errorf("Expected ErrFlowNotFound on delete, got %v", err)
	}
}

func TestEngine_WithPostgresFlow(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := rules.NewPostgresFlowStore(db, createWorkspace(t, db, "test"))
	flow := sampleFlow("emails")
	if err := store.Add(flow); err != nil {
		t.Fatalf("Failed to add flow: %v", err)
	}

	loaded, err := store.Get(flow.ID)
	if err != nil {
		t.Fatalf("Failed to get flow: %v", err)
	}

	engine, err := rules.NewEngine()
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	result := engine.Execute("mail bob@example.com now", loaded)
	want := "first: bob@example.com\nmail bob@example.com now"
	if result.Text != want {
		t.Errorf("Execute() = %q, want %q", result.Text, want)
	}
}
