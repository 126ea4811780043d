package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ahrav/go-warden/internal/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS control_instructions (
	control_id        TEXT PRIMARY KEY,
	title             TEXT NOT NULL DEFAULT '',
	instruction_json  TEXT NOT NULL,
	evaluation_prompt TEXT NOT NULL,
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL
);
`

// InstructionStore keeps compiled control instructions in SQLite, one row
// per control. Instructions are stored as JSON data.
type InstructionStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewInstructionStore opens a SQLite database and runs migrations.
func NewInstructionStore(dbPath string) (*InstructionStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &InstructionStore{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *InstructionStore) Close() error {
	return s.db.Close()
}

// Save inserts or replaces the record for rec.ControlID. CreatedAt is kept
// from the first save.
func (s *InstructionStore) Save(ctx context.Context, rec ports.InstructionRecord) error {
	if rec.ControlID == "" {
		return ports.NewStoreError("sqlite", rec.ControlID, "save", errors.New("control id is required"))
	}
	if err := rec.Instruction.Validate(); err != nil {
		return ports.NewStoreError("sqlite", rec.ControlID, "save", err)
	}

	instJSON, err := json.Marshal(rec.Instruction)
	if err != nil {
		return ports.NewStoreError("sqlite", rec.ControlID, "save", fmt.Errorf("marshal instruction: %w", err))
	}

	now := s.now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO control_instructions (control_id, title, instruction_json, evaluation_prompt, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(control_id) DO UPDATE SET
			title = excluded.title,
			instruction_json = excluded.instruction_json,
			evaluation_prompt = excluded.evaluation_prompt,
			updated_at = excluded.updated_at`,
		rec.ControlID, rec.Title, string(instJSON), rec.EvaluationPrompt, now, now,
	)
	if err != nil {
		return ports.NewStoreError("sqlite", rec.ControlID, "save", err)
	}
	return nil
}

// Get returns the record for controlID.
func (s *InstructionStore) Get(ctx context.Context, controlID string) (ports.InstructionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT control_id, title, instruction_json, evaluation_prompt, created_at, updated_at
		 FROM control_instructions WHERE control_id = ?`, controlID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ports.InstructionRecord{}, ports.NewStoreError("sqlite", controlID, "get", ports.ErrNotFound)
	}
	if err != nil {
		return ports.InstructionRecord{}, ports.NewStoreError("sqlite", controlID, "get", err)
	}
	return rec, nil
}

// List returns every record ordered by control id.
func (s *InstructionStore) List(ctx context.Context) ([]ports.InstructionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT control_id, title, instruction_json, evaluation_prompt, created_at, updated_at
		 FROM control_instructions ORDER BY control_id`)
	if err != nil {
		return nil, ports.NewStoreError("sqlite", "", "list", err)
	}
	defer rows.Close()

	var out []ports.InstructionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, ports.NewStoreError("sqlite", "", "list", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, ports.NewStoreError("sqlite", "", "list", err)
	}
	return out, nil
}

// Delete removes the record for controlID.
func (s *InstructionStore) Delete(ctx context.Context, controlID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM control_instructions WHERE control_id = ?`, controlID); err != nil {
		return ports.NewStoreError("sqlite", controlID, "delete", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (ports.InstructionRecord, error) {
	var (
		rec                    ports.InstructionRecord
		instJSON               string
		createdStr, updatedStr string
	)
	if err := sc.Scan(&rec.ControlID, &rec.Title, &instJSON, &rec.EvaluationPrompt, &createdStr, &updatedStr); err != nil {
		return ports.InstructionRecord{}, err
	}
	if err := json.Unmarshal([]byte(instJSON), &rec.Instruction); err != nil {
		return ports.InstructionRecord{}, fmt.Errorf("unmarshal instruction: %w", err)
	}
	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdStr); err != nil {
		return ports.InstructionRecord{}, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedStr); err != nil {
		return ports.InstructionRecord{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return rec, nil
}

var _ ports.InstructionStore = (*InstructionStore)(nil)
