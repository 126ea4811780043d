package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ahrav/go-warden/infrastructure/audit"
	"github.com/ahrav/go-warden/internal/domain"
	"github.com/ahrav/go-warden/internal/ports"
)

// ErrInvalidControlID is returned for blank control ids.
var ErrInvalidControlID = errors.New("control id is required")

// CompiledClause is one successfully compiled clause together with its
// derived evaluation prompt.
type CompiledClause struct {
	Clause           domain.Clause             `json:"clause"`
	Instruction      domain.ControlInstruction `json:"instruction"`
	EvaluationPrompt string                    `json:"evaluation_prompt"`
	// ControlID is set when the instruction was persisted.
	ControlID string `json:"control_id,omitempty"`
}

// ClauseFailure reports a clause that could not be compiled.
type ClauseFailure struct {
	Title string `json:"title"`
	Error string `json:"error"`
}

// CompileReport is the outcome of a batch compilation.
type CompileReport struct {
	Compiled []CompiledClause `json:"compiled"`
	Failures []ClauseFailure  `json:"failures"`
}

// InstructionService compiles clauses and manages the stored control
// instructions. Loaded records are cached until the control is saved or
// deleted. Each write bumps the control's generation; a load that overlaps a
// write does not populate the cache.
type InstructionService struct {
	compiler *audit.Compiler
	store    ports.InstructionStore
	logger   *slog.Logger
	now      func() time.Time

	loads singleflight.Group
	mu    sync.RWMutex
	cache map[string]ports.InstructionRecord
	gens  map[string]uint64
}

// NewInstructionService creates the service.
func NewInstructionService(compiler *audit.Compiler, store ports.InstructionStore, logger *slog.Logger) *InstructionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &InstructionService{
		compiler: compiler,
		store:    store,
		logger:   logger.With("component", "instructions"),
		now:      time.Now,
		cache:    make(map[string]ports.InstructionRecord),
		gens:     make(map[string]uint64),
	}
}

// CompileClauses compiles every clause. Failures are reported per clause
// title and never abort the batch. With persist set, each compiled
// instruction is saved under its clause title as control id; a failed save
// moves the clause to the failures list.
func (s *InstructionService) CompileClauses(ctx context.Context, clauses []domain.Clause, persist bool) CompileReport {
	report := CompileReport{Compiled: []CompiledClause{}, Failures: []ClauseFailure{}}

	for _, res := range s.compiler.CompileBatch(ctx, clauses) {
		if !res.OK() {
			report.Failures = append(report.Failures, ClauseFailure{Title: res.Clause.Title, Error: res.Err.Error()})
			continue
		}

		prompt, err := audit.BuildEvaluationPrompt(res.Instruction)
		if err != nil {
			report.Failures = append(report.Failures, ClauseFailure{Title: res.Clause.Title, Error: err.Error()})
			continue
		}
		item := CompiledClause{Clause: res.Clause, Instruction: res.Instruction, EvaluationPrompt: prompt}

		if persist {
			rec, err := s.Save(ctx, res.Clause.Title, res.Clause.Title, res.Instruction)
			if err != nil {
				report.Failures = append(report.Failures, ClauseFailure{Title: res.Clause.Title, Error: err.Error()})
				continue
			}
			item.ControlID = rec.ControlID
		}
		report.Compiled = append(report.Compiled, item)
	}

	s.logger.InfoContext(ctx, "clauses compiled",
		"total", len(clauses), "compiled", len(report.Compiled), "failed", len(report.Failures))
	return report
}

// Save validates instruction, derives its evaluation prompt and stores both
// under controlID.
func (s *InstructionService) Save(
	ctx context.Context,
	controlID, title string,
	instruction domain.ControlInstruction,
) (ports.InstructionRecord, error) {
	controlID = strings.TrimSpace(controlID)
	if controlID == "" {
		return ports.InstructionRecord{}, ErrInvalidControlID
	}

	prompt, err := audit.BuildEvaluationPrompt(instruction)
	if err != nil {
		return ports.InstructionRecord{}, fmt.Errorf("control %q: %w", controlID, err)
	}

	now := s.now().UTC()
	rec := ports.InstructionRecord{
		ControlID:        controlID,
		Title:            title,
		Instruction:      instruction,
		EvaluationPrompt: prompt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.Save(ctx, rec); err != nil {
		return ports.InstructionRecord{}, fmt.Errorf("control %q: %w", controlID, err)
	}

	s.invalidate(controlID)

	s.logger.InfoContext(ctx, "instruction saved", "control_id", controlID, "steps", len(instruction.AuditInstructions))
	return rec, nil
}

// Get returns the stored record for controlID. Concurrent misses for the
// same control share one store read.
func (s *InstructionService) Get(ctx context.Context, controlID string) (ports.InstructionRecord, error) {
	controlID = strings.TrimSpace(controlID)
	if controlID == "" {
		return ports.InstructionRecord{}, ErrInvalidControlID
	}

	s.mu.RLock()
	rec, ok := s.cache[controlID]
	s.mu.RUnlock()
	if ok {
		return rec, nil
	}

	v, err, _ := s.loads.Do(controlID, func() (any, error) {
		s.mu.RLock()
		gen := s.gens[controlID]
		s.mu.RUnlock()

		rec, err := s.store.Get(ctx, controlID)
		if err != nil {
			return ports.InstructionRecord{}, err
		}
		s.mu.Lock()
		if s.gens[controlID] == gen {
			s.cache[controlID] = rec
		}
		s.mu.Unlock()
		return rec, nil
	})
	if err != nil {
		return ports.InstructionRecord{}, fmt.Errorf("control %q: %w", controlID, err)
	}
	return v.(ports.InstructionRecord), nil
}

// List returns every stored instruction.
func (s *InstructionService) List(ctx context.Context) ([]ports.InstructionRecord, error) {
	return s.store.List(ctx)
}

// Delete removes the instruction for controlID.
func (s *InstructionService) Delete(ctx context.Context, controlID string) error {
	controlID = strings.TrimSpace(controlID)
	if err := s.store.Delete(ctx, controlID); err != nil {
		return fmt.Errorf("control %q: %w", controlID, err)
	}
	s.invalidate(controlID)
	return nil
}

// invalidate drops the cached record and detaches later Gets from any load
// already in flight.
func (s *InstructionService) invalidate(controlID string) {
	s.mu.Lock()
	s.gens[controlID]++
	delete(s.cache, controlID)
	s.mu.Unlock()
	s.loads.Forget(controlID)
}
