package application

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-warden/internal/domain"
	"github.com/ahrav/go-warden/internal/ports"
	"github.com/ahrav/go-warden/internal/testutils"
)

func TestInstructionService_CompileClauses(t *testing.T) {
	client := testutils.NewMockLLMClient("gpt-4o", encryptionInstructionReply).
		AddResponse(testutils.MockResponse{Pattern: "retained", Response: "no json here"})
	h := newHarness(t, client)

	clauses := []domain.Clause{
		{Title: "Article 1", Description: "The provider shall encrypt customer data at rest."},
		{Title: "Article 2", Description: "  "},
		{Title: "Article 3", Description: "Logs must be retained for a year."},
	}

	report := h.instructions.CompileClauses(context.Background(), clauses, true)

	require.Len(t, report.Compiled, 1)
	assert.Equal(t, "Article 1", report.Compiled[0].Clause.Title)
	assert.Equal(t, "Article 1", report.Compiled[0].ControlID)
	assert.Contains(t, report.Compiled[0].EvaluationPrompt, "encrypt customer data at rest")

	require.Len(t, report.Failures, 2)
	assert.Equal(t, "Article 2", report.Failures[0].Title)
	assert.Equal(t, "Article 3", report.Failures[1].Title)
	assert.Equal(t, 2, client.CallCount(), "blank clause never reaches the model")

	rec, err := h.store.Get(context.Background(), "Article 1")
	require.NoError(t, err)
	assert.Equal(t, encryptionInstruction, rec.Instruction)

	_, err = h.store.Get(context.Background(), "Article 3")
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestInstructionService_CompileWithoutPersist(t *testing.T) {
	h := newHarness(t, testutils.NewMockLLMClient("gpt-4o", encryptionInstructionReply))

	report := h.instructions.CompileClauses(context.Background(),
		[]domain.Clause{{Title: "Article 1", Description: "Encrypt data."}}, false)
	require.Len(t, report.Compiled, 1)
	assert.Empty(t, report.Compiled[0].ControlID)
	assert.Empty(t, report.Failures)

	records, err := h.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestInstructionService_SaveAndGet(t *testing.T) {
	h := newHarness(t, testutils.NewMockLLMClient("m", ""))
	ctx := context.Background()

	saved, err := h.instructions.Save(ctx, " C-1 ", "Encryption", encryptionInstruction)
	require.NoError(t, err)
	assert.Equal(t, "C-1", saved.ControlID)
	assert.NotEmpty(t, saved.EvaluationPrompt)

	got, err := h.instructions.Get(ctx, "C-1")
	require.NoError(t, err)
	assert.Equal(t, saved.EvaluationPrompt, got.EvaluationPrompt)

	// A second save replaces the cached copy.
	updated := encryptionInstruction
	updated.AuditInstructions = []string{"Step 1: Confirm keys are rotated."}
	_, err = h.instructions.Save(ctx, "C-1", "Encryption", updated)
	require.NoError(t, err)

	got, err = h.instructions.Get(ctx, "C-1")
	require.NoError(t, err)
	assert.Equal(t, updated.AuditInstructions, got.Instruction.AuditInstructions)
	assert.Contains(t, got.EvaluationPrompt, "keys are rotated")
}

func TestInstructionService_Errors(t *testing.T) {
	h := newHarness(t, testutils.NewMockLLMClient("m", ""))
	ctx := context.Background()

	_, err := h.instructions.Save(ctx, "  ", "", encryptionInstruction)
	assert.ErrorIs(t, err, ErrInvalidControlID)

	_, err = h.instructions.Save(ctx, "C-2", "", domain.ControlInstruction{DescriptionControl: "no steps"})
	assert.ErrorIs(t, err, domain.ErrEmptyInstruction)

	_, err = h.instructions.Get(ctx, "missing")
	assert.ErrorIs(t, err, ports.ErrNotFound)
	assert.Contains(t, err.Error(), "missing")

	_, err = h.instructions.Get(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidControlID)
}

func TestInstructionService_ConcurrentGet(t *testing.T) {
	h := newHarness(t, testutils.NewMockLLMClient("m", ""))
	ctx := context.Background()
	_, err := h.instructions.Save(ctx, "C-1", "", encryptionInstruction)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := h.instructions.Get(ctx, "C-1")
			assert.NoError(t, err)
			assert.Equal(t, "C-1", rec.ControlID)
		}()
	}
	wg.Wait()
}

func TestInstructionService_Delete(t *testing.T) {
	h := newHarness(t, testutils.NewMockLLMClient("m", ""))
	ctx := context.Background()
	_, err := h.instructions.Save(ctx, "C-1", "", encryptionInstruction)
	require.NoError(t, err)
	_, err = h.instructions.Get(ctx, "C-1")
	require.NoError(t, err)

	require.NoError(t, h.instructions.Delete(ctx, "C-1"))
	_, err = h.instructions.Get(ctx, "C-1")
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

// pausingStore is an in-memory InstructionStore whose next Get pauses after
// reading the row until release is closed.
type pausingStore struct {
	mu      sync.Mutex
	recs    map[string]ports.InstructionRecord
	read    chan struct{}
	release chan struct{}
}

func newPausingStore() *pausingStore {
	return &pausingStore{recs: make(map[string]ports.InstructionRecord)}
}

func (s *pausingStore) pauseNextGet() {
	s.mu.Lock()
	s.read = make(chan struct{})
	s.release = make(chan struct{})
	s.mu.Unlock()
}

func (s *pausingStore) Save(_ context.Context, rec ports.InstructionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.ControlID] = rec
	return nil
}

func (s *pausingStore) Get(_ context.Context, controlID string) (ports.InstructionRecord, error) {
	s.mu.Lock()
	rec, ok := s.recs[controlID]
	read, release := s.read, s.release
	s.read, s.release = nil, nil
	s.mu.Unlock()

	if read != nil {
		close(read)
		<-release
	}
	if !ok {
		return ports.InstructionRecord{}, ports.ErrNotFound
	}
	return rec, nil
}

func (s *pausingStore) List(context.Context) ([]ports.InstructionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ports.InstructionRecord, 0, len(s.recs))
	for _, rec := range s.recs {
		out = append(out, rec)
	}
	return out, nil
}

func (s *pausingStore) Delete(_ context.Context, controlID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, controlID)
	return nil
}

func TestInstructionService_WriteDuringLoad(t *testing.T) {
	replaced := encryptionInstruction
	replaced.DescriptionControl = "The provider must rotate encryption keys yearly."

	tests := []struct {
		name    string
		write   func(ctx context.Context, svc *InstructionService) error
		wantErr error
		want    string
	}{
		{
			name: "save",
			write: func(ctx context.Context, svc *InstructionService) error {
				_, err := svc.Save(ctx, "C-1", "", replaced)
				return err
			},
			want: replaced.DescriptionControl,
		},
		{
			name:    "delete",
			write:   func(ctx context.Context, svc *InstructionService) error { return svc.Delete(ctx, "C-1") },
			wantErr: ports.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := newPausingStore()
			svc := NewInstructionService(nil, store, nil)
			_, err := svc.Save(ctx, "C-1", "", encryptionInstruction)
			require.NoError(t, err)

			store.pauseNextGet()
			read, release := store.read, store.release
			done := make(chan struct{})
			go func() {
				defer close(done)
				_, _ = svc.Get(ctx, "C-1")
			}()

			<-read
			require.NoError(t, tt.write(ctx, svc))
			close(release)
			<-done

			got, err := svc.Get(ctx, "C-1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Instruction.DescriptionControl)
		})
	}
}
