package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ahrav/go-warden/infrastructure/chat"
	"github.com/ahrav/go-warden/internal/domain"
)

// ErrMissingGrounding is returned when a control session request names
// neither a control nor an inline instruction.
var ErrMissingGrounding = errors.New("control session needs a control id or an instruction")

// ControlSessionRequest describes the grounding of a control session. The
// instruction is taken inline or loaded by ControlID. The report is taken
// inline or, when RunID is set, loaded from the stored evaluation run.
type ControlSessionRequest struct {
	ControlID   string                     `json:"control_id"`
	RunID       string                     `json:"run_id"`
	Report      string                     `json:"report"`
	Instruction *domain.ControlInstruction `json:"instruction"`
}

// ChatService manages scoped chat sessions.
type ChatService struct {
	assistant    *chat.Assistant
	sessions     *chat.Store
	instructions *InstructionService
	pipeline     *Pipeline
	logger       *slog.Logger
}

// NewChatService creates the service.
func NewChatService(
	assistant *chat.Assistant,
	sessions *chat.Store,
	instructions *InstructionService,
	pipeline *Pipeline,
	logger *slog.Logger,
) *ChatService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{
		assistant:    assistant,
		sessions:     sessions,
		instructions: instructions,
		pipeline:     pipeline,
		logger:       logger.With("component", "chat_service"),
	}
}

// StartControlSession opens a session grounded on one control and its
// audit report.
func (s *ChatService) StartControlSession(ctx context.Context, req ControlSessionRequest) (string, error) {
	var instruction domain.ControlInstruction
	switch {
	case req.Instruction != nil:
		instruction = *req.Instruction
	case strings.TrimSpace(req.ControlID) != "":
		rec, err := s.instructions.Get(ctx, req.ControlID)
		if err != nil {
			return "", err
		}
		instruction = rec.Instruction
	default:
		return "", ErrMissingGrounding
	}

	report := req.Report
	if strings.TrimSpace(report) == "" && req.RunID != "" {
		stored, err := s.pipeline.LoadReport(ctx, req.ControlID, req.RunID)
		if err != nil {
			return "", err
		}
		report = stored.Verdict.Summary()
	}

	session, err := chat.NewControlSession(instruction, report)
	if err != nil {
		return "", fmt.Errorf("control session: %w", err)
	}
	id := s.sessions.Create(session)
	s.logger.InfoContext(ctx, "chat session started", "session_id", id, "kind", session.Kind, "control_id", req.ControlID)
	return id, nil
}

// StartGeneralSession opens a session grounded on every clause given.
func (s *ChatService) StartGeneralSession(ctx context.Context, clauses []domain.Clause) (string, error) {
	session, err := chat.NewGeneralSession(clauses)
	if err != nil {
		return "", fmt.Errorf("general session: %w", err)
	}
	id := s.sessions.Create(session)
	s.logger.InfoContext(ctx, "chat session started", "session_id", id, "kind", session.Kind, "clauses", len(clauses))
	return id, nil
}

// Send delivers message to the session and returns the reply. Messages to
// the same session are answered one at a time.
func (s *ChatService) Send(ctx context.Context, sessionID, message string) (string, error) {
	var reply string
	err := s.sessions.With(ctx, sessionID, func(ctx context.Context, session *domain.Session) error {
		var err error
		reply, err = s.assistant.Chat(ctx, session, message)
		return err
	})
	return reply, err
}

// History returns a snapshot of the session's turns.
func (s *ChatService) History(sessionID string) (domain.Session, error) {
	return s.sessions.Get(sessionID)
}

// End closes the session.
func (s *ChatService) End(ctx context.Context, sessionID string) error {
	if _, err := s.sessions.Get(sessionID); err != nil {
		return err
	}
	s.sessions.Delete(sessionID)
	s.logger.InfoContext(ctx, "chat session ended", "session_id", sessionID)
	return nil
}
