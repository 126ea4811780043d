package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ahrav/go-warden/internal/application"
	"github.com/ahrav/go-warden/internal/domain"
	"github.com/ahrav/go-warden/internal/ports"
)

// Handler serves the audit API.
type Handler struct {
	instructions *application.InstructionService
	pipeline     *application.Pipeline
	chat         *application.ChatService
	logger       *slog.Logger
	maxUpload    int64
}

// NewHandler creates a Handler. maxUpload caps multipart request bodies.
func NewHandler(
	instructions *application.InstructionService,
	pipeline *application.Pipeline,
	chatSvc *application.ChatService,
	maxUpload int64,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		instructions: instructions,
		pipeline:     pipeline,
		chat:         chatSvc,
		logger:       logger.With("component", "api"),
		maxUpload:    maxUpload,
	}
}

type compileRequest struct {
	Clauses []domain.Clause `json:"clauses" binding:"required,min=1"`
	Persist bool            `json:"persist"`
}

// CompileClauses handles POST /clauses/compile.
func (h *Handler) CompileClauses(c *gin.Context) {
	var req compileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	report := h.instructions.CompileClauses(c.Request.Context(), req.Clauses, req.Persist)
	success(c, http.StatusOK, report)
}

type instructionRequest struct {
	Title       string                    `json:"title"`
	Instruction domain.ControlInstruction `json:"instruction"`
}

// SaveInstruction handles POST /controls/:id/instruction.
func (h *Handler) SaveInstruction(c *gin.Context) {
	var req instructionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	rec, err := h.instructions.Save(c.Request.Context(), c.Param("id"), req.Title, req.Instruction)
	if err != nil {
		failErr(c, err)
		return
	}
	success(c, http.StatusCreated, rec)
}

// GetInstruction handles GET /controls/:id/instruction.
func (h *Handler) GetInstruction(c *gin.Context) {
	rec, err := h.instructions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	success(c, http.StatusOK, rec)
}

// ListInstructions handles GET /controls.
func (h *Handler) ListInstructions(c *gin.Context) {
	recs, err := h.instructions.List(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	if recs == nil {
		recs = []ports.InstructionRecord{}
	}
	success(c, http.StatusOK, recs)
}

// Evaluate handles POST /controls/:id/evaluate. Images arrive as multipart
// "images" files and/or "image_urls" fields; a JSON body with image_urls is
// accepted too.
func (h *Handler) Evaluate(c *gin.Context) {
	var (
		uploads []ports.Attachment
		urls    []string
		err     error
	)
	if c.ContentType() == gin.MIMEJSON {
		var body struct {
			ImageURLs []string `json:"image_urls"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			fail(c, http.StatusBadRequest, "invalid request: "+err.Error())
			return
		}
		urls = body.ImageURLs
	} else {
		uploads, urls, err = h.readEvidenceForm(c)
		if err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
	}

	if len(uploads) == 0 && len(urls) == 0 {
		fail(c, http.StatusBadRequest, "no evidence supplied: send images or image_urls")
		return
	}

	report, err := h.pipeline.EvaluateControl(c.Request.Context(), c.Param("id"), uploads, urls)
	if err != nil {
		failErr(c, err)
		return
	}
	success(c, http.StatusOK, report)
}

func (h *Handler) readEvidenceForm(c *gin.Context) ([]ports.Attachment, []string, error) {
	if h.maxUpload > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	}
	form, err := c.MultipartForm()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid multipart form: %w", err)
	}

	files := form.File["images"]
	uploads := make([]ports.Attachment, 0, len(files))
	for _, fh := range files {
		att, err := readUpload(fh)
		if err != nil {
			return nil, nil, fmt.Errorf("image %q: %w", fh.Filename, err)
		}
		uploads = append(uploads, att)
	}

	urls, err := parseURLFields(form.Value["image_urls"])
	if err != nil {
		return nil, nil, err
	}
	return uploads, urls, nil
}

func readUpload(fh *multipart.FileHeader) (ports.Attachment, error) {
	f, err := fh.Open()
	if err != nil {
		return ports.Attachment{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return ports.Attachment{}, err
	}
	mimeType := fh.Header.Get("Content-Type")
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return ports.Attachment{}, application.ErrNotAnImage
	}
	return ports.Attachment{Name: fh.Filename, MIMEType: mimeType, Data: data}, nil
}

// parseURLFields accepts each field either as a JSON array of URLs or as a
// single URL.
func parseURLFields(values []string) ([]string, error) {
	var urls []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		switch {
		case v == "":
		case strings.HasPrefix(v, "["):
			var list []string
			if err := json.Unmarshal([]byte(v), &list); err != nil {
				return nil, fmt.Errorf("image_urls: %w", err)
			}
			urls = append(urls, list...)
		default:
			urls = append(urls, v)
		}
	}
	return urls, nil
}

// GetReport handles GET /controls/:id/reports/:run.
func (h *Handler) GetReport(c *gin.Context) {
	report, err := h.pipeline.LoadReport(c.Request.Context(), c.Param("id"), c.Param("run"))
	if err != nil {
		failErr(c, err)
		return
	}
	success(c, http.StatusOK, report)
}

type sessionRequest struct {
	application.ControlSessionRequest
	Clauses []domain.Clause `json:"clauses"`
}

// CreateSession handles POST /chat/sessions. A body with clauses opens a
// general session; otherwise a control session.
func (h *Handler) CreateSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	var (
		id  string
		err error
	)
	if len(req.Clauses) > 0 {
		id, err = h.chat.StartGeneralSession(c.Request.Context(), req.Clauses)
	} else {
		id, err = h.chat.StartControlSession(c.Request.Context(), req.ControlSessionRequest)
	}
	if err != nil {
		failErr(c, err)
		return
	}
	success(c, http.StatusCreated, gin.H{"session_id": id})
}

type messageRequest struct {
	Message string `json:"message" binding:"required"`
}

// SendMessage handles POST /chat/sessions/:id/messages.
func (h *Handler) SendMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	reply, err := h.chat.Send(c.Request.Context(), c.Param("id"), req.Message)
	if err != nil {
		failErr(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{"response": reply})
}

// GetSession handles GET /chat/sessions/:id.
func (h *Handler) GetSession(c *gin.Context) {
	session, err := h.chat.History(c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{
		"session_id":  session.ID,
		"kind":        session.Kind,
		"turns":       session.Turns,
		"created_at":  session.CreatedAt,
		"last_active": session.LastActive,
	})
}

// DeleteSession handles DELETE /chat/sessions/:id.
func (h *Handler) DeleteSession(c *gin.Context) {
	if err := h.chat.End(c.Request.Context(), c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	success(c, http.StatusOK, nil)
}
