package http

import (
	"net/http"
	"strconv"

	"github.com/Strob0t/hitl/internal/domain/tool"
	"github.com/Strob0t/hitl/internal/service"
)

const (
	defaultBodyLimit = 1 << 20
	defaultLogLimit  = 100
	maxLogLimit      = 1000
)

// Handlers exposes the coordinator over REST.
type Handlers struct {
	Coordinator *service.Coordinator
	BodyLimit   int64
}

func (h *Handlers) bodyLimit() int64 {
	if h.BodyLimit > 0 {
		return h.BodyLimit
	}
	return defaultBodyLimit
}

// ListToolCalls handles GET /api/tool_calls?limit=N
func (h *Handlers) ListToolCalls(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxLogLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxLogLimit))
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, h.Coordinator.ToolCalls(limit))
}

// GetToolCall handles GET /api/tool_calls/{id}
func (h *Handlers) GetToolCall(w http.ResponseWriter, r *http.Request) {
	entry, err := h.Coordinator.Entry(urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "tool call not found")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// ChatHistory handles GET /api/chat-history
func (h *Handlers) ChatHistory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"history": h.Coordinator.ChatHistory()})
}

// ListQuestions handles GET /api/questions
func (h *Handlers) ListQuestions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"questions": h.Coordinator.PendingQuestions()})
}

type toolView struct {
	Name             string       `json:"name"`
	Description      string       `json:"description"`
	RequiresApproval bool         `json:"requires_approval"`
	Renderer         string       `json:"renderer"`
	Params           []tool.Param `json:"params"`
}

// ListTools handles GET /api/tools
func (h *Handlers) ListTools(w http.ResponseWriter, _ *http.Request) {
	tools := h.Coordinator.Tools()
	out := make([]toolView, 0, len(tools))
	for i := range tools {
		t := &tools[i]
		out = append(out, toolView{
			Name:             t.Name,
			Description:      t.Description,
			RequiresApproval: t.RequiresApproval(),
			Renderer:         t.RendererOrDefault(),
			Params:           t.Params,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type approveRequest struct {
	Modifications map[string]any `json:"modifications"`
}

// ApproveToolCall handles POST /api/approve/{id}
func (h *Handlers) ApproveToolCall(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	req, ok := readOptionalJSON[approveRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	if !h.Coordinator.Approve(r.Context(), id, req.Modifications) {
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "not_found", "call_id": id})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved", "call_id": id})
}

// DenyToolCall handles POST /api/deny/{id}
func (h *Handlers) DenyToolCall(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if !h.Coordinator.Deny(r.Context(), id) {
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "not_found", "call_id": id})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "denied", "call_id": id})
}

type batchRequest struct {
	IDs []string `json:"ids"`
}

// ApproveBatch handles POST /api/approve-batch
func (h *Handlers) ApproveBatch(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[batchRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	approved := h.Coordinator.ApproveBatch(r.Context(), req.IDs)
	writeJSON(w, http.StatusOK, map[string]any{"status": "batch_processed", "approved_ids": approved})
}

// DenyBatch handles POST /api/deny-batch
func (h *Handlers) DenyBatch(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[batchRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	denied := h.Coordinator.DenyBatch(r.Context(), req.IDs)
	writeJSON(w, http.StatusOK, map[string]any{"status": "batch_processed", "denied_ids": denied})
}

type respondRequest struct {
	Text       string `json:"text"`
	QuestionID string `json:"question_id"`
}

// Respond handles POST /api/respond. A response to an unknown or already
// answered question is accepted and ignored.
func (h *Handlers) Respond(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[respondRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	if !requireField(w, req.QuestionID, "question_id") {
		return
	}
	if !h.Coordinator.SubmitResponse(r.Context(), req.QuestionID, req.Text) {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored", "question_id": req.QuestionID})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved", "question_id": req.QuestionID})
}
