package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jfgonzales/fred/internal/engine"
	"github.com/jfgonzales/fred/internal/log"
)

// TurnProcessor runs conversation turns and inspects thread state.
// *engine.Engine satisfies it.
type TurnProcessor interface {
	ProcessTurn(ctx context.Context, threadID, message string) (engine.TurnResult, error)
	Inspect(ctx context.Context, threadID string) (engine.ThreadState, error)
}

// ChatHandler handles conversation endpoints.
type ChatHandler struct {
	engine TurnProcessor
	logger log.Logger
}

// NewChatHandler creates a chat handler.
func NewChatHandler(eng TurnProcessor, logger log.Logger) *ChatHandler {
	return &ChatHandler{
		engine: eng,
		logger: logger.With("component", "chat_handler"),
	}
}

// RegisterRoutes registers chat routes on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", h.chat)
	mux.HandleFunc("GET /api/threads/{id}", h.thread)
}

// ChatRequest is the request body for POST /api/chat.
type ChatRequest struct {
	ThreadID string `json:"thread_id"`
	Message  string `json:"message"`
}

// ChatResponse is the response body for POST /api/chat.
type ChatResponse struct {
	ThreadID     string `json:"thread_id"`
	Answer       string `json:"answer"`
	CheckpointID int64  `json:"checkpoint_id"`
	NumMessages  int    `json:"num_messages"`
}

// chat handles POST /api/chat: one user message in, one answer out.
func (h *ChatHandler) chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be valid JSON")
		return
	}

	result, err := h.engine.ProcessTurn(r.Context(), req.ThreadID, req.Message)
	if err != nil {
		h.logger.Error("turn failed", "thread_id", req.ThreadID, "error", err)
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{
		ThreadID:     req.ThreadID,
		Answer:       result.Answer,
		CheckpointID: result.CheckpointID,
		NumMessages:  result.NumMessages,
	})
}

// ThreadMessage is one committed message in a thread response.
type ThreadMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ThreadResponse is the response body for GET /api/threads/{id}.
type ThreadResponse struct {
	ThreadID     string            `json:"thread_id"`
	CheckpointID int64             `json:"checkpoint_id"`
	Messages     []ThreadMessage   `json:"messages"`
	Checkpoints  []CheckpointEntry `json:"checkpoints"`
}

// CheckpointEntry summarizes one committed checkpoint.
type CheckpointEntry struct {
	CheckpointID int64  `json:"checkpoint_id"`
	NumMessages  int    `json:"num_messages"`
	CreatedAt    string `json:"created_at"`
}

// thread handles GET /api/threads/{id}: the committed state of a thread.
func (h *ChatHandler) thread(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")

	state, err := h.engine.Inspect(r.Context(), threadID)
	if err != nil {
		h.logger.Error("thread inspection failed", "thread_id", threadID, "error", err)
		writeServiceError(w, err)
		return
	}

	resp := ThreadResponse{
		ThreadID:     state.ThreadID,
		CheckpointID: state.CheckpointID,
		Messages:     make([]ThreadMessage, 0, len(state.Messages)),
		Checkpoints:  make([]CheckpointEntry, 0, len(state.History)),
	}
	for _, msg := range state.Messages {
		resp.Messages = append(resp.Messages, ThreadMessage{
			Role:    string(msg.Role),
			Content: msg.Text(),
		})
	}
	for _, info := range state.History {
		resp.Checkpoints = append(resp.Checkpoints, CheckpointEntry{
			CheckpointID: info.CheckpointID,
			NumMessages:  info.NumMessages,
			CreatedAt:    info.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}
