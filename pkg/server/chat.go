package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/harun/joe/internal/tracing"
	"github.com/harun/joe/pkg/assistant"
	"github.com/harun/joe/pkg/chat"
	"github.com/harun/joe/pkg/commandqueue"
	"github.com/harun/joe/pkg/conversation"
	"github.com/harun/joe/pkg/responder"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/xeipuuv/gojsonschema"
)

const chatRequestSchema = `{
  "type": "object",
  "required": ["messages"],
  "properties": {
    "messages": {
      "type": "array",
      "maxItems": 500,
      "items": {
        "type": "object",
        "required": ["role", "content"],
        "properties": {
          "id": {"type": "string"},
          "role": {"enum": ["user", "assistant", "system"]},
          "content": {"type": "string", "maxLength": 32768}
        }
      }
    },
    "sessionId": {"type": ["string", "null"]}
  }
}`

var chatSchema = gojsonschema.NewStringLoader(chatRequestSchema)

type chatMessage struct {
	ID      string `json:"id,omitempty"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages  []chatMessage `json:"messages"`
	SessionID *string       `json:"sessionId"`
}

type chatResponse struct {
	Text      string `json:"text"`
	SessionID string `json:"sessionId,omitempty"`
	NoText    bool   `json:"noText,omitempty"`
}

// validateChatRequest checks body against the request schema
func validateChatRequest(body []byte) error {
	result, err := gojsonschema.Validate(chatSchema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("invalid request: %s", strings.Join(msgs, "; "))
	}
	return nil
}

func (r chatRequest) log() []conversation.Message {
	msgs := make([]conversation.Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		id := m.ID
		if id == "" {
			id = uuid.NewString()
		}
		msgs = append(msgs, conversation.Message{ID: id, Role: conversation.Role(m.Role), Content: m.Content})
	}
	return msgs
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := tracing.NewRequestContext(r.Context())
	logger := tracing.LoggerFromContext(ctx, s.logger)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "BadRequest", "Request body too large")
		return
	}
	if err := validateChatRequest(body); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "Invalid request body")
		return
	}

	handle := assistant.Handle{}
	if req.SessionID != nil {
		handle = assistant.OptionalHandle(*req.SessionID)
	}

	res, err := s.queued().Generate(ctx, req.log(), handle)
	if err != nil {
		status, body := chatFailure(err)
		logger.Warn().Err(err).Int("status", status).Msg("Chat request failed")
		writeJSON(w, status, body)
		return
	}

	text := res.Text
	if res.NoText {
		text = responder.KindNoTextContent.Summary()
	}
	writeJSON(w, http.StatusOK, chatResponse{Text: text, SessionID: res.Handle.String(), NoText: res.NoText})
}

// chatFailure maps a generation error onto a status and JSON body
func chatFailure(err error) (int, errorBody) {
	if errors.Is(err, commandqueue.ErrClosed) {
		return http.StatusServiceUnavailable, errorBody{Error: errorDetail{Kind: "Unavailable", Message: "Server is shutting down"}}
	}

	kind := responder.KindOf(err)
	status := http.StatusBadGateway
	switch kind {
	case responder.KindMissingUserMessage:
		status = http.StatusBadRequest
	case responder.KindPollTimeout, responder.KindCancelled:
		status = http.StatusGatewayTimeout
	}

	name := string(kind)
	if name == "" {
		name = "Internal"
	}
	return status, errorBody{
		Error:          errorDetail{Kind: name, Message: responder.Summary(err)},
		DiscardSession: kind.DiscardsSession(),
	}
}

// queuedGenerator serializes generations per thread; requests without a
// thread get a private lane
type queuedGenerator struct {
	queue *commandqueue.Queue
	gen   chat.Generator
}

func (s *Server) queued() chat.Generator {
	return queuedGenerator{queue: s.queue, gen: s.gen}
}

func (q queuedGenerator) Generate(ctx context.Context, messages []conversation.Message, handle assistant.Handle) (responder.Result, error) {
	lane := commandqueue.ThreadLane(handle)
	if handle.IsZero() {
		id, err := gonanoid.New()
		if err != nil {
			id = uuid.NewString()
		}
		lane = commandqueue.NewLane(id)
	}

	v, err := q.queue.Enqueue(ctx, lane, func(ctx context.Context) (any, error) {
		return q.gen.Generate(ctx, messages, handle)
	})
	res, _ := v.(responder.Result)
	return res, err
}
