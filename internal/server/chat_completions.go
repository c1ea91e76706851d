package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/agentbridge/agentbridge/internal/bridge"
	"github.com/agentbridge/agentbridge/internal/bridge/types"
)

// ChatCompletionsHandler handles OpenAI-compatible chat completion requests.
type ChatCompletionsHandler struct {
	Adapter bridge.ChatCompletionAdapter
}

// Compile-time check to ensure ChatCompletionsHandler implements http.Handler
var _ http.Handler = (*ChatCompletionsHandler)(nil)

// ServeHTTP implements http.Handler interface for streaming or non-streaming requests.
func (h *ChatCompletionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req bridge.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			slog.WarnContext(ctx, "request exceeds size limit", "limit_bytes", maxBytesErr.Limit)
			writeJSONError(ctx, w, types.NewInvalidRequestError(
				http.StatusText(http.StatusRequestEntityTooLarge), "",
			))
			return
		}
		slog.ErrorContext(ctx, "failed to decode request", "error", err)
		writeJSONError(ctx, w, types.NewInvalidRequestError(
			http.StatusText(http.StatusBadRequest), "",
		))
		return
	}

	if req.Stream {
		h.streamResponse(ctx, w, req)
	} else {
		h.writeResponse(ctx, w, req)
	}
}

// writeResponse handles non-streaming chat completion requests.
func (h *ChatCompletionsHandler) writeResponse(
	ctx context.Context,
	w http.ResponseWriter,
	req bridge.ChatCompletionRequest,
) {
	if ctx.Err() != nil {
		return
	}
	response, err := h.Adapter.ProcessRequest(ctx, req)
	if err != nil {
		slog.ErrorContext(ctx, "request failed", "error", err)

		var errResp *types.ErrorResponse
		if errors.As(err, &errResp) {
			writeJSONError(ctx, w, errResp)
			return
		}

		writeJSONError(ctx, w, types.NewAPIError(http.StatusText(http.StatusInternalServerError)))
		return
	}

	writeJSON(ctx, w, response, http.StatusOK)
}

// streamResponse streams chat completion chunks using SSE.
func (h *ChatCompletionsHandler) streamResponse(
	ctx context.Context,
	w http.ResponseWriter,
	req bridge.ChatCompletionRequest,
) {
	if ctx.Err() != nil {
		return
	}
	stream, err := h.Adapter.ProcessStreamingRequest(ctx, req)
	if err != nil {
		slog.ErrorContext(ctx, "streaming request failed", "error", err)

		var errResp *types.ErrorResponse
		if errors.As(err, &errResp) {
			writeJSONError(ctx, w, errResp)
			return
		}

		writeJSONError(ctx, w, types.NewAPIError(http.StatusText(http.StatusInternalServerError)))
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		slog.ErrorContext(ctx, "SSE not supported", "error", err)
		writeJSONError(ctx, w, types.NewAPIError(http.StatusText(http.StatusInternalServerError)))
		return
	}

	for chunk, err := range stream {
		// Check for client disconnect before processing chunk
		if ctx.Err() != nil {
			slog.DebugContext(ctx, "client disconnected during stream")
			return
		}

		if err != nil {
			slog.ErrorContext(ctx, "stream error", "error", err)

			// Clients recognize the {"error": {...}} frame and stop reading,
			// so the stream ends here without a [DONE] marker.
			errResp := streamErrorResponse(err)
			if writeErr := sse.WriteEvent("error"); writeErr != nil {
				slog.ErrorContext(ctx, "failed to write error event type", "error", writeErr)
				return
			}
			if writeErr := sse.WriteData(errResp); writeErr != nil {
				slog.ErrorContext(ctx, "failed to write error", "error", writeErr)
			}
			return
		}

		if err := sse.WriteData(chunk); err != nil {
			slog.ErrorContext(ctx, "failed to write chunk", "error", err)
			return
		}
	}

	// Streaming protocol requires the [DONE] marker after the terminal chunk
	if err := sse.WriteRaw("[DONE]"); err != nil {
		slog.ErrorContext(ctx, "failed to write stream termination marker", "error", err)
	}
}

// streamErrorResponse shapes any stream failure as the client-facing error
// envelope.
func streamErrorResponse(err error) *types.ErrorResponse {
	var errResp *types.ErrorResponse
	if errors.As(err, &errResp) {
		return errResp
	}
	return types.NewAPIError(err.Error())
}
