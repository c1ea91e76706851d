package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// Remote talks to an engine daemon over HTTP. Runs are dispatched as a
// single POST whose response body is an SSE feed of engine events; the
// daemon's data payloads match the local engine's stdout lines.
type Remote struct {
	baseURL   string
	client    *http.Client
	transport http.RoundTripper
}

// RemoteOption customizes a Remote engine.
type RemoteOption func(*Remote)

// WithTransport replaces the underlying HTTP transport. Authentication
// wrapping still applies on top of it.
func WithTransport(rt http.RoundTripper) RemoteOption {
	return func(r *Remote) {
		r.transport = rt
	}
}

var _ Engine = (*Remote)(nil)

// NewRemote builds a Remote engine for the daemon at baseURL. When source
// is non-nil every request carries its bearer token.
func NewRemote(baseURL string, source oauth2.TokenSource, opts ...RemoteOption) *Remote {
	r := &Remote{
		baseURL:   strings.TrimRight(baseURL, "/"),
		transport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(r)
	}

	transport := r.transport
	if source != nil {
		transport = &oauth2.Transport{Source: source, Base: transport}
	}
	// No client timeout: a run's SSE feed stays open for the full response.
	// Cancellation rides on the request context.
	r.client = &http.Client{Transport: transport}
	return r
}

func (r *Remote) StartConversation(_ context.Context, workdir string) (Handle, error) {
	return Handle{Workdir: workdir}, nil
}

func (r *Remote) ResumeConversation(_ context.Context, threadID string) (Handle, error) {
	if threadID == "" {
		return Handle{}, fmt.Errorf("resume requires a thread ID")
	}
	return Handle{ThreadID: threadID}, nil
}

// runRequest is the daemon's run dispatch payload.
type runRequest struct {
	Prompt       string `json:"prompt"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	ThreadID     string `json:"thread_id,omitempty"`
	Workdir      string `json:"workdir,omitempty"`
	Stream       bool   `json:"stream"`
}

func (r *Remote) Run(ctx context.Context, h Handle, promptText, systemPrompt string) (Result, error) {
	events, err := r.RunStreamed(ctx, h, promptText, systemPrompt)
	if err != nil {
		return Result{}, err
	}
	return collect(ctx, events)
}

func (r *Remote) RunStreamed(ctx context.Context, h Handle, promptText, systemPrompt string) (<-chan Event, error) {
	payload, err := json.Marshal(runRequest{
		Prompt:       promptText,
		SystemPrompt: systemPrompt,
		ThreadID:     h.ThreadID,
		Workdir:      h.Workdir,
		Stream:       true,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding run request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/runs", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building run request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dispatching run: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return nil, fmt.Errorf("engine daemon returned %s: %s", resp.Status, bytes.TrimSpace(body))
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		terminal := false
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxEventLine)

		var eventName string
		var data strings.Builder
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				if data.Len() == 0 {
					eventName = ""
					continue
				}
				payload := data.String()
				data.Reset()
				name := eventName
				eventName = ""
				if name == "ping" {
					continue
				}
				ev, known, err := decodeEvent([]byte(payload))
				if err != nil {
					send(ctx, events, Event{Kind: KindErrored, Err: err})
					terminal = true
				} else if known {
					if !send(ctx, events, ev) {
						return
					}
					if ev.Kind == KindCompleted || ev.Kind == KindErrored {
						terminal = true
					}
				}
				if terminal {
					return
				}
			case strings.HasPrefix(line, "event:"):
				eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				if data.Len() > 0 {
					data.WriteByte('\n')
				}
				data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			case strings.HasPrefix(line, ":"):
				// Comment line, typically a heartbeat.
			}
		}

		if terminal || ctx.Err() != nil {
			return
		}
		if err := scanner.Err(); err != nil {
			send(ctx, events, Event{Kind: KindErrored, Err: fmt.Errorf("reading engine stream: %w", err)})
			return
		}
		send(ctx, events, Event{Kind: KindErrored, Err: fmt.Errorf("engine stream ended without completing the run")})
	}()

	return events, nil
}
