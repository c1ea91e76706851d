package engine

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"slices"
)

// maxEventLine bounds a single engine event line. Content events are
// incremental fragments, so well-behaved engines stay far below this.
const maxEventLine = 1 << 20

// Local runs the engine binary as a subprocess, one process per run, and
// reads its line-delimited JSON event stream from stdout. Thread state
// lives wherever the engine keeps it; Local only passes IDs back in.
type Local struct {
	command string
	args    []string
	workdir string
}

// LocalConfig configures a Local engine.
type LocalConfig struct {
	// Command is the engine binary. Defaults to "agent".
	Command string
	// Args are base arguments placed before per-run flags.
	Args []string
	// Workdir is the working directory for conversations that do not name
	// their own. Empty means the process's current directory.
	Workdir string
}

var _ Engine = (*Local)(nil)

func NewLocal(cfg LocalConfig) *Local {
	command := cfg.Command
	if command == "" {
		command = "agent"
	}
	return &Local{
		command: command,
		args:    slices.Clone(cfg.Args),
		workdir: cfg.Workdir,
	}
}

func (l *Local) StartConversation(_ context.Context, workdir string) (Handle, error) {
	if workdir == "" {
		workdir = l.workdir
	}
	return Handle{Workdir: workdir}, nil
}

func (l *Local) ResumeConversation(_ context.Context, threadID string) (Handle, error) {
	if threadID == "" {
		return Handle{}, fmt.Errorf("resume requires a thread ID")
	}
	return Handle{ThreadID: threadID, Workdir: l.workdir}, nil
}

func (l *Local) Run(ctx context.Context, h Handle, promptText, systemPrompt string) (Result, error) {
	events, err := l.RunStreamed(ctx, h, promptText, systemPrompt)
	if err != nil {
		return Result{}, err
	}
	return collect(ctx, events)
}

func (l *Local) RunStreamed(ctx context.Context, h Handle, promptText, systemPrompt string) (<-chan Event, error) {
	args := slices.Clone(l.args)
	if systemPrompt != "" {
		args = append(args, "--system-prompt", systemPrompt)
	}
	if h.ThreadID != "" {
		args = append(args, "--resume", h.ThreadID)
	}
	args = append(args, promptText)

	cmd := exec.CommandContext(ctx, l.command, args...)
	if h.Workdir != "" {
		cmd.Dir = h.Workdir
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("attaching engine stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting engine process: %w", err)
	}

	events := make(chan Event)
	go func() {
		defer close(events)

		terminal := false
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), maxEventLine)

		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			ev, known, err := decodeEvent(line)
			if err != nil {
				send(ctx, events, Event{Kind: KindErrored, Err: err})
				terminal = true
				break
			}
			if !known {
				continue
			}
			if !send(ctx, events, ev) {
				break
			}
			if ev.Kind == KindCompleted || ev.Kind == KindErrored {
				terminal = true
				break
			}
		}

		waitErr := cmd.Wait()
		if terminal || ctx.Err() != nil {
			return
		}
		switch {
		case scanner.Err() != nil:
			send(ctx, events, Event{Kind: KindErrored, Err: fmt.Errorf("reading engine output: %w", scanner.Err())})
		case waitErr != nil:
			send(ctx, events, Event{Kind: KindErrored, Err: processError(waitErr, stderr.Bytes())})
		default:
			send(ctx, events, Event{Kind: KindErrored, Err: fmt.Errorf("engine exited without completing the run")})
		}
	}()

	return events, nil
}

// processError folds a nonzero exit and whatever the engine wrote to
// stderr into one error.
func processError(waitErr error, stderr []byte) error {
	msg := string(bytes.TrimSpace(stderr))
	if msg == "" {
		return fmt.Errorf("engine process failed: %w", waitErr)
	}
	return fmt.Errorf("engine process failed: %w: %s", waitErr, msg)
}
