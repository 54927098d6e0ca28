package unit

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
)

const defaultStderrLimit = 4 << 10

// CommandSpec describes an OS worker process.
//
// Protocol: the payload is written to the worker's stdin, stdout carries the
// success value, and a non-zero exit (or death by signal) is a failure whose
// message is the tail of stderr.
type CommandSpec struct {
	Path string
	Args []string
	Env  []string // appended to the parent environment
	Dir  string

	// StderrLimit bounds how much of stderr is kept for error markers.
	StderrLimit int
}

// Command returns a Launcher that starts one process per unit.
func Command(spec CommandSpec) Launcher {
	return &commandLauncher{spec: spec}
}

type commandLauncher struct {
	spec CommandSpec
}

func (l *commandLauncher) Launch(payload []byte) (Handle, error) {
	if l.spec.Path == "" {
		return nil, errors.New("command path is required")
	}
	cmd := exec.Command(l.spec.Path, l.spec.Args...)
	cmd.Dir = l.spec.Dir
	if len(l.spec.Env) > 0 {
		cmd.Env = append(os.Environ(), l.spec.Env...)
	}
	cmd.Stdin = bytes.NewReader(payload)

	limit := l.spec.StderrLimit
	if limit <= 0 {
		limit = defaultStderrLimit
	}
	h := &commandHandle{
		cmd:    cmd,
		done:   make(chan struct{}),
		stderr: &tailBuffer{limit: limit},
	}
	cmd.Stdout = &h.stdout
	cmd.Stderr = h.stderr
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", l.spec.Path, err)
	}
	go h.wait()
	return h, nil
}

type commandHandle struct {
	cmd    *exec.Cmd
	done   chan struct{}
	stdout bytes.Buffer
	stderr *tailBuffer

	mu     sync.Mutex
	res    Result
	killed bool
}

func (h *commandHandle) wait() {
	err := h.cmd.Wait()
	var res Result
	if err != nil {
		res.Err = &WorkerError{Err: fmt.Errorf("worker exited: %w", err), Stderr: h.stderr.String()}
	} else {
		res.Value = h.stdout.Bytes()
	}
	h.mu.Lock()
	h.res = res
	h.mu.Unlock()
	close(h.done)
}

func (h *commandHandle) Done() <-chan struct{} { return h.done }

func (h *commandHandle) Result() Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.res
}

func (h *commandHandle) Kill() {
	h.mu.Lock()
	if h.killed {
		h.mu.Unlock()
		return
	}
	h.killed = true
	h.mu.Unlock()

	select {
	case <-h.done:
		return
	default:
	}
	killProcessGroup(h.cmd)
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
