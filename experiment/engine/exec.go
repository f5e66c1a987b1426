package engine

import (
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/alexisiddiqui/xMD-HOIP/experiment"
	"github.com/sirupsen/logrus"
)

// stderrTail bounds how much child stderr is kept for error messages.
const stderrTail = 4096

// ExecExecutor runs commands with os/exec. Children are started with
// exec.Command, not CommandContext: a running stage is never killed, the
// context is only consulted before a child starts.
type ExecExecutor struct {
	Stdout io.Writer // nil = logrus at debug level
	Stderr io.Writer // nil = logrus at info level
}

// NewExecExecutor returns an executor that streams child output to logrus.
func NewExecExecutor() *ExecExecutor { return &ExecExecutor{} }

// Run starts c, feeds its stdin and waits for it to exit.
func (x *ExecExecutor) Run(ctx context.Context, c experiment.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cmd := exec.Command(c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	if c.Stdin != "" {
		cmd.Stdin = strings.NewReader(c.Stdin)
	}

	stdout := x.Stdout
	if stdout == nil {
		w := logrus.StandardLogger().WriterLevel(logrus.DebugLevel)
		defer func() { _ = w.Close() }()
		stdout = w
	}
	stderr := x.Stderr
	if stderr == nil {
		w := logrus.StandardLogger().WriterLevel(logrus.InfoLevel)
		defer func() { _ = w.Close() }()
		stderr = w
	}
	tail := &tailBuffer{max: stderrTail}
	cmd.Stdout = stdout
	cmd.Stderr = io.MultiWriter(stderr, tail)

	if err := cmd.Run(); err != nil {
		return &experiment.CollaboratorError{
			Tool:   c.Name,
			Args:   c.Args,
			Stderr: strings.TrimSpace(tail.String()),
			Err:    err,
		}
	}
	return nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

var _ experiment.Executor = (*ExecExecutor)(nil)
