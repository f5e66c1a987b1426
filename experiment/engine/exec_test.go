package engine

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"

	"github.com/alexisiddiqui/xMD-HOIP/experiment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecExecutor_PassesStdinAndEnv(t *testing.T) {
	requireShell(t)
	var out bytes.Buffer
	x := &ExecExecutor{Stdout: &out, Stderr: &bytes.Buffer{}}

	err := x.Run(context.Background(), experiment.Command{
		Name:  "sh",
		Args:  []string{"-c", `read a; read b; echo "$a$b $XMD_TEST_VAR"`},
		Stdin: "1\n0\n",
		Env:   []string{"XMD_TEST_VAR=set"},
	})

	require.NoError(t, err)
	assert.Equal(t, "10 set", strings.TrimSpace(out.String()))
}

func TestExecExecutor_NonZeroExitIsCollaboratorError(t *testing.T) {
	requireShell(t)
	x := &ExecExecutor{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}

	err := x.Run(context.Background(), experiment.Command{Name: "sh", Args: []string{"-c", "echo boom >&2; exit 1"}})

	var ce *experiment.CollaboratorError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "sh", ce.Tool)
	assert.Equal(t, "boom", ce.Stderr)
	var exitErr *exec.ExitError
	assert.True(t, errors.As(err, &exitErr))
}

func TestExecExecutor_CancelledBeforeStart(t *testing.T) {
	x := NewExecExecutor()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := x.Run(ctx, experiment.Command{Name: "sh", Args: []string{"-c", "true"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTailBuffer_KeepsLastBytes(t *testing.T) {
	tb := &tailBuffer{max: 4}
	_, _ = tb.Write([]byte("abc"))
	_, _ = tb.Write([]byte("defg"))
	assert.Equal(t, "defg", tb.String())
}
