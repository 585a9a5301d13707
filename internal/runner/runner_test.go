package runner

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boshu2/safetest/internal/guard"
	"github.com/boshu2/safetest/internal/types"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process groups are unix-only")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func testConfig() types.TimeoutConfiguration {
	return types.TimeoutConfiguration{
		DefaultTimeout:          5 * time.Second,
		EscalationTimeout:       10 * time.Second,
		MaxHeartbeatFailures:    1,
		EnableForceCancellation: true,
	}
}

func TestArgvSubstitution(t *testing.T) {
	g := guard.NewRobust(testConfig())
	tests := []struct {
		command string
		want    []string
	}{
		{"go test -count=1 {test}", []string{"go", "test", "-count=1", "pkg/a"}},
		{"go test", []string{"go", "test", "pkg/a"}},
		{`sh -c "echo {test} && echo '{test}'"`, []string{"sh", "-c", "echo pkg/a && echo 'pkg/a'"}},
		{"", []string{"go", "test", "-count=1", "-v", "pkg/a"}},
	}
	for _, tt := range tests {
		r, err := New(g, Options{Command: tt.command}, nil)
		require.NoError(t, err)
		assert.Equal(t, tt.want, r.Argv("pkg/a"), "command %q", tt.command)
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New(nil, Options{}, nil)
	assert.ErrorIs(t, err, ErrNoGuard)

	_, err = New(guard.NewRobust(testConfig()), Options{Command: `sh -c "unterminated`}, nil)
	assert.Error(t, err)
}

func TestRunPassAndFail(t *testing.T) {
	requireShell(t)
	g := guard.NewRobust(testConfig())
	var out bytes.Buffer
	r, err := New(g, Options{
		Command:         `sh -c 'for i in 1 2 3; do echo "row$i"; done; test "{test}" = good'`,
		Parallelism:     2,
		OutputTailLines: 2,
		Output:          &out,
	}, nil)
	require.NoError(t, err)

	report := r.Run(context.Background(), []string{"good", "bad"})

	require.Len(t, report.Results, 2)
	assert.Equal(t, "good", report.Results[0].TestID)
	assert.True(t, report.Results[0].IsSuccess)
	assert.False(t, report.Results[1].IsSuccess)
	assert.Equal(t, types.OutcomeCompleted, report.Results[1].Outcome)
	assert.Contains(t, report.Results[1].ErrorMessage, "row2\nrow3")
	assert.NotContains(t, report.Results[1].ErrorMessage, "row1")
	assert.Equal(t, 1, report.Passed)
	assert.Equal(t, 1, report.Failed)
	assert.False(t, report.OK())
	assert.NotEmpty(t, report.ID)
	assert.Equal(t, types.ProfileRobust, report.Profile)
	assert.Contains(t, out.String(), "[good] row1")
	assert.Empty(t, g.ActiveTests())
}

func TestRunKillsHungProcess(t *testing.T) {
	requireShell(t)
	g := guard.NewAggressive(testConfig())
	r, err := New(g, Options{
		Command: `sh -c 'trap "" TERM; sleep 30'`,
		Timeout: 200 * time.Millisecond,
	}, nil)
	require.NoError(t, err)

	start := time.Now()
	report := r.Run(context.Background(), []string{"hung"})

	require.Len(t, report.Results, 1)
	res := report.Results[0]
	assert.True(t, res.IsTimeout)
	assert.True(t, res.IsForceCancelled)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, report.TimedOut)
	assert.Zero(t, g.ActiveProcesses())
}

func TestRunEscalatesPastIgnoredTerm(t *testing.T) {
	requireShell(t)
	cfg := testConfig()
	cfg.DefaultTimeout = 100 * time.Millisecond
	cfg.EscalationTimeout = 0
	g := guard.NewRobust(cfg)
	r, err := New(g, Options{Command: `sh -c 'trap "" TERM; sleep 30' {test}`, Parallelism: 2}, nil)
	require.NoError(t, err)

	// SIGTERM from the cancelled context and the escalation kill both
	// address the runner's process; the guard only ever holds its pid.
	report := r.Run(context.Background(), []string{"a", "b"})

	require.Len(t, report.Results, 2)
	for _, res := range report.Results {
		assert.Equal(t, types.OutcomeEscalated, res.Outcome, res.CancellationReason)
		assert.True(t, res.IsForceCancelled)
	}
	assert.Equal(t, 2, report.TimedOut)
	assert.Zero(t, g.ActiveProcesses())
	assert.Empty(t, g.ActiveTests())
}

func TestRunCooperativeCancellation(t *testing.T) {
	requireShell(t)
	g := guard.NewRobust(testConfig())
	r, err := New(g, Options{Command: `sh -c "sleep 30" {test}`}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	report := r.Run(ctx, []string{"a"})

	require.Len(t, report.Results, 1)
	res := report.Results[0]
	assert.Equal(t, types.OutcomeCancelled, res.Outcome)
	assert.False(t, res.IsForceCancelled, "sleep honours SIGTERM")
	assert.Equal(t, 1, report.Cancelled)
}

func TestRunSkipsAfterCancel(t *testing.T) {
	g := guard.NewRobust(testConfig())
	r, err := New(g, Options{Command: "true"}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report := r.Run(ctx, []string{"a", "b"})

	require.Len(t, report.Results, 2)
	for _, res := range report.Results {
		assert.Equal(t, types.OutcomeCancelled, res.Outcome)
		assert.True(t, strings.HasPrefix(res.CancellationReason, "not started"))
	}
}

func TestLineWriterHeartbeatsAndTail(t *testing.T) {
	handle := &countingHandle{}
	w := newLineWriter(handle, 2, nil, "")

	_, _ = w.Write([]byte("a\nb"))
	_, _ = w.Write([]byte("c\r\nd"))
	w.flush()

	assert.Equal(t, []string{"bc", "d"}, w.Tail())
	assert.Equal(t, 2, handle.beats)
}

type countingHandle struct{ beats int }

func (p *countingHandle) Beat()                     { p.beats++ }
func (p *countingHandle) AttachProcess(*os.Process) {}
