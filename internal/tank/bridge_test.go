//go:build !windows

package tank

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deixis/tankbridge/internal/runner"
	"github.com/deixis/tankbridge/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBridge(t *testing.T, opts ...Option) *Bridge {
	t.Helper()
	b := New(&runner.Runner{Timeout: 30 * time.Second}, opts...)
	t.Cleanup(b.Wait)
	return b
}

type recordingHost struct {
	mu   sync.Mutex
	msgs []string
}

func (h *recordingHost) Log(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, msg)
}

func (h *recordingHost) messages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.msgs...)
}

type asyncOutcome struct {
	retcode int
	out     string
	errText string
}

func collect(ch chan<- asyncOutcome) Callback {
	return func(retcode int, out, errText string) {
		ch <- asyncOutcome{retcode, out, errText}
	}
}

func waitOutcome(t *testing.T, ch <-chan asyncOutcome) asyncOutcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(20 * time.Second):
		t.Fatal("callback was not invoked")
		return asyncOutcome{}
	}
}

func TestExecute_StdoutAndExitCode(t *testing.T) {
	dir := testutil.TankConfig(t, "echo one\necho two\necho three\nexit 7\n")
	b := newTestBridge(t)

	res := b.Execute(context.Background(), NopHost{}, Request{ConfigPath: dir, Command: "shotgun_list"})

	assert.Equal(t, 7, res.ExitCode)
	assert.Equal(t, "one\ntwo\nthree\n", res.Stdout)
	assert.Equal(t, "", res.Stderr)
}

func TestExecute_StderrOnly(t *testing.T) {
	dir := testutil.TankConfig(t, "echo bad >&2\necho worse >&2\nexit 1\n")
	b := newTestBridge(t)

	res := b.Execute(context.Background(), NopHost{}, Request{ConfigPath: dir, Command: "shotgun_fail"})

	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, "", res.Stdout)
	assert.Equal(t, "bad\nworse\n", res.Stderr)
}

func TestExecute_AbnormalTermination(t *testing.T) {
	dir := testutil.TankConfig(t, "echo before\nkill -9 $$\n")
	b := newTestBridge(t)

	res := b.Execute(context.Background(), NopHost{}, Request{ConfigPath: dir, Command: "shotgun_crash"})

	assert.Equal(t, SentinelExitCode, res.ExitCode)
	assert.Equal(t, "before\n", res.Stdout)
}

func TestExecute_UnterminatedLastLine(t *testing.T) {
	dir := testutil.TankConfig(t, "printf 'a\\nb'\nprintf 'e' >&2\n")
	b := newTestBridge(t)

	res := b.Execute(context.Background(), NopHost{}, Request{ConfigPath: dir, Command: "shotgun_x"})

	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "a\nb\n", res.Stdout)
	assert.Equal(t, "e\n", res.Stderr)
}

func TestExecute_ArgumentConvention(t *testing.T) {
	dir := testutil.TankConfig(t, "echo \"$0\"\necho \"$1\"\nshift\nfor a in \"$@\"; do echo \"[$a]\"; done\n")
	b := newTestBridge(t)

	res := b.Execute(context.Background(), NopHost{}, Request{
		ConfigPath: dir,
		Command:    "shotgun_args",
		Args:       []string{"first", "with space", "-flag"},
	})

	require.Equal(t, 0, res.ExitCode, res.Stderr)
	want := filepath.Join(dir, ScriptName) + "\nshotgun_args\n[first]\n[with space]\n[-flag]\n"
	assert.Equal(t, want, res.Stdout)
}

func TestExecute_InheritsEnvironment(t *testing.T) {
	t.Setenv("TANKBRIDGE_TEST_VALUE", "from-parent")
	dir := testutil.TankConfig(t, "echo \"$TANKBRIDGE_TEST_VALUE\"\n")
	b := newTestBridge(t)

	res := b.Execute(context.Background(), NopHost{}, Request{ConfigPath: dir, Command: "shotgun_env"})

	assert.Equal(t, "from-parent\n", res.Stdout)
}

func TestExecute_InvalidConfigPathIsContained(t *testing.T) {
	b := newTestBridge(t)
	missing := filepath.Join(t.TempDir(), "missing")

	res := b.Execute(context.Background(), NopHost{}, Request{ConfigPath: missing, Command: "shotgun_x"})

	assert.Equal(t, SentinelExitCode, res.ExitCode)
	assert.Equal(t, "", res.Stdout)
	assert.NotEmpty(t, res.Stderr)
	assert.Contains(t, res.Stderr, missing)
}

func TestExecute_InvalidCommandIsContained(t *testing.T) {
	dir := testutil.TankConfig(t, "exit 0\n")
	b := newTestBridge(t)

	res := b.Execute(context.Background(), NopHost{}, Request{ConfigPath: dir, Command: "rm"})

	assert.Equal(t, SentinelExitCode, res.ExitCode)
	assert.Contains(t, res.Stderr, "invalid tank command")
}

func TestExecute_LaunchFailureIsContained(t *testing.T) {
	dir := t.TempDir()
	// Present and regular, but not executable.
	require.NoError(t, os.WriteFile(filepath.Join(dir, ScriptName), []byte("#!/bin/sh\n"), 0o644))
	b := newTestBridge(t)

	res := b.Execute(context.Background(), NopHost{}, Request{ConfigPath: dir, Command: "shotgun_x"})

	assert.Equal(t, SentinelExitCode, res.ExitCode)
	assert.Equal(t, "", res.Stdout)
	assert.Contains(t, res.Stderr, "executing")
}

type fakeRunner struct {
	run func(ctx context.Context, argv []string) (*runner.Result, error)
}

func (f *fakeRunner) Run(ctx context.Context, argv []string) (*runner.Result, error) {
	return f.run(ctx, argv)
}

func TestExecute_RunnerErrorIsExecutionFault(t *testing.T) {
	dir := testutil.TankConfig(t, "exit 0\n")
	b := New(&fakeRunner{run: func(context.Context, []string) (*runner.Result, error) {
		return nil, errors.New("pipe exploded")
	}})

	res := b.Execute(context.Background(), NopHost{}, Request{ConfigPath: dir, Command: "shotgun_x"})

	assert.Equal(t, SentinelExitCode, res.ExitCode)
	assert.Contains(t, res.Stderr, "pipe exploded")

	_, err := b.execute(context.Background(), Request{ConfigPath: dir, Command: "shotgun_x"})
	assert.ErrorIs(t, err, ErrExecutionFault)
	assert.NotErrorIs(t, err, ErrInvalidArgument)
}

func TestExecute_PanicIsContained(t *testing.T) {
	dir := testutil.TankConfig(t, "exit 0\n")
	b := New(&fakeRunner{run: func(context.Context, []string) (*runner.Result, error) {
		panic("boom")
	}})

	res := b.Execute(context.Background(), NopHost{}, Request{ConfigPath: dir, Command: "shotgun_x"})

	assert.Equal(t, SentinelExitCode, res.ExitCode)
	assert.Equal(t, "", res.Stdout)
	assert.Contains(t, res.Stderr, "boom")
}

func TestExecute_NotifiesHost(t *testing.T) {
	dir := testutil.TankConfig(t, "exit 0\n")
	b := newTestBridge(t)
	host := &recordingHost{}

	b.Execute(context.Background(), host, Request{ConfigPath: dir, Command: "shotgun_x"})
	// Validation failures still notify the host first.
	b.Execute(context.Background(), host, Request{ConfigPath: dir, Command: "bad"})

	assert.Equal(t, []string{HostLogMessage, HostLogMessage}, host.messages())
}

func TestExecute_HostFailureIsIgnored(t *testing.T) {
	dir := testutil.TankConfig(t, "echo ok\n")
	b := newTestBridge(t)

	panicky := HostFunc(func(string) { panic("host gone") })
	res := b.Execute(context.Background(), panicky, Request{ConfigPath: dir, Command: "shotgun_x"})
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "ok\n", res.Stdout)

	res = b.Execute(context.Background(), nil, Request{ConfigPath: dir, Command: "shotgun_x"})
	assert.Equal(t, "ok\n", res.Stdout)
}

func TestExecuteAsync_InvalidCommandFailsImmediately(t *testing.T) {
	dir := testutil.TankConfig(t, "exit 0\n")
	b := newTestBridge(t)
	var calls atomic.Int32

	err := b.ExecuteAsync(context.Background(), NopHost{}, Request{ConfigPath: dir, Command: "nope"},
		func(int, string, string) { calls.Add(1) })

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	b.Wait()
	assert.Zero(t, calls.Load())
}

func TestExecuteAsync_MissingConfigurationFailsImmediately(t *testing.T) {
	b := newTestBridge(t)
	var calls atomic.Int32

	err := b.ExecuteAsync(context.Background(), NopHost{}, Request{ConfigPath: filepath.Join(t.TempDir(), "nope"), Command: "shotgun_x"},
		func(int, string, string) { calls.Add(1) })

	var invalid *InvalidArgumentError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, MissingConfiguration, invalid.Condition)
	b.Wait()
	assert.Zero(t, calls.Load())
}

func TestExecuteAsync_ReturnsBeforeCallback(t *testing.T) {
	gate := filepath.Join(t.TempDir(), "gate")
	dir := testutil.TankConfig(t, "while [ ! -f \""+gate+"\" ]; do sleep 0.01; done\necho released\nexit 4\n")
	b := newTestBridge(t)
	ch := make(chan asyncOutcome, 1)

	err := b.ExecuteAsync(context.Background(), NopHost{}, Request{ConfigPath: dir, Command: "shotgun_wait"}, collect(ch))
	require.NoError(t, err)

	select {
	case <-ch:
		t.Fatal("callback fired before the child was released")
	default:
	}

	require.NoError(t, os.WriteFile(gate, nil, 0o644))
	got := waitOutcome(t, ch)
	assert.Equal(t, asyncOutcome{retcode: 4, out: "released\n", errText: ""}, got)
}

func TestExecuteAsync_MatchesSyncResult(t *testing.T) {
	dir := testutil.TankConfig(t, "echo \"out $1 $2\"\necho \"err $2\" >&2\nexit 9\n")
	b := newTestBridge(t)
	req := Request{ConfigPath: dir, Command: "shotgun_same", Args: []string{"x"}}

	want := b.Execute(context.Background(), NopHost{}, req)

	ch := make(chan asyncOutcome, 2)
	require.NoError(t, b.ExecuteAsync(context.Background(), NopHost{}, req, collect(ch)))
	got := waitOutcome(t, ch)
	b.Wait()

	assert.Equal(t, asyncOutcome{want.ExitCode, want.Stdout, want.Stderr}, got)
	assert.Len(t, ch, 0, "callback invoked more than once")
}

func TestExecuteAsync_LateFailureReportedThroughCallback(t *testing.T) {
	dir := testutil.TankConfig(t, "exit 0\n")
	b := New(&fakeRunner{run: func(context.Context, []string) (*runner.Result, error) {
		return nil, errors.New("spawn failed")
	}})
	ch := make(chan asyncOutcome, 1)

	require.NoError(t, b.ExecuteAsync(context.Background(), NopHost{}, Request{ConfigPath: dir, Command: "shotgun_x"}, collect(ch)))
	got := waitOutcome(t, ch)

	assert.Equal(t, SentinelExitCode, got.retcode)
	assert.Equal(t, "", got.out)
	assert.Contains(t, got.errText, "spawn failed")
}

func TestExecuteAsync_CallbackPanicIsRecovered(t *testing.T) {
	dir := testutil.TankConfig(t, "exit 0\n")
	b := newTestBridge(t)

	require.NoError(t, b.ExecuteAsync(context.Background(), NopHost{}, Request{ConfigPath: dir, Command: "shotgun_x"},
		func(int, string, string) { panic("callback bug") }))
	b.Wait()

	require.NoError(t, b.ExecuteAsync(context.Background(), NopHost{}, Request{ConfigPath: dir, Command: "shotgun_x"}, nil))
	b.Wait()
}

func TestExecuteAsync_Limit(t *testing.T) {
	var running, peak atomic.Int32
	dir := testutil.TankConfig(t, "exit 0\n")
	b := New(&fakeRunner{run: func(context.Context, []string) (*runner.Result, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return &runner.Result{}, nil
	}}, WithAsyncLimit(2))

	ch := make(chan asyncOutcome, 6)
	for i := 0; i < 6; i++ {
		require.NoError(t, b.ExecuteAsync(context.Background(), NopHost{}, Request{ConfigPath: dir, Command: "shotgun_x"}, collect(ch)))
	}
	b.Wait()

	assert.Len(t, ch, 6)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestExecuteAsync_CancelledWhileQueued(t *testing.T) {
	dir := testutil.TankConfig(t, "exit 0\n")
	started := make(chan struct{})
	release := make(chan struct{})
	b := New(&fakeRunner{run: func(context.Context, []string) (*runner.Result, error) {
		close(started)
		<-release
		return &runner.Result{}, nil
	}}, WithAsyncLimit(1))

	first := make(chan asyncOutcome, 1)
	require.NoError(t, b.ExecuteAsync(context.Background(), NopHost{}, Request{ConfigPath: dir, Command: "shotgun_x"}, collect(first)))
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	second := make(chan asyncOutcome, 1)
	require.NoError(t, b.ExecuteAsync(ctx, NopHost{}, Request{ConfigPath: dir, Command: "shotgun_x"}, collect(second)))
	cancel()

	got := waitOutcome(t, second)
	assert.Equal(t, SentinelExitCode, got.retcode)
	assert.Contains(t, got.errText, "execution slot")

	close(release)
	assert.Equal(t, 0, waitOutcome(t, first).retcode)
}

func TestResultMap(t *testing.T) {
	m := Result{ExitCode: 2, Stdout: "o\n", Stderr: "e\n"}.Map()
	assert.Equal(t, map[string]any{"retcode": 2, "out": "o\n", "err": "e\n"}, m)
}
