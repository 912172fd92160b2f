package privileged

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gajzzs/blocksites/internal/schema"
)

var t0 = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

func validRequest() *Request {
	return &Request{
		Op:      OpApply,
		Config:  schema.BlockConfiguration{Sites: []string{"x.com"}, StartTime: t0, EndTime: t0.Add(time.Hour)},
		IPCache: schema.IPCache{IPs: map[string][]string{"x.com": {"104.244.42.1"}}, LastUpdated: t0},
	}
}

func TestRequest_WriteRead(t *testing.T) {
	path, err := WriteRequest(validRequest())
	require.NoError(t, err)
	defer os.Remove(path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	got, err := ReadRequest(path)
	require.NoError(t, err)
	assert.Equal(t, OpApply, got.Op)
	assert.Equal(t, []string{"x.com"}, got.Config.Sites)
	assert.Equal(t, []string{"104.244.42.1"}, got.IPCache.IPs["x.com"])
}

func TestReadRequest_Rejects(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0600))
		return p
	}

	_, err := ReadRequest(write("bad.json", "{"))
	assert.Error(t, err)

	_, err = ReadRequest(write("op.json", `{"op":"unblock","config":{"sites":["x.com"],"startTime":"2026-10-18T09:00:00Z","endTime":"2026-10-18T10:00:00Z"}}`))
	assert.ErrorContains(t, err, "unknown operation")

	_, err = ReadRequest(write("times.json", `{"op":"apply","config":{"sites":["x.com"],"startTime":"2026-10-18T09:00:00Z","endTime":"2026-10-18T09:00:00Z"}}`))
	assert.Error(t, err)

	_, err = ReadRequest(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestOsascriptCommand(t *testing.T) {
	name, args := osascriptCommand(false, "/usr/local/bin/blocksites", "/tmp/it's.json", nil)
	assert.Equal(t, "/usr/bin/osascript", name)
	require.Len(t, args, 2)
	assert.Equal(t, "-e", args[0])
	assert.Equal(t,
		`do shell script "'/usr/local/bin/blocksites' 'apply' '--request' '/tmp/it'\\''s.json'" with administrator privileges`,
		args[1])

	name, args = osascriptCommand(true, "/usr/local/bin/blocksites", "/tmp/r.json", []string{"BLOCKSITES_ENV=dev"})
	assert.Equal(t, "/usr/bin/env", name)
	assert.Equal(t, []string{"BLOCKSITES_ENV=dev", "/usr/local/bin/blocksites", "apply", "--request", "/tmp/r.json"}, args)
}

func TestPkexecCommand(t *testing.T) {
	name, args := pkexecCommand(false, "/usr/local/bin/blocksites", "/tmp/r.json", []string{"BLOCKSITES_STATE_DIR=/tmp/s"})
	assert.Equal(t, "pkexec", name)
	assert.Equal(t, []string{"/usr/bin/env", "BLOCKSITES_STATE_DIR=/tmp/s", "/usr/local/bin/blocksites", "apply", "--request", "/tmp/r.json"}, args)
}

func TestClassifyOsascript(t *testing.T) {
	assert.NoError(t, classifyOsascript(nil, nil))
	assert.ErrorIs(t, classifyOsascript([]byte("0:22: execution error: User canceled. (-128)"), errors.New("exit status 1")), ErrDeclined)

	err := classifyOsascript([]byte("execution error: hosts: Operation not permitted (1)"), errors.New("exit status 1"))
	var elevErr *ElevationError
	require.ErrorAs(t, err, &elevErr)
	assert.Contains(t, elevErr.Message, "Operation not permitted")
	assert.False(t, errors.Is(err, ErrDeclined))
}

func TestClassifyPkexec(t *testing.T) {
	exit := func(code string) error {
		return exec.Command("sh", "-c", "exit "+code).Run()
	}
	assert.NoError(t, classifyPkexec(nil, nil))
	assert.ErrorIs(t, classifyPkexec(nil, exit("126")), ErrDeclined)

	var elevErr *ElevationError
	assert.ErrorAs(t, classifyPkexec([]byte("Not authorized"), exit("127")), &elevErr)
	assert.Equal(t, "Not authorized", elevErr.Message)
}

type fakeRunner struct {
	name string
	args []string
	out  []byte
	err  error
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.name, r.args = name, args
	return r.out, r.err
}

func TestCommandExecutor_Execute(t *testing.T) {
	runner := &fakeRunner{}
	x := &CommandExecutor{Runner: runner, Self: "/usr/local/bin/blocksites"}

	require.NoError(t, x.Execute(context.Background(), validRequest()))
	require.NotEmpty(t, runner.args)
	requestPath := runner.args[len(runner.args)-1]
	_, err := os.Stat(requestPath)
	assert.True(t, os.IsNotExist(err), "request file is removed afterwards")
}

func TestCommandExecutor_InvalidRequest(t *testing.T) {
	runner := &fakeRunner{}
	x := &CommandExecutor{Runner: runner, Self: "/usr/local/bin/blocksites"}

	req := validRequest()
	req.Config.Sites = nil
	var elevErr *ElevationError
	assert.ErrorAs(t, x.Execute(context.Background(), req), &elevErr)
	assert.Empty(t, runner.name)
}
