package privileged

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"

	"github.com/gajzzs/blocksites/internal/log"
	"github.com/gajzzs/blocksites/internal/platform"
)

// ErrDeclined means the user dismissed the elevation prompt. Nothing was
// changed.
var ErrDeclined = errors.New("elevation declined")

// ElevationError is any failure of the elevated helper other than a
// declined prompt.
type ElevationError struct {
	Message string
	Err     error
}

func (e *ElevationError) Error() string {
	if e.Message == "" {
		return "privileged operation failed"
	}
	return "privileged operation failed: " + e.Message
}

func (e *ElevationError) Unwrap() error { return e.Err }

// Executor runs a request with root privileges. It returns nil,
// ErrDeclined or an *ElevationError.
type Executor interface {
	Execute(ctx context.Context, req *Request) error
}

// CommandExecutor re-invokes the CLI binary as "apply --request FILE"
// through the platform's elevation tool.
type CommandExecutor struct {
	Runner platform.Runner
	// Self is the path of the blocksites binary.
	Self string
	// Env is forwarded to the helper so both sides agree on paths.
	Env []string
}

func (x *CommandExecutor) Execute(ctx context.Context, req *Request) error {
	if err := req.Validate(); err != nil {
		return &ElevationError{Message: err.Error(), Err: err}
	}
	path, err := WriteRequest(req)
	if err != nil {
		return &ElevationError{Message: err.Error(), Err: err}
	}
	defer os.Remove(path)

	name, args := elevationCommand(os.Geteuid() == 0, x.Self, path, x.Env)
	log.Debug(map[string]any{"command": name, "op": req.Op}, "running privileged helper")
	out, err := x.Runner.Run(ctx, name, args...)
	return classify(out, err)
}

func helperArgs(self, requestPath string, env []string) []string {
	args := make([]string, 0, len(env)+4)
	if len(env) > 0 {
		args = append(args, "/usr/bin/env")
		args = append(args, env...)
	}
	return append(args, self, "apply", "--request", requestPath)
}

func trimOutput(out []byte) string {
	return strings.TrimSpace(string(out))
}

func elevationFailure(out []byte, err error) error {
	msg := trimOutput(out)
	if msg == "" {
		msg = err.Error()
	}
	return &ElevationError{Message: msg, Err: err}
}

// RequestEnv returns the BLOCKSITES_* variables of the current process.
func RequestEnv() []string {
	var env []string
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "BLOCKSITES_") {
			env = append(env, kv)
		}
	}
	return env
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func joinShell(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = shellQuote(a)
	}
	return strings.Join(quoted, " ")
}

// osascriptCommand wraps the helper in an AppleScript "do shell script",
// which shows the native administrator password dialog.
func osascriptCommand(root bool, self, requestPath string, env []string) (string, []string) {
	args := helperArgs(self, requestPath, env)
	if root {
		return args[0], args[1:]
	}
	script := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(joinShell(args))
	return "/usr/bin/osascript", []string{"-e", `do shell script "` + script + `" with administrator privileges`}
}

// classifyOsascript maps AppleScript error -128 (userCanceledErr) to
// ErrDeclined.
func classifyOsascript(out []byte, err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(string(out), "(-128)") || strings.Contains(err.Error(), "(-128)") {
		return ErrDeclined
	}
	return elevationFailure(out, err)
}

// pkexecCommand runs the helper through polkit. pkexec clears the
// environment, so settings travel through env(1).
func pkexecCommand(root bool, self, requestPath string, env []string) (string, []string) {
	args := helperArgs(self, requestPath, env)
	if root {
		return args[0], args[1:]
	}
	return "pkexec", args
}

// classifyPkexec maps exit status 126, a dismissed polkit dialog, to
// ErrDeclined.
func classifyPkexec(out []byte, err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 126 {
		return ErrDeclined
	}
	return elevationFailure(out, err)
}
