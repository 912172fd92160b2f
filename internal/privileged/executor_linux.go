//go:build linux
// +build linux

package privileged

var (
	elevationCommand = pkexecCommand
	classify         = classifyPkexec
)
