//go:build darwin
// +build darwin

package privileged

var (
	elevationCommand = osascriptCommand
	classify         = classifyOsascript
)
