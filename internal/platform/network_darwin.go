//go:build darwin
// +build darwin

package platform

var flushCommands = [][]string{
	{"/usr/bin/dscacheutil", "-flushcache"},
	{"/usr/bin/killall", "-HUP", "mDNSResponder"},
}

func newPacketFilter(opts PFOptions, runner Runner) PacketFilter {
	return NewPF(opts, runner)
}
