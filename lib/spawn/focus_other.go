//go:build !windows

package spawn

func focusExisting(command string) {}
