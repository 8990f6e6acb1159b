//go:build windows

package doctor

func ResetTerminal() {}
