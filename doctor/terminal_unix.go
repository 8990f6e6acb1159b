//go:build !windows

package doctor

import "os/exec"

// ResetTerminal restores cooked mode after an interrupted raw-mode prompt.
func ResetTerminal() {
	exec.Command("stty", "sane").Run()
}
