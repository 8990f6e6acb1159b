package doctor

import (
	"os"

	"scribe/shutdown"
)

// ExitOnInterrupt makes Ctrl+C end the diagnostics immediately.
func ExitOnInterrupt() {
	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)
	go func() {
		<-sigChan
		ResetTerminal()
		println("\nInterrupted")
		os.Exit(1)
	}()
}
