package ui

import (
	"fmt"
	"log/slog"
	"os/exec"
)

// OpenFileInDefaultApp opens filePath with xdg-open without waiting for the
// viewer to exit.
func OpenFileInDefaultApp(filePath string) error {
	cmd := exec.Command("xdg-open", filePath)
	slog.Debug("opening file in default app", "component", "ui", "path", filePath)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start command (%s): %w", cmd.String(), err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
