package tui

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
)

// Run starts the thread browser and blocks until the user quits or ctx is
// canceled.
func Run(ctx context.Context, cfg Config) error {
	if cfg.Lister == nil {
		return fmt.Errorf("thread lister is required")
	}
	if cfg.UserID == "" {
		return fmt.Errorf("user id is required")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Restore the terminal on any exit path. Best-effort; errors are ignored.
	cleanupTerminal := func() {
		_, _ = os.Stdout.Write([]byte("\033[?1049l")) // Exit alternate screen
		_, _ = os.Stdout.Write([]byte("\033[?25h"))   // Show cursor
		_, _ = os.Stdout.Write([]byte("\033[m"))      // Reset colors
	}
	defer cleanupTerminal()

	go func() {
		defer signal.Stop(sigChan)
		select {
		case <-ctx.Done():
		case <-sigChan:
			cleanupTerminal()
			cancel()
		}
	}()

	p := tea.NewProgram(newModel(cfg), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("thread browser failed: %w", err)
	}
	return nil
}
