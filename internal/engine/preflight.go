package engine

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

const preflightTimeout = 10 * time.Second

// Preflight verifies the engine binary is present and runnable by invoking
// its help command. Binary absence is a startup-time precondition failure,
// not a per-session error.
func Preflight(ctx context.Context, bin string) error {
	ctx, cancel := context.WithTimeout(ctx, preflightTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, bin, "-h")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("engine not found or not working at %s: %w", bin, err)
	}
	return nil
}
