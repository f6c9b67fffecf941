// Command rip moves files into a graveyard instead of deleting them, and
// brings them back on request.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"rip-sage/internal/exitcodes"
	"rip-sage/internal/graveyard"
)

// errInvalidUsage marks bad flags, arguments and configuration.
var errInvalidUsage = errors.New("invalid usage")

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	a := newApp(stdin, stdout, stderr)
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	a.close()
	if err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			fmt.Fprintf(stderr, "rip: %s\n", line)
		}
	}
	return exitCode(err)
}

// exitCode maps an error onto the documented exit codes. Several targets
// can fail in one run; the most specific class found anywhere wins.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitcodes.Success
	case errors.Is(err, errInvalidUsage):
		return exitcodes.InvalidConfig
	case errors.Is(err, graveyard.ErrProtectedPath),
		errors.Is(err, graveyard.ErrInsideGraveyard),
		errors.Is(err, graveyard.ErrContainsGraveyard),
		errors.Is(err, graveyard.ErrOutsideGraveyard):
		return exitcodes.SafetyViolation
	case errors.Is(err, graveyard.ErrLockContention):
		return exitcodes.LockContention
	case errors.Is(err, graveyard.ErrDestinationOccupied):
		return exitcodes.DestinationOccupied
	case errors.Is(err, graveyard.ErrNotFound), errors.Is(err, graveyard.ErrMissingGraveyardFile):
		return exitcodes.NotFound
	default:
		return exitcodes.RuntimeError
	}
}
