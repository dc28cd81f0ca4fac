package convert

import (
	"context"
	"fmt"
	"strings"

	"github.com/ZebulonRouseFrantzich/pandock/internal/events"
)

// Version runs `binary --version` and returns its output. The command and
// every non-empty output line are echoed to the log topic.
func (i *Invoker) Version(ctx context.Context, binary string) (string, error) {
	em := events.NewEmitter(i.bus, i.clock, events.SourceProbe, i.newID())

	if strings.TrimSpace(binary) == "" {
		err := &InvalidRequestError{Field: "binary path", Reason: "no pandoc binary configured"}
		em.Error(err.Error(), "")
		return "", err
	}

	em.Info(fmt.Sprintf("$ %s --version", binary), "")

	ctx, cancel := context.WithTimeout(ctx, i.probeTimeout)
	defer cancel()
	stdout, stderr, code, err := i.runner.Run(ctx, binary, []string{"--version"})
	if err != nil || code != 0 {
		perr := &ProcessError{ExitCode: code, Stderr: string(stderr)}
		if err != nil {
			perr = &ProcessError{Stderr: string(stderr), Err: fmt.Errorf("execute pandoc: %w", err)}
		}
		em.Error("Failed to get pandoc version: "+perr.Error(), perr.Details())
		return "", perr
	}

	for _, line := range strings.Split(string(stdout), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			em.Success(line, "")
		}
	}
	return strings.TrimSpace(string(stdout)), nil
}
