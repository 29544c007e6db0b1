package detector

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/exec"
	"strings"
	"time"
)

// RollbackActuator is the injected capability the live monitor invokes once
// the detector triggers. Implementations are swappable per deployment
// strategy; a fake stands in during tests.
type RollbackActuator interface {
	Execute(ctx context.Context) error
}

// DefaultActuatorTimeout bounds one rollback attempt.
const DefaultActuatorTimeout = 60 * time.Second

// ScriptActuator runs a deployment-strategy rollback script (blue-green or
// canary) through the shell.
type ScriptActuator struct {
	Script string
}

func (a *ScriptActuator) Execute(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "bash", a.Script)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("rollback script %s timed out: %w", a.Script, ctx.Err())
		}
		return fmt.Errorf("rollback script %s failed: %w: %s", a.Script, err, strings.TrimSpace(string(out)))
	}
	log.Printf("[rollback] script %s completed: %s", a.Script, strings.TrimSpace(string(out)))
	return nil
}

// HTTPActuator triggers rollback by POSTing to a deployment controller
// webhook.
type HTTPActuator struct {
	URL    string
	Client *http.Client
}

func (a *HTTPActuator) Execute(ctx context.Context) error {
	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.URL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("rollback webhook %s: %w", a.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("rollback webhook %s: status %d", a.URL, resp.StatusCode)
	}
	return nil
}
