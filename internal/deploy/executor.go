package deploy

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/relgate/relgate/pkg/log"
)

// Executor applies and reads back artifact versions on a deployment target.
type Executor interface {
	// Apply makes the artifact identified by digest the running version.
	Apply(ctx context.Context, digest string) error

	// Current returns the digest of the currently running artifact, or ""
	// when nothing has ever been deployed.
	Current(ctx context.Context) (string, error)
}

// RollbackTarget is the restore point for a deploy attempt: either a fresh
// deploy with nothing to roll back to, or a known previous digest. Modeling
// this as a tagged variant instead of a nullable field rules out rolling
// back to nothing.
type RollbackTarget struct {
	digest      string
	hasPrevious bool
}

// FreshDeploy is the rollback target of a first-ever deployment.
func FreshDeploy() RollbackTarget {
	return RollbackTarget{}
}

// HasPrevious is the rollback target when a previous version is running.
func HasPrevious(digest string) RollbackTarget {
	return RollbackTarget{digest: digest, hasPrevious: true}
}

// Previous returns the previous digest and whether one exists.
func (rt RollbackTarget) Previous() (string, bool) {
	return rt.digest, rt.hasPrevious
}

// CommandExecutorConfig configures a CommandExecutor.
type CommandExecutorConfig struct {
	// ApplyCommand is the argv run to switch the target to a digest.
	// Occurrences of {digest} in arguments are replaced; if no argument
	// contains the placeholder the digest is appended.
	ApplyCommand []string

	// CurrentCommand is the argv whose stdout is the running digest.
	CurrentCommand []string

	Timeout time.Duration
}

// CommandExecutor shells out to operator-provided commands to mutate the
// target host, e.g. an ssh wrapper that retags and restarts a container.
type CommandExecutor struct {
	cfg    CommandExecutorConfig
	logger *log.Logger
}

// NewCommandExecutor creates a command-backed executor.
func NewCommandExecutor(cfg CommandExecutorConfig, logger *log.Logger) (*CommandExecutor, error) {
	if len(cfg.ApplyCommand) == 0 {
		return nil, fmt.Errorf("deploy: apply command is required")
	}
	if len(cfg.CurrentCommand) == 0 {
		return nil, fmt.Errorf("deploy: current command is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &CommandExecutor{cfg: cfg, logger: logger}, nil
}

func (e *CommandExecutor) Apply(ctx context.Context, digest string) error {
	argv := make([]string, 0, len(e.cfg.ApplyCommand)+1)
	substituted := false
	for _, arg := range e.cfg.ApplyCommand {
		if strings.Contains(arg, "{digest}") {
			substituted = true
			arg = strings.ReplaceAll(arg, "{digest}", digest)
		}
		argv = append(argv, arg)
	}
	if !substituted {
		argv = append(argv, digest)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stderr = &stderr

	e.logger.Log.Infow("applying artifact to target",
		"digest", digest,
		"command", argv[0],
	)
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "deploy: apply %s: %s", digest, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (e *CommandExecutor) Current(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, e.cfg.CurrentCommand[0], e.cfg.CurrentCommand[1:]...).Output()
	if err != nil {
		return "", errors.Wrap(err, "deploy: read current version")
	}
	return strings.TrimSpace(string(out)), nil
}
