package lifecycle

import (
	"errors"
	"fmt"

	"github.com/platinummonkey/modhost/pkg/registry"
)

// Command is an operator request against a module
type Command string

const (
	CommandInstall   Command = "install"
	CommandEnable    Command = "enable"
	CommandDisable   Command = "disable"
	CommandUpdate    Command = "update"
	CommandUninstall Command = "uninstall"
)

// ParseCommand maps a command name to a Command
func ParseCommand(s string) (Command, error) {
	switch c := Command(s); c {
	case CommandInstall, CommandEnable, CommandDisable, CommandUpdate, CommandUninstall:
		return c, nil
	}
	return "", fmt.Errorf("unknown command %q", s)
}

// Transition describes how a command moves a module. An empty Target means
// the command returns to the state it started from (update) or removes the
// record (uninstall).
type Transition struct {
	From       []registry.Status
	InProgress registry.Status
	Target     registry.Status
}

// Transitions is the complete lifecycle state machine
var Transitions = map[Command]Transition{
	CommandInstall: {
		From:       []registry.Status{registry.StatusRegistered, registry.StatusError},
		InProgress: registry.StatusInstalling,
		Target:     registry.StatusInstalled,
	},
	CommandEnable: {
		From:       []registry.Status{registry.StatusInstalled, registry.StatusDisabled, registry.StatusError},
		InProgress: registry.StatusEnabling,
		Target:     registry.StatusEnabled,
	},
	CommandDisable: {
		From:       []registry.Status{registry.StatusEnabled},
		InProgress: registry.StatusDisabling,
		Target:     registry.StatusDisabled,
	},
	CommandUpdate: {
		From:       []registry.Status{registry.StatusRegistered, registry.StatusInstalled, registry.StatusDisabled, registry.StatusEnabled},
		InProgress: registry.StatusUpdating,
	},
	CommandUninstall: {
		From:       []registry.Status{registry.StatusDisabled, registry.StatusRegistered, registry.StatusError},
		InProgress: registry.StatusRemoving,
	},
}

// Allowed reports whether cmd may start from status
func Allowed(cmd Command, status registry.Status) bool {
	t, ok := Transitions[cmd]
	if !ok {
		return false
	}
	for _, from := range t.From {
		if from == status {
			return true
		}
	}
	return false
}

var (
	// ErrInvalidTransition is returned when a command is not allowed from the current status
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	// ErrNameMismatch is returned when an update manifest names a different module
	ErrNameMismatch = errors.New("manifest name does not match module")
	// ErrInvalidInstallDir is returned for a missing or relative install directory
	ErrInvalidInstallDir = errors.New("invalid install directory")
)

// LifecycleError reports a transition that failed after it started. The
// module has been parked in ERROR with the message retained.
type LifecycleError struct {
	Module  string
	Command Command
	Err     error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Command, e.Module, e.Err)
}

func (e *LifecycleError) Unwrap() error {
	return e.Err
}
