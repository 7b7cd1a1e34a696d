//go:build !unix

package scheduler

import (
	"errors"
	"os/exec"

	"github.com/purpose168/xyops/internal/core"
)

type credential struct{}

func resolveRunAs(plugin *core.Plugin, env map[string]string) (*credential, error) {
	if (plugin.UID == "" || plugin.UID == "0") && (plugin.GID == "" || plugin.GID == "0") {
		return nil, nil
	}
	return nil, errors.New("run-as is not supported on this platform")
}

func applyCredential(cmd *exec.Cmd, cred *credential) {}
