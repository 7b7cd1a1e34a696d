//go:build unix

package scheduler

import (
	"fmt"
	"os/exec"
	"os/user"
	"strconv"
	"syscall"

	"github.com/purpose168/xyops/internal/core"
)

type credential struct {
	uid uint32
	gid uint32
}

// resolveRunAs resolves the plugin's optional run-as user/group to numeric
// ids and fills in the user's environment. A plugin with no run-as
// settings (or an explicit uid 0) runs as the daemon's own identity.
func resolveRunAs(plugin *core.Plugin, env map[string]string) (*credential, error) {
	if (plugin.UID == "" || plugin.UID == "0") && (plugin.GID == "" || plugin.GID == "0") {
		return nil, nil
	}

	cred := &credential{}

	if plugin.UID != "" && plugin.UID != "0" {
		u, err := user.Lookup(plugin.UID)
		if err != nil {
			u, err = user.LookupId(plugin.UID)
		}
		if err != nil {
			return nil, fmt.Errorf("could not determine user information for %q: %w", plugin.UID, err)
		}
		uid, err := strconv.ParseUint(u.Uid, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("non-numeric uid for %q: %w", plugin.UID, err)
		}
		gid, err := strconv.ParseUint(u.Gid, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("non-numeric gid for %q: %w", plugin.UID, err)
		}
		cred.uid = uint32(uid)
		cred.gid = uint32(gid)
		env["USER"] = u.Username
		env["USERNAME"] = u.Username
		env["HOME"] = u.HomeDir
	}

	if plugin.GID != "" && plugin.GID != "0" {
		g, err := user.LookupGroup(plugin.GID)
		if err != nil {
			g, err = user.LookupGroupId(plugin.GID)
		}
		if err != nil {
			return nil, fmt.Errorf("could not determine group information for %q: %w", plugin.GID, err)
		}
		gid, err := strconv.ParseUint(g.Gid, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("non-numeric gid for %q: %w", plugin.GID, err)
		}
		cred.gid = uint32(gid)
	}

	return cred, nil
}

func applyCredential(cmd *exec.Cmd, cred *credential) {
	if cred == nil {
		return
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Credential: &syscall.Credential{Uid: cred.uid, Gid: cred.gid},
	}
}
