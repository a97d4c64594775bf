package daemon

import (
	"os"
	"os/exec"
	"syscall"
)

// StartDaemon spawns the engine as a detached background process running the
// hidden "daemon" command of the current executable.
func StartDaemon(args ...string) (int, error) {
	executable, err := os.Executable()
	if err != nil {
		return 0, err
	}
	return StartDaemonWithPath(executable, args...)
}

// StartDaemonWithPath spawns binary as a detached daemon and returns its PID.
func StartDaemonWithPath(binary string, args ...string) (int, error) {
	cmd := daemonCommand(binary, args...)
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid

	// the daemon outlives us; don't keep a handle to it
	_ = cmd.Process.Release()
	return pid, nil
}

func daemonCommand(binary string, args ...string) *exec.Cmd {
	cmd := exec.Command(binary, append([]string{"daemon"}, args...)...)

	// Detach from parent process
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // Create new session (detach from terminal)
	}

	// No stdin/stdout/stderr - the daemon logs to its own file
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	return cmd
}
