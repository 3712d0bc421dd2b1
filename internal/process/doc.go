// Package process launches bridge worker subprocesses and turns their
// standard streams into an ordered event feed.
//
// A Process is one run of a worker binary. It owns the OS process, its stdin
// pipe and the goroutines reading stdout and stderr. Restarting is not done
// here: the bridge supervisor decides when to spawn the next Process.
//
// Features:
//   - Spawn with its own process group so shutdown reaches grandchildren
//   - Line-oriented stdout/stderr capture delivered as Events
//   - A single Terminated event carrying the exit code, then channel close
//   - Graceful stop: SIGTERM to the group, SIGKILL after a timeout
//   - Binary resolution from a naming convention (<prefix>-<service>)
//
// Example usage:
//
//	launcher := process.NewLauncher(process.LauncherConfig{
//	    Prefix: "switchboard",
//	    Dir:    "/usr/lib/switchboard/bridges",
//	})
//
//	proc, err := launcher.Launch(ctx, "telegram")
//	if err != nil {
//	    return err
//	}
//	for ev := range proc.Events() {
//	    // handle ev.Kind / ev.Line / ev.Code
//	}
package process
