// Package process launches and supervises the child processes that host MCP
// servers.
//
// A Supervisor spawns children from a Spec, tracks them until they exit, and
// terminates whatever is left on Shutdown:
//
//	sup := process.NewSupervisor(process.WithLogger(logger))
//	defer sup.Shutdown(5 * time.Second)
//
//	proc, err := sup.Spawn("alfresco", process.Spec{
//	    Command: "alfresco-mcp",
//	    Env:     map[string]string{"ALFRESCO_URL": "http://localhost:8080"},
//	})
//	if err != nil {
//	    var spawnErr *process.SpawnError
//	    ...
//	}
//
// The child's stdin, stdout and stderr are always piped. Stdout and stderr are
// plain OS pipes owned by the caller, so waiting on the child never closes a
// stream that a reader is still draining.
//
// # Termination
//
// Terminate performs the two-phase stop used everywhere in this module: close
// the child's stdin, wait up to a grace period for it to exit on its own, then
// kill it. The result is a Termination describing which of those happened.
package process
