// Package isolation describes where a task runs: its working directory,
// version-control branch and state directory. A base Context is built once per
// batch and per-task contexts are derived from it so concurrently running
// tasks never share a workspace.
package isolation
