// Package actions runs actions declared by prototypes.
//
// A launch re-checks availability, applies the requested mapping change when the
// action declares hc_acl rules, validates the launch config, records a task with its
// ordered jobs and locks the target. The task is then handed to an external runner
// that reports job and task statuses back through Report. Reports are serialized per
// task; reports for unknown or finished tasks are dropped.
//
// When a task ends, the state and multi-state effects of the outcome are applied to
// the target, the lock is removed and, on failure, the mapping recorded before the
// launch is restored.
//
// Actions with script_type task_generator compute their jobs at launch time with a
// Starlark script.
package actions
