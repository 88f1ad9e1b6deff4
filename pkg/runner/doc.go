// Package runner connects the action runtime to an external process supervisor
// through a spool directory.
//
// The spool is shared with the supervisor, either as a local directory or over
// SFTP. For every task the core writes:
//
//	<root>/<task id>/jobs/<job id>.json   one descriptor per job
//	<root>/<task id>/task.json            the task spec, written last
//	<root>/<task id>/terminate            termination request marker
//
// The supervisor answers with event files under <root>/<task id>/events/. The
// Collector applies them in file name order: status callbacks, job logs and the
// job plugin operations (state, multi-state and config updates). Applied event
// files are removed.
package runner
