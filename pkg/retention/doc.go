// Package retention deletes aged data on a periodic tick.
//
// Four targets are rotated independently, each by a number of days where zero
// disables the target:
//
//   - jobs_on_fs: run artifacts of tasks that finished before the cutoff or no
//     longer exist in the database.
//   - jobs_in_db: terminal tasks finished before the cutoff, with their jobs and
//     logs. Running tasks are never touched.
//   - config_in_db: config history entries older than the cutoff that are not
//     the current or previous config of their owner.
//   - audit: operations and logins older than the cutoff, and deleted audit
//     objects nothing references any more. With archiving on, the selection is
//     written to audit_<date>.tar.gz before deletion.
//
// Rotation never takes object locks; it only removes rows the live state does
// not point at.
package retention
