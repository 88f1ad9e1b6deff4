// Package audit records every mutation attempt and every login in the
// audit_operation, audit_login and audit_object tables.
//
// Records are append-only. An operation references an audit_object row keyed by
// (object_type, object_id) that holds the object name at record time. A
// successful delete freezes that row with is_deleted set, so a later object
// with the same id or name gets a fresh row and history keeps the old name.
//
// Each operation is also written as a CEF line to an optional side channel, in
// the order records are committed:
//
//	CEF:0|Arenadata Software|Arenadata Cluster Manager|<version>|<signature>|<operation>|<severity>|actor=... act=... operation=... resource=... result=... timestamp=...
package audit
