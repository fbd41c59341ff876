// Package refstore is a reference remote store backed by SQLite.
//
// It answers remote.Request values with the conflict semantics every remote
// is expected to honour, so the sync engine and the CLI can be exercised
// against real conflict behaviour without a network service.
//
// Policy rules:
//
//	TIMESTAMP    write only if created_at is strictly after last_modified
//	SERVER_WINS  write only if client_version equals the stored version;
//	             CREATE on an existing record always conflicts
//	CLIENT_WINS  overwrite unconditionally
//	FORCE_DELETE DELETE always succeeds, as delete_noop when nothing exists;
//	             other kinds follow TIMESTAMP
//
// Every accepted write bumps version.
package refstore
