// Package provision provisions OS user accounts for authenticated workspace users.
//
// [Provisioner.Ensure] is idempotent: it creates the account when missing,
// then makes sure the home directory, the credentials directory (~/.ssh) and
// the tool configuration directory (~/.claude) exist with owner-only
// permissions, seeds the tool configuration and optionally writes a Git
// identity derived from the OAuth claims.
//
// All OS mutation goes through the [Backend] interface. [OSBackend] is the
// production implementation built on useradd, os/user and the filesystem.
//
// # Failure classes
//
//   - [ErrProvisionFatal]: the account could not be created, or the
//     credentials directory could not be created, owned or locked down.
//   - [ErrProvisionDegraded]: any other step failed. These are logged and
//     provisioning continues.
//
// # Concurrency
//
// Concurrent Ensure calls for the same username share a single in-flight
// run (singleflight). Calls for different usernames run in parallel.
//
// # Log Prefixes
//
// All log lines use the [provision] prefix.
package provision
