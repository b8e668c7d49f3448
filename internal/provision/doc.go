// Package provision creates and tears down the remote agent bound to a user.
//
// Sources handles the knowledge-source protocol: ResolveOrCreate is
// idempotent under concurrent creation, and Attach reports success as a bool
// so the caller can aggregate an Outcome across all configured sources.
//
// Provisioner runs the full registration sequence: render the default
// profile, create the agent, record the agent id in the directory, wait for
// the agent to settle and attach each source.
package provision
