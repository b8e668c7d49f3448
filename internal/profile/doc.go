// Package profile defines the agent creation profiles used at registration.
//
// A profile names the agent preset, the human and persona templates and the
// knowledge sources to attach. Profiles come from a TOML file (or the
// embedded default_profiles.toml) and are compiled into an immutable Catalog.
// Registry.Reload resolves source names to remote ids and swaps the catalog;
// Registry.Watch calls Reload when the file changes.
package profile
