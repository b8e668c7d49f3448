// Package memgpt is the HTTP client for the remote MemGPT agent service.
//
// Every request goes through Client.Call, which applies a single RetryPolicy:
// a bounded number of attempts separated by a fixed delay, with a classifier
// deciding which failures are transient. Network-level errors and responses
// that signal a not-yet-propagated resource ("agent_id does not exist") are
// retried; every other non-2xx response is returned at once as *StatusError.
//
// The typed operations (ListSources, CreateSource, AttachSource, CreateAgent,
// SendMessage, DeleteAgent, ListAgents, Health) are thin wrappers over Call
// that encode the service's wire contract. The client is safe for concurrent
// use and keeps no state beyond its configuration.
package memgpt
