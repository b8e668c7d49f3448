// Package memgpttest provides an in-memory fake of the agent service for tests.
package memgpttest
