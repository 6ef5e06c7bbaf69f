// Package types defines the data structures shared across the broker:
// task ids, the unassigned/assigned task records, submission and report
// payloads, agents, and client API keys. Everything here is serializable and
// carries no behavior beyond small predicates (IsOnline, IsTerminal,
// HasCapability) that every layer needs to agree on.
package types
