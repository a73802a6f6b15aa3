// Package entity is a runtime for mutable domain objects organized into
// tree-shaped aggregates. Every entity tracks three orthogonal facts about
// itself and its subtree: whether it is valid, whether it is modified, and
// whether asynchronous work is still running on it. A rule engine recomputes
// validity and side effects whenever a property changes, synchronously or in
// the background, and aggregate membership is enforced structurally through
// Parent/Root navigation, deferred deletion lists, and intra-aggregate moves.
//
// Consumers embed Base in their own structs, declare properties with Define,
// register rules, and write through Assign. Collections own ordered child
// entities and cache their aggregate state incrementally. Trusted persistence
// callers obtain a LoadContext, which is the only door to the load path,
// bulk-load mode, and persistence confirmation.
//
// All public operations are safe for concurrent use. One lock guards each
// aggregate graph; adopting a subtree merges its lock into the adopter's.
// Rule bodies and change listeners always run outside that lock.
package entity
