// Package tangle stores the ledger messages a node has received and tracks
// the milestones among them.
//
// Messages reference between one and eight parents by their MessageID, the
// BLAKE2b-256 digest of the packed message. A message carrying a milestone
// payload marks a checkpoint of the ledger, numbered by its MilestoneIndex.
//
// Insert accepts a message even when some of its parents are unknown and
// reports those parents so the caller can fetch them. The solid milestone
// index advances as soon as the next milestone and its direct parents are all
// present. Full solidification of the past cone, ledger state and milestone
// signatures are handled elsewhere.
//
// Messages are persisted through a Storage, either in memory (InmemStorage)
// or in a Badger database (BadgerStorage).
package tangle
