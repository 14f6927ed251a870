// Package config defines the configuration for a tanglesync node.
//
// Regardless of how the node is started, directly from Go code or as a
// standalone process from the command line, it uses the Config object defined
// in this package to store and forward configuration options. On top of these
// configuration options, the node relies on a data directory, defined by
// Config.DataDir, where it may find a few additional files:
//
//  peers.json // (optional) a JSON array of addresses to connect to on startup.
//  tanglesync.toml // (optional) configuration overrides, cf. cmd/tanglesync.
//  badger_db // the database, when Store is set.
package config
