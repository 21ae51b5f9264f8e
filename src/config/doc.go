// Package config defines the configuration for a notarium node.
//
// Whether notarium is started from Go code or as a standalone process, it uses
// the Config object defined in this package to store and forward configuration
// options. On top of these options, notarium relies on a data directory,
// defined by Config.DataDir, where it expects to find a few additional files:
//
//	priv_key      // the node's private key (cf. notarium keygen).
//	parties.json  // the network map: name, address and key of every node.
//	notarium.toml // (optional) configuration options, overridden by flags.
package config
