// Package config defines the configuration of an RCE node.
//
// Regardless of how a node is started, directly from Go code or as a
// standalone process from the command line, it uses the Config object defined
// in this package to store and forward configuration options. On top of these
// options, a node relies on a data directory, defined by Config.DataDir, where
// it expects to find a few additional files:
//
//  rce.toml // (optional) configuration file, .json and .yaml also work.
//  peers.json // (optional) a JSON file listing the neighbours to connect to.
//  cert.pem // (optional) an x509 certificate of the message broker.
//  identity_db // badger database holding the instance id, when persisted.
package config
