// Package rce assembles a node from its configuration.
//
// The data directory of a node contains:
//
//  identity_db/  the badger database holding the instance id of the node
//  peers.json    the neighbours to connect to
//  cert.pem      an optional certificate of the message broker
//  rce.toml      the configuration read by the command line, if any
//
// The instance id is created on first start and kept, while every run of the
// node gets a new session id.
package rce
