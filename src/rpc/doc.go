// Package rpc invokes methods of services living on other nodes.
//
// Services are exposed as explicit method tables: a name per method and a
// function taking the decoded arguments. Arguments and results travel as
// payloads of a protocol.Schema, so only registered kinds can cross the
// network.
//
// The CallbackService keeps objects of the local node that remote nodes may
// call back, such as progress listeners passed as arguments. Bindings are
// reference counted: every AddCallbackObject must be matched by a Release,
// and a TTL tears down the bindings whose holders disappeared.
package rpc
