// Package identity defines the identifiers of RCE nodes.
//
// An instance is one installation of the platform. Every time an instance is
// started it gets a fresh session, so that other nodes can tell a restarted
// instance apart from a stale view of its previous run. The
// InstanceNodeSessionID is therefore the unit of addressing in the network:
// channels, properties and routes all refer to sessions.
//
// The string forms are:
//
//   InstanceNodeID         <32 hex chars>
//   InstanceNodeSessionID  <instance>::<10 hex chars>
//   LogicalNodeID          <instance>:<logical part>
//
// Identifiers are small comparable values. Human readable names are not part
// of the identifiers; they are kept in a NameRegistry and only consulted when
// an identifier is rendered with String.
package identity
