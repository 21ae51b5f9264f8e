// Package net implements the transports used by notarium nodes to talk to
// each other.
//
// A Transport carries two RPCs: SendSession, which delivers batches of flow
// session messages, and Notarise, which sends a notarisation request to a
// notary and waits for its signatures. Incoming RPCs are handed to the node
// through the Consumer channel and answered with RPC.Respond.
//
// There are two implementations:
//
// - Inmem: in-memory transport used for testing
//
// - TCP: communicating over plain TCP
//
// # TCP
//
// To use a TCP transport, set the following configuration options in the
// notarium Config object (cf config package):
//
// - BindAddr: the IP:PORT of the TCP socket that notarium binds to.
//
// - AdvertiseAddr: (optional) The address that is advertised to other nodes.
// If BindAddr is a local address not reachable by other nodes, it is useful to
// set AdvertiseAddr to the reachable public address.
//
// Every request is framed by a byte indicating the RPC type followed by the
// JSON encoded request. The response is an error string followed by the JSON
// encoded response object.
package net
