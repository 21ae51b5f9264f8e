// Package notarium implements the engine that runs a notarium node.
//
// The engine reads the private key and the network map (parties.json) from
// the data directory, opens the ledger and the checkpoint store (in memory, or
// badger/sqlite when Store is set), binds the TCP transport, starts a notary
// service if the node is a notary, and runs the node and its HTTP API.
package notarium
