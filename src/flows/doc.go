// Package flows contains the built-in flows of a node.
//
// FinalityFlow records a transaction as in flight, gets it notarised when it
// consumes or references states or has a time window, finalises it with a
// sender distribution list and sends it to the peers. Every peer runs
// ReceiveFinalityFlow, which checks the signatures and finalises the
// transaction with the sealed list it received.
//
// Notarisation runs as the asynchronous operation registered under
// NotariseOperationName, outside of the flow fibers.
package flows
