// Package node implements the reactive component of a notarium node.
//
// A Node owns the transport consumer loop. Every RPC it receives is handed to
// a worker pool and dispatched on its type: session requests go to the flow
// state machine manager, which routes the messages to running flows or starts
// the registered responders, and notarisation requests go to the notary
// service when the node hosts one.
//
// The node builds the flow manager with its transition pipeline (metrics,
// history, hospital and logging interceptors), the notary client used by the
// notarise operation and the built-in flows of the flows package. Flows are
// started with StartFlow, or with Finalise for the finality flow.
//
// # States
//
// A node is Initialising until Init has restored the checkpointed flows. It
// is then Running. A Suspended node refuses new flows and session requests,
// which its peers redeliver later, and its notary service answers
// Unavailable. Shutdown stops the flows where they are, leaving their
// checkpoints for the next start.
package node
