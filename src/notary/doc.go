// Package notary implements notarisation: the client protocol used by flows to
// get a transaction countersigned by its notary, and the notary service that
// answers those requests.
//
// The client first checks the transaction locally (Requesting), sends it with
// a signed NotarisationRequest, retrying with exponential backoff while the
// notary is unreachable, then checks the returned signatures against the
// notary's owning key (Validating). Validating notaries receive the full
// SignedTransaction; non-validating notaries only receive a FilteredTransaction
// revealing the states to consume, the reference states, the time window, the
// notary and the network parameters hash.
//
// Failures are reported as *NotaryError values carrying a Reason.
package notary
