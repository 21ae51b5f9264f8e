// Package transaction implements the wire representation of ledger
// transactions.
//
// A WireTransaction is a list of component groups (inputs, outputs, commands,
// attachments, notary, time-window, signers, reference inputs and the network
// parameters hash). Every component is serialized once with a canonical JSON
// encoding and hashed into a Merkle leaf. The leaves of a group form a Merkle
// tree whose root is the group root, and the transaction id is the root of the
// tree built over the group roots.
//
// Because every component is its own leaf, parts of a transaction can be
// revealed without the rest. A FilteredTransaction carries the components
// selected by a predicate, a partial Merkle tree per group proving that those
// components belong to their group, and the group roots needed to recompute
// the transaction id. Non-validating notaries are sent FilteredTransactions
// built with NonValidatingNotaryPredicate.
package transaction
