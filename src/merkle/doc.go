// Package merkle builds binary SHA-256 hash trees over ordered leaf hashes and
// partial trees that prove the inclusion of a subset of leaves against a known
// root.
//
// Leaf lists are padded up front to the next power of two with
// crypto.ZeroHash, then hashed pairwise bottom-up. For leaves [a, b, c] the
// root is h(h(a, b), h(c, 0)).
//
// A PartialTree is encoded as a pre-order list of node kinds plus the hashes of
// included leaves and pruned subtrees, in the same order. Verification never
// panics or errors on malformed input; it returns false.
package merkle
