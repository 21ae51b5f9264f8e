// Package keys implements the public key cryptography used throughout notarium.
//
// Every party, and every replica of a notary cluster, owns a cryptographic
// key-pair. The private key signs transactions and notarisation requests; the
// public key, in its uncompressed hex form, is the party's owning key on the
// network map.
//
// notarium uses elliptic curve cryptography (ECDSA) with the secp256k1 curve.
//
// A notary cluster is identified by a CompositeKey: a threshold over weighted
// member keys. A set of signers fulfils a composite key when the weights of
// the satisfied children reach the threshold.
package keys
