// Package identity holds the parties of a notarium network and the network
// map that locates them.
//
// A Party is a legal identity: a unique name plus an owning key. The owning
// key of an ordinary party is its public key in hex form; the owning key of a
// clustered notary is an encoded keys.CompositeKey over the replica keys.
//
// A NodeInfo adds the network address of the node hosting a party and, for
// notaries, the kind of notary service it offers. The Directory indexes
// NodeInfos by name and key, and answers the notary directory questions of the
// notarisation protocol. The Directory is usually loaded from a parties.json
// file in the data directory:
//
//	[
//		{
//			"Name": "Alice",
//			"NetAddr": "alice.notarium.io:1337",
//			"PubKeyHex": "0X04362B55F..."
//		},
//		{
//			"Name": "Notary",
//			"NetAddr": "notary.notarium.io:1337",
//			"PubKeyHex": "0X04F8C1E5A...",
//			"Notary": "validating"
//		}
//	]
package identity
