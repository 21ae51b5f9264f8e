// Package ledger stores signed transactions and the distribution records
// used to recover them.
//
// Every transaction has a status: InFlight while it waits for notarisation,
// Unverified when it was received but not checked, and Verified once it is
// final. Only verified transactions are returned by GetTransaction and
// streamed by Track.
//
// Distribution records say who was told about which transaction. The
// initiator of a transaction keeps one SenderDistributionRecord per peer.
// Each receiver keeps a single ReceiverDistributionRecord for the initiator,
// together with the sender's distribution list sealed with a key only the
// sender holds. A receiver therefore never learns who else received the
// transaction, but can hand the sealed list back to the sender when the
// sender recovers from data loss.
//
// Records are keyed by (timestamp, discriminator, transaction, party) and can
// be queried by time window with QueryDistributionRecords. They are never
// updated: every send of a transaction appends new records, which supersede
// the earlier ones.
//
// There are three implementations of Ledger sharing the same logic:
// InmemLedger, BadgerLedger and SQLiteLedger.
package ledger
