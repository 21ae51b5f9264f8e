package ledger

import (
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/mosaicnetworks/notarium/src/common"
	"github.com/mosaicnetworks/notarium/src/crypto"

	// registers the sqlite3 driver
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

var sqlitePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = FULL",
	"PRAGMA busy_timeout = 5000",
}

// SQLiteLedger persists transactions and distribution records in a SQLite
// database in WAL mode. Writes go through a single connection.
type SQLiteLedger struct {
	*recoveryLedger

	db   *sql.DB
	path string
}

// NewSQLiteLedger opens, or creates, the database file at path.
func NewSQLiteLedger(path string, conf Config) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range sqlitePragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("executing %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	l := &SQLiteLedger{
		db:   db,
		path: path,
	}
	l.recoveryLedger = newRecoveryLedger(l, conf)

	return l, nil
}

// StorePath returns the database file.
func (l *SQLiteLedger) StorePath() string {
	return l.path
}

func (l *SQLiteLedger) update(id crypto.SecureHash, fn func(cur *txRecord) (*txRecord, []DistributionRecord, error)) (err error) {
	tx, err := l.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	txID := id.String()

	var cur *txRecord
	var (
		status int
		data   []byte
	)
	switch err = tx.QueryRow(`SELECT status, data FROM transactions WHERE tx_id = ?`, txID).Scan(&status, &data); err {
	case nil:
		cur = &txRecord{ID: id, Status: TransactionStatus(status), Data: data}
	case sql.ErrNoRows:
	default:
		return err
	}

	next, records, err := fn(cur)
	if err != nil {
		return err
	}
	if next == nil {
		return tx.Rollback()
	}

	_, err = tx.Exec(`INSERT INTO transactions (tx_id, status, data) VALUES (?, ?, ?)
		ON CONFLICT (tx_id) DO UPDATE SET status = excluded.status, data = excluded.data`,
		txID, int(next.Status), next.Data)
	if err != nil {
		return err
	}

	for _, r := range records {
		switch rec := r.(type) {
		case *SenderDistributionRecord:
			_, err = tx.Exec(`INSERT OR REPLACE INTO sender_distribution_records
				(timestamp, timestamp_discriminator, tx_id, peer_party_id, sender_states_to_record, receiver_states_to_record)
				VALUES (?, ?, ?, ?, ?, ?)`,
				rec.Timestamp.UnixNano(), rec.TimestampDiscriminator, txID, rec.PeerPartyID.String(),
				int(rec.SenderStatesToRecord), int(rec.ReceiverStatesToRecord))
		case *ReceiverDistributionRecord:
			_, err = tx.Exec(`INSERT OR REPLACE INTO receiver_distribution_records
				(timestamp, timestamp_discriminator, tx_id, peer_party_id, encrypted_distribution_list, receiver_states_to_record)
				VALUES (?, ?, ?, ?, ?, ?)`,
				rec.Timestamp.UnixNano(), rec.TimestampDiscriminator, txID, rec.PeerPartyID.String(),
				rec.EncryptedDistributionList, int(rec.ReceiverStatesToRecord))
		}
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (l *SQLiteLedger) get(id crypto.SecureHash) (*txRecord, error) {
	var (
		status int
		data   []byte
	)
	err := l.db.QueryRow(`SELECT status, data FROM transactions WHERE tx_id = ?`, id.String()).Scan(&status, &data)
	if err == sql.ErrNoRows {
		return nil, common.NewStoreErr("Transaction", common.KeyNotFound, id.String())
	}
	if err != nil {
		return nil, err
	}
	return &txRecord{ID: id, Status: TransactionStatus(status), Data: data}, nil
}

func (l *SQLiteLedger) remove(id crypto.SecureHash) (removed bool, err error) {
	tx, err := l.db.Begin()
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	txID := id.String()

	if _, err = tx.Exec(`DELETE FROM transactions WHERE tx_id = ? AND status = ?`, txID, int(InFlight)); err != nil {
		return false, err
	}

	for _, table := range []string{"sender_distribution_records", "receiver_distribution_records"} {
		res, err := tx.Exec(`DELETE FROM `+table+` WHERE tx_id = ?`, txID)
		if err != nil {
			return false, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, err
		}
		if n > 0 {
			removed = true
		}
	}

	return removed, tx.Commit()
}

// recordQuery builds the WHERE clause of a record query.
func recordQuery(f recordFilter) (string, []interface{}) {
	clauses := []string{"timestamp BETWEEN ? AND ?"}
	args := []interface{}{f.window.From.UnixNano(), f.window.Until.UnixNano()}

	if len(f.parties) > 0 {
		marks := make([]string, 0, len(f.parties))
		for p := range f.parties {
			marks = append(marks, "?")
			args = append(args, p.String())
		}
		clauses = append(clauses, "peer_party_id IN ("+strings.Join(marks, ", ")+")")
	}

	if len(f.excluding) > 0 {
		marks := make([]string, 0, len(f.excluding))
		for id := range f.excluding {
			marks = append(marks, "?")
			args = append(args, id.String())
		}
		clauses = append(clauses, "tx_id NOT IN ("+strings.Join(marks, ", ")+")")
	}

	where := " WHERE " + strings.Join(clauses, " AND ") +
		" ORDER BY timestamp, timestamp_discriminator, tx_id, peer_party_id"
	return where, args
}

func parseIDs(txID, partyID string) (crypto.SecureHash, crypto.SecureHash, error) {
	tx, err := crypto.ParseSecureHash(txID)
	if err != nil {
		return tx, crypto.SecureHash{}, err
	}
	party, err := crypto.ParseSecureHash(partyID)
	return tx, party, err
}

func (l *SQLiteLedger) senderRecords(f recordFilter) ([]*SenderDistributionRecord, error) {
	where, args := recordQuery(f)
	rows, err := l.db.Query(`SELECT timestamp, timestamp_discriminator, tx_id, peer_party_id,
		sender_states_to_record, receiver_states_to_record
		FROM sender_distribution_records`+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []*SenderDistributionRecord{}
	for rows.Next() {
		var (
			ts                           int64
			disc                         uint32
			txID, partyID                string
			senderStates, receiverStates int
		)
		if err := rows.Scan(&ts, &disc, &txID, &partyID, &senderStates, &receiverStates); err != nil {
			return nil, err
		}
		tx, party, err := parseIDs(txID, partyID)
		if err != nil {
			return nil, common.NewStoreErr("SenderDistributionRecord", common.Corrupted, txID)
		}
		res = append(res, &SenderDistributionRecord{
			TxID:                   tx,
			PeerPartyID:            party,
			Timestamp:              time.Unix(0, ts).UTC(),
			TimestampDiscriminator: disc,
			SenderStatesToRecord:   StatesToRecord(senderStates),
			ReceiverStatesToRecord: StatesToRecord(receiverStates),
		})
	}
	return res, rows.Err()
}

func (l *SQLiteLedger) receiverRecords(f recordFilter) ([]*ReceiverDistributionRecord, error) {
	where, args := recordQuery(f)
	rows, err := l.db.Query(`SELECT timestamp, timestamp_discriminator, tx_id, peer_party_id,
		encrypted_distribution_list, receiver_states_to_record
		FROM receiver_distribution_records`+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []*ReceiverDistributionRecord{}
	for rows.Next() {
		var (
			ts             int64
			disc           uint32
			txID, partyID  string
			list           []byte
			receiverStates int
		)
		if err := rows.Scan(&ts, &disc, &txID, &partyID, &list, &receiverStates); err != nil {
			return nil, err
		}
		tx, party, err := parseIDs(txID, partyID)
		if err != nil {
			return nil, common.NewStoreErr("ReceiverDistributionRecord", common.Corrupted, txID)
		}
		res = append(res, &ReceiverDistributionRecord{
			TxID:                      tx,
			PeerPartyID:               party,
			Timestamp:                 time.Unix(0, ts).UTC(),
			TimestampDiscriminator:    disc,
			EncryptedDistributionList: list,
			ReceiverStatesToRecord:    StatesToRecord(receiverStates),
		})
	}
	return res, rows.Err()
}

func (l *SQLiteLedger) transactions(status TransactionStatus) ([]*txRecord, error) {
	rows, err := l.db.Query(`SELECT tx_id, data FROM transactions WHERE status = ? ORDER BY tx_id`, int(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []*txRecord{}
	for rows.Next() {
		var (
			txID string
			data []byte
		)
		if err := rows.Scan(&txID, &data); err != nil {
			return nil, err
		}
		id, err := crypto.ParseSecureHash(txID)
		if err != nil {
			return nil, common.NewStoreErr("Transaction", common.Corrupted, txID)
		}
		res = append(res, &txRecord{ID: id, Status: status, Data: data})
	}
	return res, rows.Err()
}

func (l *SQLiteLedger) close() error {
	return l.db.Close()
}
