// Package shadowstore persists shadow logs to an embedded SQLite database
// and serves filtered queries over them.
package shadowstore

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/mattn/go-sqlite3"

	"github.com/shadow-hq/shadow-geth/internal/shadowlog"
)

const schema = `
CREATE TABLE IF NOT EXISTS shadow_logs(
	block_number          INTEGER NOT NULL,
	block_hash            BLOB    NOT NULL,
	block_timestamp       INTEGER NOT NULL,
	transaction_index     INTEGER NOT NULL,
	transaction_hash      BLOB    NOT NULL,
	block_log_index       INTEGER NOT NULL,
	transaction_log_index INTEGER NOT NULL,
	address               BLOB    NOT NULL,
	data                  BLOB,
	topic_0               BLOB,
	topic_1               BLOB,
	topic_2               BLOB,
	topic_3               BLOB,
	removed               BOOLEAN NOT NULL DEFAULT 0,
	created_at            DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at            DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

var indices = []string{
	"CREATE INDEX IF NOT EXISTS idx_shadow_logs_address ON shadow_logs (address)",
	"CREATE INDEX IF NOT EXISTS idx_shadow_logs_block_number ON shadow_logs (block_number)",
	"CREATE INDEX IF NOT EXISTS idx_shadow_logs_block_hash ON shadow_logs (block_hash)",
	"CREATE INDEX IF NOT EXISTS idx_shadow_logs_topic_0 ON shadow_logs (topic_0)",
	"CREATE INDEX IF NOT EXISTS idx_shadow_logs_topic_1 ON shadow_logs (topic_1)",
	"CREATE INDEX IF NOT EXISTS idx_shadow_logs_topic_2 ON shadow_logs (topic_2)",
	"CREATE INDEX IF NOT EXISTS idx_shadow_logs_topic_3 ON shadow_logs (topic_3)",
	"CREATE INDEX IF NOT EXISTS idx_shadow_logs_transaction_hash ON shadow_logs (transaction_hash)",
	"CREATE INDEX IF NOT EXISTS idx_shadow_logs_removed ON shadow_logs (removed)",
}

const columnList = `address,
	block_hash,
	block_log_index,
	block_number,
	block_timestamp,
	data,
	removed,
	topic_0,
	topic_1,
	topic_2,
	topic_3,
	transaction_hash,
	transaction_index,
	transaction_log_index`

const selectColumns = "\n\t" + columnList + "\nFROM shadow_logs"

// Store is the embedded shadow log database. A Store is safe for concurrent
// use by multiple goroutines - it delegates all locking to database/sql.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("shadowstore: open %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("shadowstore: create schema: %w", err)
	}
	for _, stmt := range indices {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("shadowstore: create index: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// BulkInsert persists logs in a single multi-row INSERT. An empty slice is
// a no-op. Values are string-interpolated rather than bound as parameters:
// shadow logs originate only from this process's own re-execution of
// already-canonical blocks, never from untrusted external input, so the
// SQL-injection risk a parameterized statement guards against does not
// apply here.
func (s *Store) BulkInsert(logs []shadowlog.Log) error {
	if len(logs) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("INSERT INTO shadow_logs (")
	b.WriteString(columnList)
	b.WriteString(") VALUES ")

	for i, l := range logs {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "(%s, X'%x', %d, %d, %d, %s, %t, %s, %s, %s, %s, X'%x', %d, %d)",
			blobLiteral(l.Address.Bytes()),
			l.BlockHash.Bytes(),
			l.BlockLogIndex,
			l.BlockNumber,
			l.BlockTimestamp,
			nullableBlob(l.Data),
			l.Removed,
			nullableTopic(l.Topic(0)),
			nullableTopic(l.Topic(1)),
			nullableTopic(l.Topic(2)),
			nullableTopic(l.Topic(3)),
			l.TransactionHash.Bytes(),
			l.TransactionIndex,
			l.TransactionLogIndex,
		)
	}

	if _, err := s.db.Exec(b.String()); err != nil {
		return fmt.Errorf("shadowstore: bulk insert: %w", err)
	}
	return nil
}

// MarkRemoved flags every log from blockHash as removed. Calling it again
// for the same block hash is a no-op: rows already marked removed are not
// matched a second time.
func (s *Store) MarkRemoved(blockHash common.Hash) error {
	stmt := fmt.Sprintf(
		"UPDATE shadow_logs SET removed = 1, updated_at = CURRENT_TIMESTAMP WHERE block_hash = X'%x' AND removed = 0",
		blockHash.Bytes(),
	)
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("shadowstore: mark removed: %w", err)
	}
	return nil
}

// Query runs a SELECT over the shadow_logs table restricted by whereClause
// (a full "WHERE ..." clause, or the empty string for no restriction) and
// decodes the matching rows.
func (s *Store) Query(whereClause string) ([]shadowlog.Log, error) {
	stmt := "SELECT" + selectColumns
	if whereClause != "" {
		stmt += " " + whereClause
	}

	rows, err := s.db.Query(stmt)
	if err != nil {
		return nil, fmt.Errorf("shadowstore: query: %w", err)
	}
	defer rows.Close()

	var out []shadowlog.Log
	for rows.Next() {
		var (
			address, blockHash, txHash                    []byte
			data, topic0, topic1, topic2, topic3           []byte
			blockLogIndex, blockNumber, blockTimestamp     uint64
			txIndex, txLogIndex                            uint64
			removed                                        bool
		)
		if err := rows.Scan(
			&address, &blockHash, &blockLogIndex, &blockNumber, &blockTimestamp,
			&data, &removed, &topic0, &topic1, &topic2, &topic3,
			&txHash, &txIndex, &txLogIndex,
		); err != nil {
			return nil, fmt.Errorf("shadowstore: scan row: %w", err)
		}

		l := shadowlog.Log{
			Address:             common.BytesToAddress(address),
			BlockHash:           common.BytesToHash(blockHash),
			BlockLogIndex:       blockLogIndex,
			BlockNumber:         blockNumber,
			BlockTimestamp:      blockTimestamp,
			Data:                data,
			Removed:             removed,
			TransactionHash:     common.BytesToHash(txHash),
			TransactionIndex:    txIndex,
			TransactionLogIndex: txLogIndex,
		}
		for _, t := range [][]byte{topic0, topic1, topic2, topic3} {
			if t == nil {
				break
			}
			l.Topics = append(l.Topics, common.BytesToHash(t))
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("shadowstore: iterate rows: %w", err)
	}

	return out, nil
}

func blobLiteral(b []byte) string {
	return fmt.Sprintf("X'%x'", b)
}

func nullableBlob(b []byte) string {
	if b == nil {
		return "null"
	}
	return blobLiteral(b)
}

func nullableTopic(h *common.Hash) string {
	if h == nil {
		return "null"
	}
	return blobLiteral(h.Bytes())
}
