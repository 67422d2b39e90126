package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/mattn/go-sqlite3"

	"github.com/scripmint/scrip/mint/storage"
)

type SQLiteDB struct {
	db *sql.DB
}

func InitSQLite(path, migrationPath string) (*SQLiteDB, error) {
	dbpath := filepath.Join(path, "mint.sqlite.db")
	db, err := sql.Open("sqlite3", dbpath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	m, err := migrate.New(fmt.Sprintf("file://%s", migrationPath), fmt.Sprintf("sqlite3://%s", dbpath))
	if err != nil {
		return nil, err
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &SQLiteDB{db: db}, nil
}

func (sqlite *SQLiteDB) Close() error {
	return sqlite.db.Close()
}

func (sqlite *SQLiteDB) SaveKeyset(keyset storage.DBKeyset) error {
	_, err := sqlite.db.Exec(`
		INSERT INTO keysets (id, unit, active, derivation_path) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET active = excluded.active
	`, keyset.Id, keyset.Unit, keyset.Active, keyset.DerivationPath)

	return err
}

func (sqlite *SQLiteDB) GetKeysets() ([]storage.DBKeyset, error) {
	keysets := []storage.DBKeyset{}

	rows, err := sqlite.db.Query("SELECT id, unit, active, derivation_path FROM keysets")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var keyset storage.DBKeyset
		if err := rows.Scan(&keyset.Id, &keyset.Unit, &keyset.Active, &keyset.DerivationPath); err != nil {
			return nil, err
		}
		keysets = append(keysets, keyset)
	}

	return keysets, rows.Err()
}

func (sqlite *SQLiteDB) UpdateKeysetActive(keysetId string, active bool) error {
	result, err := sqlite.db.Exec("UPDATE keysets SET active = ? WHERE id = ?", active, keysetId)
	if err != nil {
		return err
	}
	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (sqlite *SQLiteDB) Begin(ctx context.Context) (storage.MintTx, error) {
	tx, err := sqlite.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx}, nil
}

type sqliteTx struct {
	tx   *sql.Tx
	done bool
}

func (stx *sqliteTx) Commit() error {
	stx.done = true
	return stx.tx.Commit()
}

func (stx *sqliteTx) Rollback() error {
	if stx.done {
		return nil
	}
	return stx.tx.Rollback()
}

func (stx *sqliteTx) GetProofsUsed(ys []string) ([]storage.DBProof, error) {
	proofs := []storage.DBProof{}
	if len(ys) == 0 {
		return proofs, nil
	}

	args := make([]any, len(ys))
	for i, y := range ys {
		args[i] = y
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ys)), ",")

	query := fmt.Sprintf(`SELECT y, amount, keyset_id, secret, c FROM used_proofs WHERE y IN (%s)`, placeholders)
	rows, err := stx.tx.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var proof storage.DBProof
		if err := rows.Scan(&proof.Y, &proof.Amount, &proof.Id, &proof.Secret, &proof.C); err != nil {
			return nil, err
		}
		proofs = append(proofs, proof)
	}

	return proofs, rows.Err()
}

func (stx *sqliteTx) AddProofsUsed(proofs []storage.DBProof) error {
	for _, proof := range proofs {
		_, err := stx.tx.Exec(`
			INSERT INTO used_proofs (y, amount, keyset_id, secret, c) VALUES (?, ?, ?, ?, ?)
		`, proof.Y, proof.Amount, proof.Id, proof.Secret, proof.C)
		if err != nil {
			if isUniqueViolation(err) {
				return storage.ErrDuplicateProof
			}
			return err
		}
	}
	return nil
}

func (stx *sqliteTx) AddMintQuote(quote storage.MintQuote) error {
	_, err := stx.tx.Exec(`
		INSERT INTO mint_quotes (id, amount, fee, unit, reference, state, expiry) VALUES (?, ?, ?, ?, ?, ?, ?)
	`, quote.Id, quote.Amount, quote.Fee, quote.Unit, quote.Reference, quote.State, quote.Expiry)
	if err != nil && isUniqueViolation(err) {
		return storage.ErrDuplicateQuote
	}
	return err
}

func (stx *sqliteTx) GetMintQuote(quoteId string) (storage.MintQuote, error) {
	var quote storage.MintQuote
	row := stx.tx.QueryRow(
		"SELECT id, amount, fee, unit, reference, state, expiry FROM mint_quotes WHERE id = ?", quoteId)
	err := row.Scan(&quote.Id, &quote.Amount, &quote.Fee, &quote.Unit, &quote.Reference, &quote.State, &quote.Expiry)
	if err == sql.ErrNoRows {
		return storage.MintQuote{}, storage.ErrNotFound
	}
	return quote, err
}

func (stx *sqliteTx) UpdateMintQuoteState(quoteId string, state string) error {
	result, err := stx.tx.Exec("UPDATE mint_quotes SET state = ? WHERE id = ?", state, quoteId)
	if err != nil {
		return err
	}
	return checkAffected(result)
}

func (stx *sqliteTx) AddMeltQuote(quote storage.MeltQuote) error {
	_, err := stx.tx.Exec(`
		INSERT INTO melt_quotes (id, amount, fee, address, reference, state, expiry, txid, description)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, quote.Id, quote.Amount, quote.Fee, quote.Address, quote.Reference, quote.State,
		quote.Expiry, quote.TxId, quote.Description)
	if err != nil && isUniqueViolation(err) {
		return storage.ErrDuplicateQuote
	}
	return err
}

func (stx *sqliteTx) GetMeltQuote(quoteId string) (storage.MeltQuote, error) {
	var quote storage.MeltQuote
	row := stx.tx.QueryRow(`
		SELECT id, amount, fee, address, reference, state, expiry, txid, description
		FROM melt_quotes WHERE id = ?`, quoteId)
	err := row.Scan(&quote.Id, &quote.Amount, &quote.Fee, &quote.Address, &quote.Reference,
		&quote.State, &quote.Expiry, &quote.TxId, &quote.Description)
	if err == sql.ErrNoRows {
		return storage.MeltQuote{}, storage.ErrNotFound
	}
	return quote, err
}

func (stx *sqliteTx) UpdateMeltQuote(quoteId string, txid string, state string) error {
	result, err := stx.tx.Exec(
		"UPDATE melt_quotes SET txid = ?, state = ? WHERE id = ?", txid, state, quoteId)
	if err != nil {
		return err
	}
	return checkAffected(result)
}

func checkAffected(result sql.Result) error {
	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if sqliteErr, ok := err.(sqlite3.Error); ok {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
