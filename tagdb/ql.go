package tagdb

import (
	"database/sql"
	"encoding/json"

	_ "github.com/cznic/ql/driver"
	"github.com/pkg/errors"
)

// This file implements the tag database using the QL embedded database.
// It is intended to be used only in development and testing.

type qlDB struct {
	db *sql.DB
}

var _ DB = &qlDB{}

const qlTagInit = `
	CREATE TABLE IF NOT EXISTS tags (
		slot int,
		saved time,
		value blob
	);
	CREATE INDEX IF NOT EXISTS tagslot ON tags (slot);
`

// NewQl makes a QL tag database. filename is the name of the file to save
// the database to. The filename "memory" means to keep everything in
// memory.
func NewQl(filename string) (DB, error) {
	var db *sql.DB
	var err error
	if filename == "memory" {
		db, err = sql.Open("ql-mem", "mem.db")
	} else {
		db, err = sql.Open("ql", filename)
	}
	if err == nil {
		_, err = performExec(db, qlTagInit)
	}
	if err != nil {
		return nil, errors.Wrap(err, "Open QL")
	}
	return &qlDB{db: db}, nil
}

func (qc *qlDB) SaveTag(tag Tag) error {
	const dbUpdate = `UPDATE tags SET saved = ?2, value = ?3 WHERE slot == ?1`
	const dbInsert = `INSERT INTO tags VALUES (?1, ?2, ?3)`

	value, err := json.Marshal(tag)
	if err != nil {
		return err
	}
	result, err := performExec(qc.db, dbUpdate, tag.Index, tag.Saved, value)
	if err != nil {
		return err
	}
	nrows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if nrows == 0 {
		// record didn't exist. create it
		_, err = performExec(qc.db, dbInsert, tag.Index, tag.Saved, value)
	}
	return err
}

func (qc *qlDB) DeleteTag(index int64) error {
	const query = `DELETE FROM tags WHERE slot == ?1`

	_, err := performExec(qc.db, query, index)
	return err
}

func (qc *qlDB) LookupTag(index int64) (*Tag, error) {
	const query = `SELECT value FROM tags WHERE slot == ?1 LIMIT 1`

	var value []byte
	err := qc.db.QueryRow(query, index).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	var tag = new(Tag)
	err = json.Unmarshal(value, tag)
	if err != nil {
		return nil, err
	}
	return tag, nil
}

func (qc *qlDB) ListTags() ([]Tag, error) {
	const query = `SELECT value FROM tags`

	rows, err := qc.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []Tag
	for rows.Next() {
		var value []byte
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		var tag Tag
		if err := json.Unmarshal(value, &tag); err != nil {
			return nil, errors.Wrap(err, "decode tag")
		}
		result = append(result, tag)
	}
	return result, rows.Err()
}

// QL requires every Exec to happen inside a transaction.
func performExec(db *sql.DB, query string, args ...interface{}) (sql.Result, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	var result sql.Result
	result, err = tx.Exec(query, args...)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	err = tx.Commit()
	return result, err
}
