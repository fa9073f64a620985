package tagdb

import (
	"database/sql"
	"encoding/json"

	"github.com/BurntSushi/migration"
	_ "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
)

// This file implements the tag database using MySQL as the backing store.

type mysqlDB struct {
	db *sql.DB
}

var _ DB = &mysqlDB{}

// List of migrations to perform. Add new ones to the end.
// DO NOT change the order of items already in this list.
var mysqlMigrations = []migration.Migrator{
	mysqlschema1,
}

// Adapt the schema versioning for MySQL

var mysqlVersioning = dbVersion{
	GetSQL:    `SELECT max(version) FROM migration_version`,
	SetSQL:    `INSERT INTO migration_version (version, applied) VALUES (?, now())`,
	CreateSQL: `CREATE TABLE migration_version (version INTEGER, applied datetime)`,
}

// NewMysql connects to a MySQL database and returns a tag database backed
// by it. The schema is created or migrated as needed.
func NewMysql(dial string) (DB, error) {
	db, err := migration.OpenWith(
		"mysql",
		dial,
		mysqlMigrations,
		mysqlVersioning.Get,
		mysqlVersioning.Set)
	if err != nil {
		return nil, errors.Wrap(err, "Open Mysql")
	}
	return &mysqlDB{db: db}, nil
}

func mysqlschema1(tx migration.LimitedTx) error {
	const s = `
	CREATE TABLE IF NOT EXISTS tags (
		slot BIGINT PRIMARY KEY,
		saved datetime,
		value text
	)`

	_, err := tx.Exec(s)
	return err
}

func (ms *mysqlDB) SaveTag(tag Tag) error {
	const stmt = `INSERT INTO tags (slot, saved, value) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE saved=?, value=?`

	value, err := json.Marshal(tag)
	if err != nil {
		return err
	}
	_, err = ms.db.Exec(stmt, tag.Index, tag.Saved, value, tag.Saved, value)
	return err
}

func (ms *mysqlDB) DeleteTag(index int64) error {
	const query = `DELETE FROM tags WHERE slot = ?`

	_, err := ms.db.Exec(query, index)
	return err
}

func (ms *mysqlDB) LookupTag(index int64) (*Tag, error) {
	const query = `SELECT value FROM tags WHERE slot = ? LIMIT 1`

	var value []byte
	err := ms.db.QueryRow(query, index).Scan(&value)
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

func (ms *mysqlDB) ListTags() ([]Tag, error) {
	const query = `SELECT value FROM tags`

	rows, err := ms.db.Query(query)
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
