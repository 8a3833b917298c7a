// Package sqldb is thin MySQL plumbing for the collected-data sink:
// create-if-missing tables and batched inserts.
package sqldb

import (
	"database/sql"
	"errors"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

type DBer interface {
	CreateTable(t TableData) error
	Insert(t TableData) error
	DropTable(t TableData) error
	Close() error
}

type SQLDB struct {
	options
	db *sql.DB
}

type Field struct {
	Title string
	Type  string
}

type TableData struct {
	TableName   string
	ColumnNames []Field
	// Args holds DataCount rows of values, flattened in column order.
	Args      []any
	DataCount int
	AutoKey   bool
}

func New(opts ...Option) (*SQLDB, error) {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}

	d := &SQLDB{}
	d.options = options

	if err := d.openDB(); err != nil {
		return nil, err
	}

	return d, nil
}

func (d *SQLDB) openDB() error {
	db, err := sql.Open("mysql", d.connURL)
	if err != nil {
		return err
	}

	db.SetMaxOpenConns(d.maxOpenConns)
	db.SetMaxIdleConns(d.maxIdleConns)

	if err = db.Ping(); err != nil {
		return err
	}

	d.db = db

	return nil
}

func (d *SQLDB) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *SQLDB) CreateTable(t TableData) error {
	if len(t.ColumnNames) == 0 {
		return errors.New("column can not be empty")
	}

	sql := `CREATE TABLE IF NOT EXISTS ` + t.TableName + " ("

	if t.AutoKey {
		sql += `id INT(12) NOT NULL PRIMARY KEY AUTO_INCREMENT,`
	}

	for _, t := range t.ColumnNames {
		sql += t.Title + ` ` + t.Type + `,`
	}

	sql = sql[:len(sql)-1] + `) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`

	d.logger.Debug("create table", zap.String("sql", sql))

	_, err := d.db.Exec(sql)

	return err
}

func (d *SQLDB) DropTable(t TableData) error {
	if t.TableName == "" {
		return errors.New("table name can not be empty")
	}

	sql := `DROP TABLE ` + t.TableName

	d.logger.Debug("drop table", zap.String("sql", sql))

	_, err := d.db.Exec(sql)

	return err
}

func (d *SQLDB) Insert(t TableData) error {
	if len(t.ColumnNames) == 0 {
		return errors.New("empty column")
	}
	if t.DataCount == 0 {
		return nil
	}

	sql := `INSERT INTO ` + t.TableName + `(`

	for _, v := range t.ColumnNames {
		sql += v.Title + ","
	}

	sql = sql[:len(sql)-1] + `) VALUES `

	blank := ",(" + strings.Repeat(",?", len(t.ColumnNames))[1:] + ")"
	sql += strings.Repeat(blank, t.DataCount)[1:] + `;`
	d.logger.Debug("insert table", zap.String("sql", sql))
	_, err := d.db.Exec(sql, t.Args...)

	return err
}
