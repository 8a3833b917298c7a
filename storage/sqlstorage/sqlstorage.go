// Package sqlstorage persists collected data cells into MySQL, one table
// per scraper, with columns derived from the validated model.
package sqlstorage

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Brennan-Chesley-FLP/kent/scrape"
	"github.com/Brennan-Chesley-FLP/kent/sqldb"
)

// Bookkeeping columns appended after the model's own fields.
var metaColumns = []sqldb.Field{
	{Title: "URL", Type: "VARCHAR(255)"},
	{Title: "Time", Type: "VARCHAR(64)"},
	{Title: "RunID", Type: "VARCHAR(64)"},
}

type SQLStorage struct {
	mu     sync.Mutex
	buffer []*scrape.DataCell
	db     sqldb.DBer
	tables map[string]struct{}
	options
}

func New(opts ...Option) (*SQLStorage, error) {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}

	s := &SQLStorage{}
	s.options = options
	s.tables = make(map[string]struct{})

	if s.dber != nil {
		s.db = s.dber
		return s, nil
	}

	var err error
	s.db, err = sqldb.New(
		sqldb.WithConnURL(s.sqlURL),
		sqldb.WithLogger(s.logger),
	)
	if err != nil {
		return nil, err
	}

	return s, nil
}

// Save buffers cells and flushes once the batch fills up.
func (s *SQLStorage) Save(cells ...*scrape.DataCell) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cell := range cells {
		name := tableName(cell)
		if _, ok := s.tables[name]; !ok {
			err := s.db.CreateTable(sqldb.TableData{
				TableName:   name,
				ColumnNames: columnsFor(cell),
				AutoKey:     true,
			})
			if err != nil {
				s.logger.Error("create table failed", zap.Error(err))
			}
			s.tables[name] = struct{}{}
		}

		if len(s.buffer) >= s.batchCount {
			if err := s.flushLocked(); err != nil {
				s.logger.Error("insert data failed", zap.Error(err))
			}
		}

		s.buffer = append(s.buffer, cell)
	}

	return nil
}

// Flush writes out everything still buffered; the driver calls it at the
// end of a run.
func (s *SQLStorage) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *SQLStorage) flushLocked() error {
	if len(s.buffer) == 0 {
		return nil
	}
	defer func() {
		s.buffer = nil
	}()

	// Cells from different scrapers can share a buffer; insert per table.
	byTable := map[string][]*scrape.DataCell{}
	var order []string
	for _, cell := range s.buffer {
		name := tableName(cell)
		if _, ok := byTable[name]; !ok {
			order = append(order, name)
		}
		byTable[name] = append(byTable[name], cell)
	}

	var firstErr error
	for _, name := range order {
		group := byTable[name]
		columns := columnsFor(group[0])

		args := make([]any, 0, len(group)*len(columns))
		for _, cell := range group {
			for _, field := range fieldNames(group[0]) {
				args = append(args, renderValue(cell.Data[field]))
			}
			args = append(args, cell.URL, cell.Time, cell.RunID)
		}

		err := s.db.Insert(sqldb.TableData{
			TableName:   name,
			ColumnNames: columns,
			Args:        args,
			DataCount:   len(group),
		})
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close flushes and releases the database handle.
func (s *SQLStorage) Close() error {
	if err := s.Flush(); err != nil {
		s.logger.Error("final flush failed", zap.Error(err))
	}
	return s.db.Close()
}

func tableName(cell *scrape.DataCell) string {
	name := cell.Scraper
	if name == "" {
		name = "kent_results"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// fieldNames derives the data column order: the model's declaration order
// when a model is attached, sorted keys otherwise.
func fieldNames(cell *scrape.DataCell) []string {
	if cell.Model != nil {
		names := make([]string, 0, len(cell.Model.Fields))
		for _, f := range cell.Model.Fields {
			names = append(names, f.Name)
		}
		return names
	}
	names := make([]string, 0, len(cell.Data))
	for k := range cell.Data {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func columnsFor(cell *scrape.DataCell) []sqldb.Field {
	var columns []sqldb.Field
	for _, name := range fieldNames(cell) {
		columns = append(columns, sqldb.Field{Title: name, Type: "MEDIUMTEXT"})
	}
	return append(columns, metaColumns...)
}

func renderValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		encoded, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}
