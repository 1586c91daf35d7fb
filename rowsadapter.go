package rsparser

import "database/sql"

// RowsAdapter drives a Parser from a live *sql.Rows cursor, the same way
// mapper.go's scanOne/scanAll once drove a reflect-based destination struct:
// build the scan targets once, then Scan/feed one row at a time. Database
// access itself stays out of scope — the adapter only consumes a cursor the
// caller already opened.
type RowsAdapter struct {
	parser *Parser
	rows   *sql.Rows
	scan   []any
	raw    []any
}

// NewRowsAdapter prepares an adapter over rows for parser, which must
// already be Init'd. The result set's column count must match the markup
// parser was initialized with; columns are matched positionally, exactly as
// FeedRow expects.
func NewRowsAdapter(parser *Parser, rows *sql.Rows) (*RowsAdapter, error) {
	if !parser.initialized {
		return nil, usageErr(ErrNotInitialized, "NewRowsAdapter requires an initialized parser")
	}
	cols, err := rows.Columns()
	if err != nil {
		return nil, usageErr(err, "RowsAdapter: reading column names")
	}
	if len(cols) != len(parser.markup) {
		return nil, usageErr(nil, "RowsAdapter: result set has %d columns, markup has %d", len(cols), len(parser.markup))
	}
	raw := make([]any, len(cols))
	scan := make([]any, len(cols))
	for i := range raw {
		scan[i] = &raw[i]
	}
	return &RowsAdapter{parser: parser, rows: rows, scan: scan, raw: raw}, nil
}

// FeedAll scans every remaining row of rows through the parser, in cursor
// order, stopping at the first Scan or FeedRow error.
func (a *RowsAdapter) FeedAll() error {
	for a.rows.Next() {
		if err := a.rows.Scan(a.scan...); err != nil {
			return err
		}
		row := make([]any, len(a.raw))
		copy(row, a.raw)
		if err := a.parser.FeedRow(row); err != nil {
			return err
		}
	}
	return a.rows.Err()
}
