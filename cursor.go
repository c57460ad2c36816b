package main

import (
	"context"
	"fmt"
	"strings"
)

type cursorPhase int

const (
	phaseUnopened cursorPhase = iota
	phaseCheckingExistence
	phaseSchemaAbsent
	phaseOpening
	phaseOpen
	phaseExhausted
	phaseFailed
)

func (p cursorPhase) String() string {
	switch p {
	case phaseUnopened:
		return "unopened"
	case phaseCheckingExistence:
		return "checking-existence"
	case phaseSchemaAbsent:
		return "schema-absent"
	case phaseOpening:
		return "opening"
	case phaseOpen:
		return "open"
	case phaseExhausted:
		return "exhausted"
	default:
		return "failed"
	}
}

type resultKind int

const (
	cursorRow resultKind = iota
	cursorExhausted
	cursorNotFound
)

type cursorResult struct {
	Kind resultKind
	Row  ColumnRow
}

// CatalogCursor walks the remote column catalog for one import. Every call
// to Next advances the phase machine as far as needed to produce one row or
// a terminal result; there is no separate open call.
type CatalogCursor struct {
	exec    RemoteExecutor
	catalog catalogNames
	req     *ImportRequest

	phase  cursorPhase
	handle RowHandle
	err    error
}

// catalogNames says how catalog queries address the views of one source.
type catalogNames interface {
	// CatalogSchema is the qualifier of the SCHEMATA/TABLES/COLUMNS views.
	CatalogSchema() string

	// ExactName wraps a name column so that comparisons and ordering on it
	// are byte-wise, whatever collation the source applies.
	ExactName(expr string) string
}

func newCatalogCursor(exec RemoteExecutor, catalog catalogNames, req *ImportRequest) *CatalogCursor {
	return &CatalogCursor{exec: exec, catalog: catalog, req: req}
}

// Next returns the next catalog row, cursorExhausted after the last row, or
// cursorNotFound if the remote schema does not exist. Terminal results and
// errors repeat on subsequent calls.
func (c *CatalogCursor) Next(ctx context.Context) (cursorResult, error) {
	for {
		switch c.phase {
		case phaseUnopened:
			if err := c.req.Selection.validate(); err != nil {
				return c.fail(err)
			}
			c.phase = phaseCheckingExistence

		case phaseCheckingExistence:
			n, err := c.exec.ProbeCount(ctx, c.schemaQuery(), c.req.RemoteSchema)
			if err != nil {
				return c.fail(remoteQueryFailed("schema query", err))
			}
			log.Debugf("  remote schema %q: count(*) = %d", c.req.RemoteSchema, n)
			if n == 0 {
				c.phase = phaseSchemaAbsent
				continue
			}
			c.phase = phaseOpening

		case phaseOpening:
			query, args := c.columnQuery()
			log.Debugf("  column query: %s", query)
			h, err := c.exec.OpenCursor(ctx, query, args...)
			if err != nil {
				return c.fail(remoteQueryFailed("column query", err))
			}
			c.handle = h
			c.phase = phaseOpen

		case phaseOpen:
			raw, ok, err := c.handle.FetchNext()
			if err != nil {
				c.release()
				return c.fail(remoteQueryFailed("fetch next result row", err))
			}
			if !ok {
				log.Debugf("  end of catalog data reached")
				c.release()
				c.phase = phaseExhausted
				continue
			}
			return cursorResult{Kind: cursorRow, Row: decodeColumn(raw)}, nil

		case phaseSchemaAbsent:
			return cursorResult{Kind: cursorNotFound}, nil

		case phaseExhausted:
			return cursorResult{Kind: cursorExhausted}, nil

		default:
			return cursorResult{}, c.err
		}
	}
}

// Close releases the open result set, if any. It is safe to call more than once.
func (c *CatalogCursor) Close() {
	c.release()
	if c.phase == phaseOpen || c.phase == phaseOpening {
		c.phase = phaseExhausted
	}
}

func (c *CatalogCursor) fail(err error) (cursorResult, error) {
	c.release()
	c.phase = phaseFailed
	c.err = err
	return cursorResult{}, err
}

func (c *CatalogCursor) release() {
	if c.handle == nil {
		return
	}
	if err := c.handle.Close(); err != nil {
		log.Warnf("close catalog cursor: %v", err)
	}
	c.handle = nil
}

func (c *CatalogCursor) schemaQuery() string {
	return fmt.Sprintf("SELECT COUNT(*) AS COUNTER FROM %s.SCHEMATA WHERE %s = ?",
		c.catalog.CatalogSchema(), c.catalog.ExactName("SCHEMANAME"))
}

// columnQuery builds the catalog query for the selection. Rows must come back
// ordered by table name, then column position: the synthesizer relies on it.
func (c *CatalogCursor) columnQuery() (string, []any) {
	x := c.catalog.ExactName
	var b strings.Builder
	fmt.Fprintf(&b,
		`SELECT T.TABNAME, C.COLNAME, C.TYPENAME, C.LENGTH, C.SCALE, C.NULLS, COALESCE(C.KEYSEQ, 0) AS KEYSEQ, C.CODEPAGE, C."DEFAULT"`+
			` FROM %[1]s.TABLES T JOIN %[1]s.COLUMNS C ON %[2]s = %[3]s AND %[4]s = %[5]s`+
			` WHERE %[2]s = ? AND T.TYPE IN ('T','V')`,
		c.catalog.CatalogSchema(), x("T.TABSCHEMA"), x("C.TABSCHEMA"), x("T.TABNAME"), x("C.TABNAME"))

	args := []any{c.req.RemoteSchema}
	sel := c.req.Selection
	if sel.Mode != selectAll {
		b.WriteString(" AND ")
		b.WriteString(x("T.TABNAME"))
		if sel.Mode == selectExcept {
			b.WriteString(" NOT IN (")
		} else {
			b.WriteString(" IN (")
		}
		for i, name := range sel.Tables {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteByte('?')
			args = append(args, name)
		}
		b.WriteByte(')')
	}
	fmt.Fprintf(&b, " ORDER BY %s, C.COLNO", x("T.TABNAME"))
	return b.String(), args
}

// decodeColumn turns a wire row into a ColumnRow. SQL NULL in any field means
// the zero value for that field.
func decodeColumn(raw rawColumn) ColumnRow {
	row := ColumnRow{
		TableName:  raw.TableName.String,
		ColumnName: raw.ColumnName.String,
		TypeName:   strings.TrimSpace(raw.TypeName.String),
		Length:     uint32(clampInt(raw.Length.Int64, 0, 1<<32-1)),
		Scale:      int16(clampInt(raw.Scale.Int64, -1<<15, 1<<15-1)),
		Nullable:   strings.HasPrefix(raw.Nulls.String, "Y"),
		KeySeq:     uint16(clampInt(raw.KeySeq.Int64, 0, 1<<16-1)),
		CodePage:   uint16(clampInt(raw.CodePage.Int64, 0, 1<<16-1)),
	}
	if raw.Default.Valid && raw.Default.String != "" {
		d := raw.Default.String
		row.Default = &d
	}
	row.Type = resolveTypeCode(row.TypeName, row.CodePage)
	if row.Type == typeUnknown {
		log.Debugf("  unknown typename %q for %s.%s", row.TypeName, row.TableName, row.ColumnName)
	}
	log.Debugf("  %s.%s: %s (%s) length=%d scale=%d nullable=%t key=%d codepage=%d",
		row.TableName, row.ColumnName, row.TypeName, row.Type, row.Length, row.Scale, row.Nullable, row.KeySeq, row.CodePage)
	return row
}

func clampInt(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
