package repository

import (
	"context"
	"fmt"
	"strings"

	"clinic-scheduling/pkg/database"
)

// insertChunked writes rows with one multi-row INSERT per chunk so no single
// statement grows past chunkSize rows.
func insertChunked(ctx context.Context, db database.DBTX, table string, columns []string, rows [][]any, chunkSize int) error {
	if chunkSize <= 0 {
		chunkSize = DefaultSlotBatchSize
	}

	for start := 0; start < len(rows); start += chunkSize {
		end := min(start+chunkSize, len(rows))
		query, args := buildInsert(table, columns, rows[start:end])
		if _, err := db.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("insert %s rows %d-%d: %w", table, start, end, err)
		}
	}

	return nil
}

func buildInsert(table string, columns []string, rows [][]any) (string, []any) {
	var sb strings.Builder
	args := make([]any, 0, len(rows)*len(columns))

	sb.WriteString("INSERT INTO ")
	sb.WriteString(table)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(columns, ", "))
	sb.WriteString(") VALUES ")

	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j, v := range row {
			if j > 0 {
				sb.WriteString(", ")
			}
			args = append(args, v)
			fmt.Fprintf(&sb, "$%d", len(args))
		}
		sb.WriteString(")")
	}

	return sb.String(), args
}

type rowScanner interface {
	Scan(dest ...any) error
}
