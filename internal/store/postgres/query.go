package postgres

import (
	"fmt"

	"github.com/alanyoungcy/cmibot/internal/domain"
)

// listQuery appends the time window, ordering and pagination of opts to
// query. col is the timestamp column the window applies to; next is the
// first free placeholder index.
func listQuery(query string, args []any, next int, col string, opts domain.ListOpts) (string, []any) {
	if opts.Since != nil {
		query += fmt.Sprintf(" AND %s >= $%d", col, next)
		args = append(args, *opts.Since)
		next++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND %s <= $%d", col, next)
		args = append(args, *opts.Until)
		next++
	}

	query += " ORDER BY " + col + " DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", next)
		args = append(args, opts.Limit)
		next++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", next)
		args = append(args, opts.Offset)
	}
	return query, args
}
