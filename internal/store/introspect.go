package store

import "context"

// SchemaInfo carries the live values the natural-language engine shows
// analysts when they ask what is queryable.
type SchemaInfo struct {
	Contexts        []string `json:"available_contexts"`
	Scenes          []string `json:"available_scenes"`
	SampleAddresses []string `json:"sample_addresses"`
}

// Introspect samples distinct annotation contexts, scenes and addresses.
func (s *SQLiteStore) Introspect(ctx context.Context) (*SchemaInfo, error) {
	info := &SchemaInfo{}
	queries := []struct {
		query string
		dest  *[]string
	}{
		{`SELECT DISTINCT context FROM annotations WHERE context IS NOT NULL AND context != '' LIMIT 20`, &info.Contexts},
		{`SELECT DISTINCT scene FROM annotations WHERE scene IS NOT NULL AND scene != '' LIMIT 20`, &info.Scenes},
		{`SELECT DISTINCT address FROM memory_changes ORDER BY address LIMIT 50`, &info.SampleAddresses},
	}
	for _, q := range queries {
		rows, err := s.db.QueryContext(ctx, q.query)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var v string
			if err := rows.Scan(&v); err != nil {
				rows.Close()
				return nil, err
			}
			*q.dest = append(*q.dest, v)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return info, nil
}
