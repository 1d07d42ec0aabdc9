// Package migrations embeds the SQL applied when MIGRATE=true.
package migrations

import (
	"embed"
	"io/fs"
	"sort"
)

//go:embed *.sql
var files embed.FS

// Scripts returns every migration in file-name order.
func Scripts() ([]Script, error) {
	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	out := make([]Script, 0, len(names))
	for _, n := range names {
		b, err := files.ReadFile(n)
		if err != nil {
			return nil, err
		}
		out = append(out, Script{Name: n, SQL: string(b)})
	}
	return out, nil
}

type Script struct {
	Name string
	SQL  string
}
