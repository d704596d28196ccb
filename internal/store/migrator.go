package store

import (
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// migration is one versioned, idempotent schema change.
type migration struct {
	version int
	name    string
	sql     string
}

// runMigrations applies every embedded migration in version order. Each
// statement uses CREATE TABLE/INDEX IF NOT EXISTS, so re-running against
// an already-migrated database is a no-op rather than an error.
func runMigrations(db *sql.DB) error {
	migrations, err := loadMigrations()
	if err != nil {
		return fmt.Errorf("store: failed to load migrations: %w", err)
	}

	for _, m := range migrations {
		for _, stmt := range splitStatements(m.sql) {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" || strings.HasPrefix(stmt, "--") {
				continue
			}
			if _, err := db.Exec(stmt); err != nil {
				return fmt.Errorf("store: migration %d (%s) failed: %w", m.version, m.name, err)
			}
		}
	}

	return nil
}

func loadMigrations() ([]migration, error) {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return nil, err
	}

	var migrations []migration
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		content, err := migrationFiles.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return nil, err
		}

		var version int
		var name string
		if _, err := fmt.Sscanf(entry.Name(), "%03d_%s", &version, &name); err != nil {
			continue
		}
		name = strings.TrimSuffix(name, ".sql")

		migrations = append(migrations, migration{version: version, name: name, sql: string(content)})
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].version < migrations[j].version })
	return migrations, nil
}

// splitStatements splits a migration file's SQL on top-level semicolons,
// ignoring semicolons inside quoted strings.
func splitStatements(sqlText string) []string {
	var statements []string
	var current strings.Builder
	inString := false
	var stringChar rune

	runes := []rune(sqlText)
	for i, char := range runes {
		if !inString {
			switch char {
			case '\'', '"':
				inString = true
				stringChar = char
			case ';':
				if stmt := strings.TrimSpace(current.String()); stmt != "" {
					statements = append(statements, stmt)
				}
				current.Reset()
				continue
			}
		} else if char == stringChar {
			if i+1 < len(runes) && runes[i+1] == stringChar {
				current.WriteRune(char)
				continue
			}
			inString = false
		}
		current.WriteRune(char)
	}

	if stmt := strings.TrimSpace(current.String()); stmt != "" {
		statements = append(statements, stmt)
	}
	return statements
}
