package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/shared/*.sql migrations/branch/*.sql
var migrations embed.FS

// Scope selects which set of tables a partition database carries.
type Scope string

const (
	ScopeShared Scope = "shared"
	ScopeBranch Scope = "branch"
)

func (s Scope) dir() string {
	return "migrations/" + string(s)
}

// versionTable lets both scopes live in one database, which the
// integration tests rely on.
func (s Scope) versionTable() string {
	return "goose_" + string(s) + "_version"
}

func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// goose keeps its settings in package globals.
var gooseMu sync.Mutex

// Migrate brings the partition database up to the latest schema for scope.
func Migrate(ctx context.Context, db *sql.DB, scope Scope) error {
	if scope != ScopeShared && scope != ScopeBranch {
		return fmt.Errorf("postgres: unknown migration scope %q", scope)
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetTableName(scope.versionTable())
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, scope.dir()); err != nil {
		return fmt.Errorf("postgres: migrate %s: %w", scope, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type rowScanner interface {
	Scan(dest ...any) error
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
