package postgres

import (
	"errors"
	"strings"
	"testing"

	"appointly/backend/internal/store"
)

type fakeResult struct {
	affected int64
	err      error
}

func (f fakeResult) LastInsertId() (int64, error) {
	panic("not used")
}

func (f fakeResult) RowsAffected() (int64, error) {
	return f.affected, f.err
}

func TestExpectAffected(t *testing.T) {
	if err := expectAffected(fakeResult{affected: 1}); err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
	if err := expectAffected(fakeResult{affected: 0}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want %v", err, store.ErrNotFound)
	}
	driverErr := errors.New("driver")
	if err := expectAffected(fakeResult{err: driverErr}); !errors.Is(err, driverErr) {
		t.Fatalf("err = %v, want %v", err, driverErr)
	}
}

func TestExtractGooseUp(t *testing.T) {
	sql := "-- +goose Up\nCREATE TABLE a (id int);\n-- +goose Down\nDROP TABLE a;\n"
	up, err := extractGooseUp(sql)
	if err != nil {
		t.Fatalf("extractGooseUp error: %v", err)
	}
	if strings.Contains(up, "DROP") {
		t.Fatalf("up section leaked down statements: %q", up)
	}
	stmts := splitSQLStatements(up)
	if len(stmts) != 1 || stmts[0] != "CREATE TABLE a (id int)" {
		t.Fatalf("stmts = %q", stmts)
	}
}

func TestNormalizeExtensionStatement(t *testing.T) {
	got, ok := normalizeExtensionStatement("CREATE EXTENSION IF NOT EXISTS btree_gist")
	if !ok || !strings.HasSuffix(got, "SCHEMA public") {
		t.Fatalf("got %q, %v", got, ok)
	}
	if _, ok := normalizeExtensionStatement("CREATE TABLE x (id int)"); ok {
		t.Fatalf("non-extension statement must be left alone")
	}
}
