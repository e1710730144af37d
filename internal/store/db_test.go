package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestTranslateConstraintViolations(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{name: "unique", err: &pgconn.PgError{Code: codeUniqueViolation, ConstraintName: "tags_key_key"}, want: ErrConflict},
		{name: "foreign key", err: fmt.Errorf("exec: %w", &pgconn.PgError{Code: codeForeignKeyViolation}), want: ErrUnknownRefID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := translate(tc.err); !errors.Is(got, tc.want) {
				t.Fatalf("translate() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTranslateLeavesOtherErrors(t *testing.T) {
	plain := errors.New("boom")
	if got := translate(plain); got != plain {
		t.Fatalf("translate() = %v, want original error", got)
	}
	syntax := &pgconn.PgError{Code: "42601"}
	if got := translate(syntax); got != error(syntax) {
		t.Fatalf("translate() = %v, want original pg error", got)
	}
}
