package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestErrorClassification(t *testing.T) {
	duplicate := fmt.Errorf("insert session: %w", &pgconn.PgError{Code: "23505"})
	foreignKey := &pgconn.PgError{Code: "23503"}
	noRows := fmt.Errorf("get session: %w", pgx.ErrNoRows)
	plain := errors.New("boom")

	tests := []struct {
		name      string
		err       error
		duplicate bool
		fk        bool
		noRows    bool
	}{
		{"wrapped duplicate", duplicate, true, false, false},
		{"foreign key", foreignKey, false, true, false},
		{"no rows", noRows, false, false, true},
		{"plain", plain, false, false, false},
		{"nil", nil, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPgDuplicateError(tt.err); got != tt.duplicate {
				t.Errorf("IsPgDuplicateError = %v", got)
			}
			if got := IsPgForeignKeyError(tt.err); got != tt.fk {
				t.Errorf("IsPgForeignKeyError = %v", got)
			}
			if got := IsPgNoRowsError(tt.err); got != tt.noRows {
				t.Errorf("IsPgNoRowsError = %v", got)
			}
		})
	}
}
