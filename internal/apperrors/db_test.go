package apperrors

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapDBError_NilError(t *testing.T) {
	if err := MapDBError(nil); err != nil {
		t.Errorf("MapDBError(nil) = %v, want nil", err)
	}
}

func TestMapDBError_ContextErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode ErrorCode
	}{
		{name: "deadline exceeded", err: context.DeadlineExceeded, wantCode: ErrCodeTimeout},
		{name: "canceled", err: context.Canceled, wantCode: ErrCodeCanceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapDBError(tt.err)
			if GetCode(err) != tt.wantCode {
				t.Errorf("MapDBError() code = %v, want %v", GetCode(err), tt.wantCode)
			}
		})
	}
}

func TestMapDBError_NoRows(t *testing.T) {
	err := MapDBError(pgx.ErrNoRows)
	if !IsNotFound(err) {
		t.Errorf("MapDBError(pgx.ErrNoRows) should be NotFound, got %v", GetCode(err))
	}
}

func TestMapDBError_UniqueViolation(t *testing.T) {
	tests := []struct {
		name      string
		pgErr     *pgconn.PgError
		wantField string
	}{
		{
			name: "unique violation with column name",
			pgErr: &pgconn.PgError{
				Code: pgerrcode.UniqueViolation, ConstraintName: "detection_rule_name_key", ColumnName: "name",
			},
			wantField: "name",
		},
		{
			name: "unique violation with Detail message",
			pgErr: &pgconn.PgError{
				Code: pgerrcode.UniqueViolation, ConstraintName: "detection_rule_name_key",
				Detail: `Key (name)=(suspicious-powershell) already exists.`,
			},
			wantField: "name",
		},
		{
			name: "unique violation with multi-column Detail",
			pgErr: &pgconn.PgError{
				Code: pgerrcode.UniqueViolation, ConstraintName: "table_field1_field2_key",
				Detail: `Key (field1, field2)=(val1, val2) already exists.`,
			},
			wantField: "field1, field2",
		},
		{
			name: "unique violation without column name",
			pgErr: &pgconn.PgError{
				Code: pgerrcode.UniqueViolation, ConstraintName: "detection_rule_name_key",
			},
			wantField: "name",
		},
		{
			name: "unique violation with ambiguous constraint",
			pgErr: &pgconn.PgError{
				Code: pgerrcode.UniqueViolation, ConstraintName: "table_field1_field2_key",
			},
			wantField: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapDBError(tt.pgErr)
			if !IsConflict(err) {
				t.Errorf("MapDBError() should be Conflict, got %v", GetCode(err))
			}
			if field := GetField(err); field != tt.wantField {
				t.Errorf("MapDBError() field = %v, want %v", field, tt.wantField)
			}
		})
	}
}

func TestMapDBError_ForeignKeyViolation(t *testing.T) {
	tests := []struct {
		name         string
		pgErr        *pgconn.PgError
		wantContains string
	}{
		{
			name: "foreign key violation - parent deletion (Detail)",
			pgErr: &pgconn.PgError{
				Code: pgerrcode.ForeignKeyViolation, ConstraintName: "rule_execution_rule_id_fkey",
				Detail: `Key (id)=(rule-123) is still referenced from table "rule_execution".`,
			},
			wantContains: "in use by Rule Execution",
		},
		{
			name: "foreign key violation - missing parent (Detail)",
			pgErr: &pgconn.PgError{
				Code: pgerrcode.ForeignKeyViolation, ConstraintName: "alert_rule_id_fkey",
				Detail: `Key (rule_id)=(rule-123) is not present in table "detection_rule".`,
			},
			wantContains: "does not exist",
		},
		{
			name: "foreign key violation with table name",
			pgErr: &pgconn.PgError{
				Code: pgerrcode.ForeignKeyViolation, ConstraintName: "alert_rule_id_fkey", TableName: "detection_rule",
			},
			wantContains: "Detection Rule",
		},
		{
			name: "foreign key violation without table name",
			pgErr: &pgconn.PgError{
				Code: pgerrcode.ForeignKeyViolation, ConstraintName: "response_action_alert_id_fkey",
			},
			wantContains: "Alert",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapDBError(tt.pgErr)
			if !IsForeignKey(err) {
				t.Errorf("MapDBError() should be ForeignKey, got %v", GetCode(err))
			}
			var appErr *AppError
			if errors.As(err, &appErr) {
				if !strings.Contains(strings.ToLower(appErr.Message), strings.ToLower(tt.wantContains)) {
					t.Errorf("MapDBError() message = %q, want to contain %q", appErr.Message, tt.wantContains)
				}
			}
		})
	}
}

func TestMapDBError_NotNullViolation(t *testing.T) {
	tests := []struct {
		name      string
		pgErr     *pgconn.PgError
		wantField string
	}{
		{name: "with column name", pgErr: &pgconn.PgError{Code: pgerrcode.NotNullViolation, ColumnName: "name"}, wantField: "name"},
		{name: "without column name", pgErr: &pgconn.PgError{Code: pgerrcode.NotNullViolation}, wantField: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapDBError(tt.pgErr)
			if !IsValidation(err) {
				t.Errorf("MapDBError() should be Validation, got %v", GetCode(err))
			}
			if field := GetField(err); field != tt.wantField {
				t.Errorf("MapDBError() field = %v, want %v", field, tt.wantField)
			}
		})
	}
}

func TestMapDBError_CheckViolation(t *testing.T) {
	err := MapDBError(&pgconn.PgError{Code: pgerrcode.CheckViolation, ColumnName: "severity"})
	if !IsValidation(err) {
		t.Errorf("MapDBError() should be Validation, got %v", GetCode(err))
	}
	if field := GetField(err); field != "severity" {
		t.Errorf("MapDBError() field = %v, want severity", field)
	}
}

func TestMapDBError_UnknownPgError(t *testing.T) {
	err := MapDBError(&pgconn.PgError{Code: "99999", Message: "unknown error"})
	if !IsInternal(err) {
		t.Errorf("MapDBError() should be Internal for unknown pg error, got %v", GetCode(err))
	}
}

func TestMapDBError_StandardError(t *testing.T) {
	stdErr := errors.New("standard error")
	if err := MapDBError(stdErr); !errors.Is(err, stdErr) {
		t.Errorf("MapDBError() should return original error for non-db errors, got %v", err)
	}
}

func TestInferFieldFromConstraint(t *testing.T) {
	tests := []struct {
		name           string
		constraintName string
		want           string
	}{
		{name: "simple unique constraint", constraintName: "detection_rule_name_key", want: "name"},
		{name: "multi-column constraint", constraintName: "table_field1_field2_key", want: ""},
		{name: "expression index", constraintName: "table_lower_key", want: ""},
		{name: "empty constraint name", constraintName: "", want: ""},
		{name: "too few parts", constraintName: "table_key", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := inferFieldFromConstraint(tt.constraintName); got != tt.want {
				t.Errorf("inferFieldFromConstraint() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMapTableToDomain(t *testing.T) {
	tests := []struct {
		tableName string
		want      string
	}{
		{tableName: "detection_rule", want: "Detection Rule"},
		{tableName: "rule_execution", want: "Rule Execution"},
		{tableName: "alert", want: "Alert"},
		{tableName: "parsing_job", want: "Parsing Job"},
		{tableName: "response_action", want: "Response Action"},
		{tableName: "  ALERT  ", want: "Alert"},
		{tableName: "unknown_table", want: "Unknown Table"},
	}

	for _, tt := range tests {
		t.Run(tt.tableName, func(t *testing.T) {
			if got := mapTableToDomain(tt.tableName); got != tt.want {
				t.Errorf("mapTableToDomain() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsFunctionName(t *testing.T) {
	if !isFunctionName("LOWER") {
		t.Errorf("isFunctionName(LOWER) = false, want true")
	}
	if isFunctionName("name") {
		t.Errorf("isFunctionName(name) = true, want false")
	}
}
