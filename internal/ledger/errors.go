package ledger

import (
	"errors"
	"fmt"

	"nexuserp/backend/internal/domain"
)

var (
	ErrInvoiceNotFound = errors.New("invoice not found")
	ErrFieldNotFound   = errors.New("field not found")
	ErrInvalidAmount   = errors.New("amount must be greater than zero")
	ErrPartialWrite    = errors.New("partial write")
	ErrMissingJoinKey  = errors.New("missing join key")
	ErrMalformedValue  = errors.New("malformed value")
	ErrUnknownLocation = errors.New("unknown location")
	ErrUnknownProduct  = errors.New("unknown product")
)

// FieldError pins a parse failure to one cell of one stored row.
type FieldError struct {
	Table  string
	RowKey string
	Field  string
	Raw    string
	Code   string
	Err    error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s row %s field %q: %v", e.Table, e.RowKey, e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// Defect converts the error into the row defect reported on a snapshot.
func (e *FieldError) Defect() domain.RowDefect {
	kind := domain.DefectMalformedValue
	switch {
	case errors.Is(e.Err, ErrMissingJoinKey):
		kind = domain.DefectMissingJoinKey
	case errors.Is(e.Err, ErrUnknownLocation):
		kind = domain.DefectUnknownLocation
	case errors.Is(e.Err, ErrUnknownProduct):
		kind = domain.DefectUnknownProduct
	}
	return domain.RowDefect{
		Table:  e.Table,
		RowKey: e.RowKey,
		Kind:   kind,
		Field:  e.Field,
		Raw:    e.Raw,
		Code:   e.Code,
	}
}
