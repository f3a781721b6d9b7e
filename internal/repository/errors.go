package repository

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// ErrInvalidData marks a write the database refused because of its content,
// e.g. an invalid byte sequence or an over-long value. Retrying the same
// input cannot succeed.
var ErrInvalidData = errors.New("invalid data")

// pqDataException is the SQLSTATE class for data exceptions.
const pqDataException = "22"

func classifyWriteError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == pqDataException {
		return fmt.Errorf("%w: %w", ErrInvalidData, err)
	}
	return err
}
