package errors

import (
	"errors"
)

var (
	ErrOutOfStock   = errors.New("card is out of stock")
	ErrStaleVersion = errors.New("local cart version is behind the persisted version")
	ErrCardNotFound = errors.New("card not found in catalog")
)
