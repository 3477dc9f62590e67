package store

import (
	domainerrors "github.com/revealrank/revealrank/internal/errors"
)

// Sentinel errors.
var (
	ErrNotFound = domainerrors.NotFoundf("store: record not found")

	ErrInvalidInput = domainerrors.Validation("store: invalid input")
)
