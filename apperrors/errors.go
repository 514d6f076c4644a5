package apperrors

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrDuplicateKey     = errors.New("bibkey already exists")
	ErrEmptyKey         = errors.New("empty bibkey")
	ErrInvalidField     = errors.New("invalid field name")
	ErrEmptyValue       = errors.New("empty value")
	ErrReservedCategory = errors.New("reserved category cannot be deleted")
	ErrAmbiguousRecord  = errors.New("more than one record, index required")
	ErrParse            = errors.New("bibtex parse error")
	ErrFetchFailed      = errors.New("external fetch failed")
)
