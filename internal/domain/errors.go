package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrUnitUnknown        = errors.New("unit unknown")
	ErrLockBusy           = errors.New("unit lock busy")
	ErrInvalidSegment     = errors.New("invalid segment")
	ErrRefreshUnavailable = errors.New("feed refresh not possible")
	ErrMergeFailed        = errors.New("merge failed")
	ErrInvalidUnit        = errors.New("invalid unit code")
	ErrSelfImport         = errors.New("refusing self-import url")
	ErrForbidden          = errors.New("forbidden")
)
