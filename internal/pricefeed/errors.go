package pricefeed

import "errors"

var (
	ErrNilStream = errors.New("stream cannot be nil")
	ErrNilLogger = errors.New("logger cannot be nil")
)
