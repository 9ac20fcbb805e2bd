package codec

import (
	"errors"
	"fmt"
)

var (
	ErrTruncated     = errors.New("truncated record")
	ErrUnknownKind   = errors.New("unknown kind tag")
	ErrBadTag        = errors.New("bad tag")
	ErrUnknownString = errors.New("unknown string index")
	ErrTrailingBytes = errors.New("trailing bytes after record")
	ErrStringNUL     = errors.New("string contains NUL")
)

// DecodeError reports where in a record decoding stopped.
type DecodeError struct {
	Offset int
	Op     string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s at offset %d: %v", e.Op, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
