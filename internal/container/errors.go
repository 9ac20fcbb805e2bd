package container

import (
	"errors"
	"fmt"
)

var (
	ErrBadMagic        = errors.New("not a metadata container")
	ErrVersionMismatch = errors.New("protocol version mismatch")
	ErrCorruptHeap     = errors.New("corrupt heap")
	ErrTruncated       = errors.New("container truncated")
	ErrMalformed       = errors.New("malformed container")
	ErrOutOfRange      = errors.New("record range outside heap")
	ErrNotFound        = errors.New("name not found")
	ErrTooLarge        = errors.New("container section exceeds 4 GiB")
)

// VersionMismatchError reports a container written by a different protocol
// version. It matches ErrVersionMismatch with errors.Is.
type VersionMismatchError struct {
	Got  uint16
	Want uint16
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("protocol version %d, reader supports %d", e.Got, e.Want)
}

func (e *VersionMismatchError) Is(target error) bool { return target == ErrVersionMismatch }
