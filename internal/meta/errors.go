package meta

import "errors"

// ErrInvalidRecord is returned for records whose kind and payload disagree
// or that cannot be registered.
var ErrInvalidRecord = errors.New("invalid record")
