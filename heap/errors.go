package heap

import "github.com/pkg/errors"

// ErrInvalidSize is returned when an allocation is requested with a size that cannot
// describe a block, such as zero or a negative number.
var ErrInvalidSize = errors.New("requested size must be positive")
