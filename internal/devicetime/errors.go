package devicetime

import "errors"

// ErrInvalidConfiguration is wrapped by every configuration error returned
// from constructors, SetFilterAlgorithm and ApplyConfiguration. The target
// instance is never modified when it is returned.
var ErrInvalidConfiguration = errors.New("invalid device time configuration")
