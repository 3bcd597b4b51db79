package terrors

import "github.com/cockroachdb/errors"

// IsCheckWarnErr reports whether err is one of the recoverable
// image-check outcomes.
func IsCheckWarnErr(err error) bool {
	return errors.Is(err, ErrCheckInternal) || errors.Is(err, ErrLeakedClusters)
}

// IsDataCorruptionErr .
func IsDataCorruptionErr(err error) bool {
	return errors.Is(err, ErrDataCorruption)
}

// IsImagesDifferErr .
func IsImagesDifferErr(err error) bool {
	return errors.Is(err, ErrImagesDiffer)
}

// IsCommandFailedErr .
func IsCommandFailedErr(err error) bool {
	return errors.Is(err, ErrCommandFailed)
}
