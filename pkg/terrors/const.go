package terrors

import "github.com/cockroachdb/errors"

var (
	// ErrInvalidValue indicates the value is invalid.
	ErrInvalidValue = errors.New("invalid value")

	// ErrUnknownPlaceholder .
	ErrUnknownPlaceholder = errors.New("unknown command placeholder")
	// ErrUnknownConversion .
	ErrUnknownConversion = errors.New("unknown conversion specifier")

	// ErrMissingBaseImage .
	ErrMissingBaseImage = errors.New("base image parameters not found")
	// ErrMissingSnapshotTag .
	ErrMissingSnapshotTag = errors.New("snapshot image parameters not found")

	// ErrCommandFailed .
	ErrCommandFailed = errors.New("external command exited non-zero")

	// ErrCheckInternal indicates check stopped on internal errors,
	// bad data may have gone unnoticed.
	ErrCheckInternal = errors.New("image check not completed because of internal errors")
	// ErrDataCorruption .
	ErrDataCorruption = errors.New("image data corruption detected")
	// ErrLeakedClusters indicates leaked clusters, harmless to data integrity.
	ErrLeakedClusters = errors.New("leaked clusters noticed during image check")

	// ErrImagesDiffer .
	ErrImagesDiffer = errors.New("compared images differ")
	// ErrCompareFailed .
	ErrCompareFailed = errors.New("error in image comparison")
)
