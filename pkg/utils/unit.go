package utils

const (
	// Byte .
	Byte int64 = 1 << (10 * iota) //nolint:gomnd // 10 * iota plus shift left simple math
	// KB .
	KB
	// MB .
	MB
	// GB .
	GB
	// TB .
	TB
)
