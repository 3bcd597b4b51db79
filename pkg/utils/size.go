package utils

import (
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
)

// ddUnits maps a size suffix to its dd count multiplier and the block
// size in KiB; count*blockKB KiB equals the requested size.
var ddUnits = map[byte][2]int64{
	'K': {1, 1},
	'M': {1, 1024},
	'G': {1024, 1024},
	'T': {1024, 1048576},
}

// DDSize converts a human size such as "2K" or "10G" into the count and
// block-size (KiB) arguments of a dd invocation.
func DDSize(size string) (count int64, blockKB int64, err error) {
	if len(size) < 2 {
		return 0, 0, errors.Wrapf(errors.New("invalid size"), "%q", size)
	}

	unit, ok := ddUnits[size[len(size)-1]]
	if !ok {
		return 0, 0, errors.Newf("unknown size suffix %q", size)
	}

	n, err := strconv.ParseInt(size[:len(size)-1], 10, 64)
	if err != nil {
		return 0, 0, errors.Wrap(err, size)
	}

	return n * unit[0], unit[1], nil
}

// ParseSize validates a human image size such as "10G" or "512M" and
// returns the byte count.
func ParseSize(size string) (int64, error) {
	b, err := humanize.ParseBytes(size)
	if err != nil {
		return 0, errors.Wrap(err, size)
	}
	return int64(b), nil //nolint
}
