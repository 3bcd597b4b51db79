package utils

import (
	"testing"

	"github.com/projecteru2/yaimg/pkg/test/assert"
)

func TestDDSize(t *testing.T) {
	cases := []struct {
		size    string
		count   int64
		blockKB int64
	}{
		{"2K", 2, 1},
		{"16M", 16, 1024},
		{"1G", 1024, 1024},
		{"2T", 2048, 1048576},
	}

	for _, c := range cases {
		count, blockKB, err := DDSize(c.size)
		assert.NilErr(t, err)
		assert.Equal(t, c.count, count, c.size)
		assert.Equal(t, c.blockKB, blockKB, c.size)
	}
}

func TestDDSizeInvalid(t *testing.T) {
	for _, size := range []string{"", "1", "10B", "xG"} {
		_, _, err := DDSize(size)
		assert.Err(t, err)
	}
}

func TestParseSize(t *testing.T) {
	n, err := ParseSize("1GiB")
	assert.NilErr(t, err)
	assert.Equal(t, GB, n)

	// qemu-style bare suffixes parse as decimal units, good enough
	// for flag validation since the raw string is what gets passed on.
	n, err = ParseSize("1G")
	assert.NilErr(t, err)
	assert.Equal(t, int64(1000000000), n)

	_, err = ParseSize("huge")
	assert.Err(t, err)
}
