package terrors

import (
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/projecteru2/yaimg/pkg/test/assert"
)

func TestIsCheckWarnErr(t *testing.T) {
	err := errors.Wrap(ErrCheckInternal, "test")
	assert.True(t, IsCheckWarnErr(err))
	err = errors.WithMessage(ErrLeakedClusters, "test1")
	assert.True(t, IsCheckWarnErr(err))
	assert.False(t, IsCheckWarnErr(ErrDataCorruption))
}

func TestIsDataCorruptionErr(t *testing.T) {
	err := errors.Wrapf(ErrDataCorruption, "image %s", "/tmp/a.qcow2")
	assert.True(t, IsDataCorruptionErr(err))
	assert.False(t, IsDataCorruptionErr(ErrCheckInternal))
}

func TestIsImagesDifferErr(t *testing.T) {
	assert.True(t, IsImagesDifferErr(errors.Wrap(ErrImagesDiffer, "test")))
	assert.False(t, IsImagesDifferErr(ErrCompareFailed))
}

func TestIsCommandFailedErr(t *testing.T) {
	assert.True(t, IsCommandFailedErr(errors.Wrapf(ErrCommandFailed, "exit %d", 1)))
	assert.False(t, IsCommandFailedErr(errors.New("other")))
}
