package image

import (
	"testing"

	"github.com/projecteru2/yaimg/pkg/terrors"
	"github.com/projecteru2/yaimg/pkg/test/assert"

	"github.com/cockroachdb/errors"
)

func newTestAssembler() *assembler {
	return newAssembler(map[string]string{
		"image_format": "-f",
		"backing_file": "-b",
		"unsafe":       "-u",
		"options":      "-o",
		"secret_if":    "",
	})
}

func TestAssemblerValueMode(t *testing.T) {
	asm := newTestAssembler()

	out, err := asm.Format("create {image_format} {backing_file} img 1G", map[string]string{
		"image_format": "qcow2",
	})
	assert.NilErr(t, err)
	assert.Equal(t, "create -f qcow2 img 1G", out)

	out, err = asm.Format("create {image_format} img", map[string]string{
		"image_format": "",
	})
	assert.NilErr(t, err)
	assert.Equal(t, "create img", out)
}

func TestAssemblerBooleanMode(t *testing.T) {
	asm := newTestAssembler()

	cases := []struct {
		val string
		out string
	}{
		{"on", "rebase -u img"},
		{"yes", "rebase -u img"},
		{"", "rebase img"},
		{"no", "rebase img"},
		{"off", "rebase img"},
	}

	for _, c := range cases {
		out, err := asm.Format("rebase {unsafe!b} img", map[string]string{"unsafe": c.val})
		assert.NilErr(t, err)
		assert.Equal(t, c.out, out, c.val)
	}
}

func TestAssemblerEmptyFlag(t *testing.T) {
	asm := newTestAssembler()

	out, err := asm.Format("create {secret_if} img", map[string]string{
		"secret_if": "--object secret,id=s0,data=x",
	})
	assert.NilErr(t, err)
	assert.Equal(t, "create --object secret,id=s0,data=x img", out)
}

func TestAssemblerBareSubstitution(t *testing.T) {
	asm := newTestAssembler()

	// names outside the flag table substitute their raw value
	out, err := asm.Format("info {filename}", map[string]string{"filename": "/tmp/a.qcow2"})
	assert.NilErr(t, err)
	assert.Equal(t, "info /tmp/a.qcow2", out)
}

func TestAssemblerMissingValueIsEmpty(t *testing.T) {
	asm := newTestAssembler()

	out, err := asm.Format("create {image_format} {options} img", map[string]string{})
	assert.NilErr(t, err)
	assert.Equal(t, "create img", out)
}

func TestAssemblerUnknownPlaceholder(t *testing.T) {
	asm := newTestAssembler()

	_, err := asm.Format("create {no_such_key} img", map[string]string{})
	assert.Err(t, err)
	assert.True(t, errors.Is(err, terrors.ErrUnknownPlaceholder))
}

func TestAssemblerUnknownConversion(t *testing.T) {
	asm := newTestAssembler()

	_, err := asm.Format("create {unsafe!x} img", map[string]string{"unsafe": "on"})
	assert.Err(t, err)
	assert.True(t, errors.Is(err, terrors.ErrUnknownConversion))
}

func TestAssemblerCollapsesBlanks(t *testing.T) {
	asm := newTestAssembler()

	out, err := asm.Format(" create  {image_format}   {options}  img ", map[string]string{
		"image_format": "qcow2",
	})
	assert.NilErr(t, err)
	assert.Equal(t, "create -f qcow2 img", out)
}
