package image

import (
	"testing"

	"github.com/projecteru2/yaimg/pkg/test/assert"
)

func TestParamsObject(t *testing.T) {
	params := Params{
		"image_format":       "qcow2",
		"image_name":         "sn1",
		"image_name_base":    "base",
		"image_size_base":    "20G",
		"image_secret_base":  "redhat",
		"backup_on_error":    "no",
		"image_format_other": "raw",
	}

	scoped := params.Object("base")
	assert.Equal(t, "base", scoped.Get("image_name"))
	assert.Equal(t, "20G", scoped.Get("image_size"))
	assert.Equal(t, "redhat", scoped.Get("image_secret"))
	// bare keys without a scoped override pass through
	assert.Equal(t, "qcow2", scoped.Get("image_format"))
	assert.Equal(t, "no", scoped.Get("backup_on_error"))
	// other tags' suffixed keys pass through untouched
	assert.Equal(t, "raw", scoped.Get("image_format_other"))
}

func TestParamsGetBool(t *testing.T) {
	params := Params{"a": "yes", "b": "on", "c": "no", "d": ""}
	assert.True(t, params.GetBool("a"))
	assert.True(t, params.GetBool("b"))
	assert.False(t, params.GetBool("c"))
	assert.False(t, params.GetBool("d"))
	assert.False(t, params.GetBool("missing"))
}

func TestFilename(t *testing.T) {
	params := Params{"image_name": "disk0", "image_format": "qcow2"}
	assert.Equal(t, "/images/disk0.qcow2", Filename(params, "/images"))

	params["image_format"] = ""
	assert.Equal(t, "/images/disk0", Filename(params, "/images"))

	params["image_name"] = "/dev/vg0/lv0"
	assert.Equal(t, "/dev/vg0/lv0", Filename(params, "/images"))
}
