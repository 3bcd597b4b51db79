package image

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// optionsMapping gates each structured -o option on the formats that
// understand it; the zero "off" default is never emitted.
var optionsMapping = []struct {
	key     string
	dflt    string
	opt     string
	formats []string
}{
	{"preallocated", "off", "preallocation", []string{"qcow2", "raw", "luks"}},
	{"image_cluster_size", "", "cluster_size", []string{"qcow2"}},
	{"lazy_refcounts", "", "lazy_refcounts", []string{"qcow2"}},
	{"qcow2_compatible", "", "compat", []string{"qcow2"}},
}

// parseOptions builds the option listing of a single -o clause for
// create, convert, amend and measure. Each rule owns a disjoint key
// namespace, so no key is ever emitted twice.
func (q *QemuImg) parseOptions(params Params) []string {
	imageFormat := params.GetDefault("image_format", "qcow2")
	var options []string

	for _, m := range optionsMapping {
		if !lo.Contains(m.formats, imageFormat) {
			continue
		}
		if value := params.GetDefault(m.key, m.dflt); value != "" && value != "off" {
			options = append(options, fmt.Sprintf("%s=%s", m.opt, value))
		}
	}

	if q.encryption.KeySecret != nil {
		for _, kv := range q.encryption.optionAttrs(imageFormat) {
			key := kv[0]
			if imageFormat == "qcow2" {
				key = "encrypt." + key
			}
			options = append(options, fmt.Sprintf("%s=%s", key, kv[1]))
		}
	}

	if extra := params.Get("image_extra_params"); extra != "" {
		options = append(options, strings.Trim(extra, ","))
	}

	if params.Get("has_backing_file") == "yes" {
		backingParams := params.Object("backing_file")
		options = append(options,
			fmt.Sprintf("backing_file=%s", Filename(backingParams, q.RootDir)),
			fmt.Sprintf("backing_fmt=%s", backingParams.Get("image_format")))
	}

	return options
}
