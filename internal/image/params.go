package image

import (
	"path/filepath"
	"strings"
)

// Params is a flat bag of test/VM parameters; values are always strings
// or absent. Per-object settings use suffixed keys, see Object.
type Params map[string]string

// Get .
func (p Params) Get(key string) string {
	return p[key]
}

// GetDefault .
func (p Params) GetDefault(key, dflt string) string {
	if v, ok := p[key]; ok {
		return v
	}
	return dflt
}

// GetBool .
func (p Params) GetBool(key string) bool {
	switch strings.ToLower(p[key]) {
	case "yes", "on", "true", "1":
		return true
	default:
		return false
	}
}

// Has .
func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// Object derives the view scoped to tag: a key suffixed "_<tag>"
// overrides its bare counterpart in the result.
func (p Params) Object(tag string) Params {
	scoped := make(Params, len(p))
	suffix := "_" + tag

	for k, v := range p {
		if strings.HasSuffix(k, suffix) {
			continue
		}
		scoped[k] = v
	}
	for k, v := range p {
		if strings.HasSuffix(k, suffix) {
			scoped[strings.TrimSuffix(k, suffix)] = v
		}
	}

	return scoped
}

// Filename resolves the on-disk path for the image described by params.
// An absolute image_name wins; otherwise the name gains the format as
// extension and lands under rootDir.
func Filename(params Params, rootDir string) string {
	name := params.GetDefault("image_name", "image")
	if filepath.IsAbs(name) {
		return name
	}

	if format := params.GetDefault("image_format", "qcow2"); format != "" {
		name += "." + format
	}

	return filepath.Join(rootDir, name)
}
