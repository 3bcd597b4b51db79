package image

import (
	"encoding/json"
	"fmt"
	"strings"
)

// imageMeta is the structured descriptor of an image's driver chain.
// Field order is the emission order for both the json and the dotted
// opts form.
type imageMeta struct {
	EncryptKeySecret string   `json:"encrypt.key-secret,omitempty"`
	Driver           string   `json:"driver"`
	File             fileMeta `json:"file"`
	KeySecret        string   `json:"key-secret,omitempty"`
}

type fileMeta struct {
	Driver   string `json:"driver"`
	Filename string `json:"filename"`
}

func getImageMeta(tag string, params Params, rootDir string) *imageMeta {
	format := params.GetDefault("image_format", "qcow2")
	encryption := params.GetDefault("image_encryption", "off")
	secret := SecretFromParams(tag, params, rootDir)

	meta := &imageMeta{
		Driver: format,
		File: fileMeta{
			Driver:   "file",
			Filename: Filename(params, rootDir),
		},
	}

	if secret != nil {
		switch {
		case format == "qcow2" && encryption == "luks":
			meta.EncryptKeySecret = secret.ID
		case format == "luks":
			meta.KeySecret = secret.ID
		}
	}

	return meta
}

// GetImageJSON renders the structured descriptor as a json: filename.
func GetImageJSON(tag string, params Params, rootDir string) string {
	buf, _ := json.Marshal(getImageMeta(tag, params, rootDir))
	return "json:" + string(buf)
}

// GetImageOpts renders the structured descriptor flattened to dotted
// key=value pairs, walking the record depth-first.
func GetImageOpts(tag string, params Params, rootDir string) string {
	meta := getImageMeta(tag, params, rootDir)

	flat := make([][2]string, 0, 5) //nolint:gomnd
	if meta.EncryptKeySecret != "" {
		flat = append(flat, [2]string{"encrypt.key-secret", meta.EncryptKeySecret})
	}
	flat = append(flat,
		[2]string{"driver", meta.Driver},
		[2]string{"file.driver", meta.File.Driver},
		[2]string{"file.filename", meta.File.Filename},
	)
	if meta.KeySecret != "" {
		flat = append(flat, [2]string{"key-secret", meta.KeySecret})
	}

	pairs := make([]string, len(flat))
	for i, kv := range flat {
		pairs[i] = fmt.Sprintf("%s=%s", kv[0], kv[1])
	}
	return strings.Join(pairs, ",")
}

// GetImageRepr picks the command-line representation of an image. With
// no explicit mode it uses json when the image carries a secret, so the
// key can be supplied out-of-band, and the bare filename otherwise.
func GetImageRepr(tag string, params Params, rootDir, representation string) string {
	switch representation {
	case "filename":
		return Filename(params, rootDir)
	case "json":
		return GetImageJSON(tag, params, rootDir)
	case "opts":
		return GetImageOpts(tag, params, rootDir)
	}

	if SecretFromParams(tag, params, rootDir) != nil {
		return GetImageJSON(tag, params, rootDir)
	}
	return Filename(params, rootDir)
}
