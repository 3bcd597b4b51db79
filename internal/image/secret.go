package image

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

// Secret is an out-of-band credential handed to the external tool via a
// dedicated --object clause so key material never sits inside the image
// descriptor itself.
type Secret struct {
	ID       string
	Data     string
	Filename string
	ImageID  string
}

// SecretFromParams returns the key secret of the image tag, or nil when
// the image carries none.
func SecretFromParams(tag string, params Params, rootDir string) *Secret {
	data := params.Get("image_secret")
	if data == "" {
		return nil
	}

	return &Secret{
		ID:       fmt.Sprintf("%s_encrypt0", tag),
		Data:     data,
		Filename: filepath.Join(rootDir, fmt.Sprintf("%s.secret", tag)),
		ImageID:  tag,
	}
}

// SaveToFile materializes the secret so the tool can read it out-of-band.
func (s *Secret) SaveToFile() error {
	if err := os.WriteFile(s.Filename, []byte(s.Data), 0600); err != nil {
		return errors.Wrap(err, s.Filename)
	}
	return nil
}

// ObjectClause .
func (s *Secret) ObjectClause() string {
	return fmt.Sprintf("--object secret,id=%s,data=%s", s.ID, s.Data)
}

// EncryptConfig carries the format-specific encryption attributes of one
// image plus the key secrets of its backing chain.
type EncryptConfig struct {
	Format         string
	KeySecret      *Secret
	BaseKeySecrets []*Secret

	CipherAlg    string
	CipherMode   string
	IvgenAlg     string
	IvgenHashAlg string
	HashAlg      string
	IterTime     string
}

// EncryptConfigFromParams assembles the encryption configuration of the
// image tag; base key secrets come from the object params of baseTag.
func EncryptConfigFromParams(tag string, params Params, rootDir string) *EncryptConfig {
	ec := &EncryptConfig{
		Format:       params.GetDefault("image_encryption", "off"),
		KeySecret:    SecretFromParams(tag, params, rootDir),
		CipherAlg:    params.Get("image_cipher_alg"),
		CipherMode:   params.Get("image_cipher_mode"),
		IvgenAlg:     params.Get("image_ivgen_alg"),
		IvgenHashAlg: params.Get("image_ivgen_hash_alg"),
		HashAlg:      params.Get("image_hash_alg"),
		IterTime:     params.Get("image_iter_time"),
	}

	if baseTag := params.Get("base_image"); baseTag != "" && baseTag != "null" {
		baseParams := params.Object(baseTag)
		if s := SecretFromParams(baseTag, baseParams, rootDir); s != nil {
			ec.BaseKeySecrets = append(ec.BaseKeySecrets, s)
		}
	}

	return ec
}

// ImageKeySecrets lists every distinct secret a command touching this
// image must declare, own secret first.
func (ec *EncryptConfig) ImageKeySecrets() []*Secret {
	var secrets []*Secret
	if ec.KeySecret != nil {
		secrets = append(secrets, ec.KeySecret)
	}
	secrets = append(secrets, ec.BaseKeySecrets...)

	return lo.UniqBy(secrets, func(s *Secret) string { return s.ID })
}

// optionAttrs reports the encryption attributes expanded into a -o
// clause, dash-separated and in a fixed order. The base-key-secrets
// list never expands; the format attribute is skipped when the target
// itself is luks.
func (ec *EncryptConfig) optionAttrs(imageFormat string) [][2]string {
	attrs := [][2]string{
		{"cipher-alg", ec.CipherAlg},
		{"cipher-mode", ec.CipherMode},
		{"ivgen-alg", ec.IvgenAlg},
		{"ivgen-hash-alg", ec.IvgenHashAlg},
		{"hash-alg", ec.HashAlg},
		{"iter-time", ec.IterTime},
	}
	if ec.KeySecret != nil {
		attrs = append(attrs, [2]string{"key-secret", ec.KeySecret.ID})
	}
	if imageFormat != "luks" {
		attrs = append(attrs, [2]string{"format", ec.Format})
	}

	kept := attrs[:0]
	for _, kv := range attrs {
		if kv[1] != "" {
			kept = append(kept, kv)
		}
	}
	return kept
}
