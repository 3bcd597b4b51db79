package image

import (
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/projecteru2/yaimg/pkg/terrors"
)

var blanks = regexp.MustCompile(" +")

// assembler renders command templates such as
//
//	"create {secret_object} {image_format} {unsafe!b} {image_filename}"
//
// against a fixed name-to-flag table and a per-call value map. A plain
// placeholder emits "<flag> <value>" when the value is present and
// nothing otherwise; a {name!b} placeholder emits the bare flag on a
// truthy value. Placeholder order in the template fixes argument order.
type assembler struct {
	cmdParams map[string]string
}

func newAssembler(cmdParams map[string]string) *assembler {
	if cmdParams == nil {
		cmdParams = map[string]string{}
	}
	return &assembler{cmdParams: cmdParams}
}

// Format substitutes every placeholder of tmpl, collapses redundant
// blanks and trims the ends.
func (a *assembler) Format(tmpl string, values map[string]string) (string, error) {
	var out strings.Builder

	rest := tmpl
	for {
		i := strings.IndexByte(rest, '{')
		if i < 0 {
			out.WriteString(rest)
			break
		}
		out.WriteString(rest[:i])
		rest = rest[i+1:]

		j := strings.IndexByte(rest, '}')
		if j < 0 {
			return "", errors.Wrapf(terrors.ErrInvalidValue, "unterminated placeholder in %q", tmpl)
		}

		field, err := a.convert(rest[:j], values)
		if err != nil {
			return "", err
		}
		out.WriteString(field)

		rest = rest[j+1:]
	}

	return strings.TrimSpace(blanks.ReplaceAllString(out.String(), " ")), nil
}

func (a *assembler) convert(spec string, values map[string]string) (string, error) {
	name, conv := spec, "v"
	if k := strings.IndexByte(spec, '!'); k >= 0 {
		name, conv = spec[:k], spec[k+1:]
	}

	flag, known := a.cmdParams[name]
	val, present := values[name]

	if !known && !present {
		return "", errors.Wrapf(terrors.ErrUnknownPlaceholder, "%q", name)
	}
	if !known {
		// bare substitution, no flag involved
		return val, nil
	}

	switch conv {
	case "v":
		if val == "" {
			return "", nil
		}
		return strings.TrimSpace(flag + " " + val), nil
	case "b":
		if truthy(val) {
			return flag, nil
		}
		return "", nil
	default:
		return "", errors.Wrapf(terrors.ErrUnknownConversion, "%q", conv)
	}
}

func truthy(val string) bool {
	switch strings.ToLower(val) {
	case "", "0", "no", "off", "false":
		return false
	default:
		return true
	}
}
