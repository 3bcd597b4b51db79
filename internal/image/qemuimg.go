package image

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/patrickmn/go-cache"
	"github.com/projecteru2/core/log"
	"github.com/samber/lo"

	"github.com/projecteru2/yaimg/configs"
	"github.com/projecteru2/yaimg/pkg/sh"
	"github.com/projecteru2/yaimg/pkg/terrors"
	"github.com/projecteru2/yaimg/pkg/utils"
)

// qemuImgParameters associates logical option names with the literal
// flag they expand to; an empty flag emits the value alone.
var qemuImgParameters = map[string]string{
	"image_format":         "-f",
	"backing_file":         "-b",
	"backing_format":       "-F",
	"unsafe":               "-u",
	"options":              "-o",
	"secret_object":        "",
	"image_opts":           "",
	"check_repair":         "-r",
	"output_format":        "--output",
	"force_share":          "-U",
	"resize_preallocation": "--preallocation",
	"resize_shrink":        "--shrink",
}

const (
	createCmd = "create {secret_object} {image_format} {backing_file} " +
		"{backing_format} {unsafe!b} {options} {image_filename} {image_size}"
	checkCmd = "check {secret_object} {image_opts} {image_format} " +
		"{output_format} {check_repair} {force_share!b} {image_filename}"
	resizeCmd = "resize {secret_object} {image_opts} {resize_shrink!b} " +
		"{resize_preallocation} {image_filename} {image_size}"
)

var fileFormatRegex = regexp.MustCompile(`file format: (\w+)`)

// helpCache keeps one help-text probe per binary path so constructing
// many image objects against the same tool costs a single subprocess.
var helpCache = cache.New(30*time.Minute, time.Hour)

// QemuImg drives one disk image through the external qemu-img tool.
// Construct one per image tag; operations issue exactly one blocking
// subprocess invocation each.
type QemuImg struct {
	Tag      string
	Params   Params
	RootDir  string
	Filename string
	Format   string
	Size     string

	BaseTag      string
	BaseFormat   string
	BaseFilename string

	SnapshotTag      string
	SnapshotFilename string

	allParams  Params
	encryption *EncryptConfig
	binary     string
	helpText   string

	capForceShare bool

	asm *assembler
}

// New builds the image object for tag, scoping params to it and probing
// the tool's advertised capabilities once per binary.
func New(ctx context.Context, params Params, rootDir, tag string) *QemuImg {
	objParams := params.Object(tag)

	q := &QemuImg{
		Tag:        tag,
		Params:     objParams,
		RootDir:    rootDir,
		Filename:   Filename(objParams, rootDir),
		Format:     objParams.GetDefault("image_format", "qcow2"),
		Size:       objParams.Get("image_size"),
		allParams:  params,
		encryption: EncryptConfigFromParams(tag, objParams, rootDir),
		binary:     objParams.GetDefault("qemu_img_binary", configs.Conf.QemuImgBinary),
		asm:        newAssembler(qemuImgParameters),
	}

	if baseTag := objParams.Get("base_image"); baseTag != "" {
		q.BaseTag = baseTag
		baseParams := params.Object(baseTag)
		q.BaseFormat = baseParams.GetDefault("image_format", "qcow2")
		if baseTag != "null" {
			q.BaseFilename = Filename(baseParams, rootDir)
		}
	}

	if snapTag := objParams.Get("snapshot_image"); snapTag != "" {
		q.SnapshotTag = snapTag
		q.SnapshotFilename = Filename(params.Object(snapTag), rootDir)
	}

	q.helpText = probeHelp(ctx, q.binary)
	q.capForceShare = strings.Contains(q.helpText, "-U")

	return q
}

func probeHelp(ctx context.Context, binary string) string {
	if v, ok := helpCache.Get(binary); ok {
		return v.(string) //nolint
	}

	text := ""
	if res, err := sh.Run(ctx, binary+" -h"); err != nil {
		log.Warnf(ctx, "failed to probe %s help text: %s", binary, err)
	} else {
		text = string(res.Stdout)
	}

	helpCache.Set(binary, text, cache.DefaultExpiration)
	return text
}

// SupportCmd verifies whether the tool advertises sub-command cmd.
func (q *QemuImg) SupportCmd(ctx context.Context, cmd string) bool {
	if !strings.Contains(q.helpText, cmd) {
		log.Warnf(ctx, "%s does not support command %q", q.binary, cmd)
		return false
	}
	return true
}

func (q *QemuImg) run(ctx context.Context, cmdline string) (*sh.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, configs.Conf.ExecTimeout.Duration())
	defer cancel()
	return sh.Run(ctx, cmdline)
}

// secretObjects lists the --object clauses of every distinct key secret
// the command must declare.
func (q *QemuImg) secretObjects() []string {
	return lo.Map(q.encryption.ImageKeySecrets(), func(s *Secret, _ int) string {
		return s.ObjectClause()
	})
}

// Create creates the image, via qemu-img or, when create_with_dd is
// requested on a raw image, via a plain dd block copy. It returns the
// resolved image path and the captured invocation result; a non-zero
// exit is an error unless ignoreErrors is set.
func (q *QemuImg) Create(ctx context.Context, ignoreErrors bool) (string, *sh.Result, error) {
	logger := log.WithFunc("Create").WithField("image", q.Tag)

	var cmdline string
	if q.Params.Get("create_with_dd") == "yes" && q.Format == "raw" {
		count, blockKB, err := utils.DDSize(q.Size)
		if err != nil {
			return "", nil, err
		}
		cmdline = fmt.Sprintf("%s if=/dev/zero of=%s count=%d bs=%dK",
			configs.Conf.DDBinary, q.Filename, count, blockKB)
	} else {
		values := map[string]string{
			"image_format":   q.Format,
			"image_filename": q.Filename,
			"image_size":     q.Size,
		}

		if q.BaseTag != "" {
			hasSecret := lo.ContainsBy(q.encryption.BaseKeySecrets, func(s *Secret) bool {
				return s.ImageID == q.BaseTag
			})
			if hasSecret {
				baseParams := q.allParams.Object(q.BaseTag)
				values["backing_file"] = fmt.Sprintf("'%s'", GetImageJSON(q.BaseTag, baseParams, q.RootDir))
			} else {
				values["backing_file"] = q.BaseFilename
				if q.BaseFormat != "" {
					values["backing_format"] = q.BaseFormat
				}
			}
		}

		if secrets := q.secretObjects(); len(secrets) > 0 {
			values["secret_object"] = strings.Join(secrets, " ")
		}
		if options := q.parseOptions(q.Params); len(options) > 0 {
			values["options"] = strings.Join(options, ",")
		}

		args, err := q.asm.Format(createCmd, values)
		if err != nil {
			return "", nil, err
		}
		cmdline = q.binary + " " + args
	}

	if q.Params.GetDefault("image_backend", "filesystem") == "filesystem" {
		if dir := filepath.Dir(q.Filename); !fileExists(dir) {
			logger.Warnf(ctx, "parent directory %s does not exist, trying to create it", dir)
			if err := os.MkdirAll(dir, 0755); err != nil { //nolint:gomnd
				logger.Error(ctx, err, "failed to create parent directory")
			}
		}
	}

	logger.Infof(ctx, "create image by command: %s", cmdline)

	res, err := q.run(ctx, cmdline)
	if err != nil {
		return "", nil, err
	}
	if !res.Succeeded() && !ignoreErrors {
		return "", res, errors.Wrapf(terrors.ErrCommandFailed,
			"failed to create image %s: %s", q.Filename, res.StderrText())
	}

	if q.encryption.KeySecret != nil {
		if err := q.encryption.KeySecret.SaveToFile(); err != nil {
			return "", res, err
		}
	}

	return q.Filename, res, nil
}

// Convert converts the image into the target described by params and
// returns the target image tag.
func (q *QemuImg) Convert(ctx context.Context, params Params, rootDir, cacheMode string) (string, error) {
	convertTag := params.Get("image_convert")
	convertParams := Params{
		"image_name":   params.Get("convert_name_" + convertTag),
		"image_format": params.Get("convert_format_" + convertTag),
	}
	convertFilename := Filename(convertParams, rootDir)

	cmd := q.binary + " convert"
	if params.Get("convert_compressed") == "yes" {
		cmd += " -c"
	}
	if sparse := params.Get("sparse_size"); sparse != "" {
		cmd += " -S " + sparse
	}

	var options []string
	if enc := params.GetDefault("convert_encrypted", "off"); enc != "off" {
		options = append(options, "encryption="+enc)
	}
	if prealloc := params.Get("preallocated"); prealloc != "" {
		options = append(options, "preallocation="+prealloc)
	}
	if cluster := params.Get("cluster_size"); cluster != "" {
		options = append(options, "cluster_size="+cluster)
	}
	if compat := params.Get("compat"); compat != "" {
		options = append(options, "compat="+compat)
		if lazy := params.Get("lazy_refcounts"); lazy != "" {
			options = append(options, "lazy_refcounts="+lazy)
		}
	}
	if len(options) > 0 {
		cmd += " -o " + strings.Join(options, ",")
	}

	if q.Format != "" {
		cmd += " -f " + q.Format
	}
	cmd += " -O " + convertParams.Get("image_format")
	if cacheMode != "" {
		cmd += " -t " + cacheMode
	}
	cmd += " " + q.Filename + " " + convertFilename

	log.WithFunc("Convert").Infof(ctx, "convert image %s from %s to %s",
		q.Filename, q.Format, convertParams.Get("image_format"))

	res, err := q.run(ctx, cmd)
	if err != nil {
		return "", err
	}
	if !res.Succeeded() {
		return "", errors.Wrapf(terrors.ErrCommandFailed,
			"failed to convert %s: %s", q.Filename, res.StderrText())
	}

	return convertTag, nil
}

// Rebase changes the backing file of the image to the configured base
// and returns the base tag. The sentinel base tag "null" rebases onto
// an empty backing chain.
func (q *QemuImg) Rebase(ctx context.Context, cacheMode string) (string, error) {
	if q.BaseTag == "" {
		return "", errors.Wrap(terrors.ErrMissingBaseImage, q.Tag)
	}
	if q.BaseTag != "null" && q.BaseFilename == "" {
		return "", errors.Wrap(terrors.ErrMissingBaseImage, "base image filename")
	}
	if q.BaseFormat == "" {
		return "", errors.Wrap(terrors.ErrMissingBaseImage, "base image format")
	}

	cmd := q.binary + " rebase"
	if q.Format != "" {
		cmd += " -f " + q.Format
	}
	if cacheMode != "" {
		cmd += " -t " + cacheMode
	}
	if q.Params.Get("rebase_mode") == "unsafe" {
		cmd += " -u"
	}

	if q.BaseTag == "null" {
		cmd += fmt.Sprintf(` -b "" -F %s %s`, q.BaseFormat, q.Filename)
	} else {
		cmd += fmt.Sprintf(" -b %s -F %s %s", q.baseRef(), q.BaseFormat, q.Filename)
	}

	log.WithFunc("Rebase").Infof(ctx, "rebase %s onto %s", q.Filename, q.BaseFilename)

	res, err := q.run(ctx, cmd)
	if err != nil {
		return "", err
	}
	if !res.Succeeded() {
		return "", errors.Wrapf(terrors.ErrCommandFailed,
			"failed to rebase %s: %s", q.Filename, res.StderrText())
	}

	return q.BaseTag, nil
}

// baseRef names the base image on a command line, switching to the
// structured representation when the base carries a secret.
func (q *QemuImg) baseRef() string {
	baseParams := q.allParams.Object(q.BaseTag)
	ref := GetImageRepr(q.BaseTag, baseParams, q.RootDir, "")
	if strings.HasPrefix(ref, "json:") {
		return "'" + ref + "'"
	}
	return ref
}

// Commit commits the image into its base file and returns its filename.
func (q *QemuImg) Commit(ctx context.Context, cacheMode string) (string, error) {
	cmd := q.binary + " commit"
	if cacheMode != "" {
		cmd += " -t " + cacheMode
	}
	cmd += fmt.Sprintf(" -f %s %s", q.Format, q.Filename)

	log.WithFunc("Commit").Infof(ctx, "commit snapshot %s", q.Filename)

	res, err := q.run(ctx, cmd)
	if err != nil {
		return "", err
	}
	if !res.Succeeded() {
		return "", errors.Wrapf(terrors.ErrCommandFailed,
			"failed to commit %s: %s", q.Filename, res.StderrText())
	}

	return q.Filename, nil
}

// amendOrder fixes the emission order of the documented amend options;
// anything else goes after, sorted.
var amendOrder = []string{
	"amend_size", "amend_compat", "amend_backing_file", "amend_backing_fmt",
	"amend_encryption", "amend_cluster_size", "amend_preallocation",
	"amend_lazy_refcounts", "amend_refcount_bits", "amend_extra_params",
}

// Amend amends format-specific options of the image. Every amend_*
// param is flattened into the -o clause with its prefix stripped; the
// extra_params marker itself is removed so its value merges bare.
func (q *QemuImg) Amend(ctx context.Context, params Params, cacheMode string, ignoreStatus bool) (*sh.Result, error) {
	var keys []string
	for _, key := range amendOrder {
		if params.Has(key) {
			keys = append(keys, key)
		}
	}
	var rest []string
	for key := range params {
		if strings.HasPrefix(key, "amend_") && !lo.Contains(amendOrder, key) {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	keys = append(keys, rest...)

	options := lo.Map(keys, func(key string, _ int) string {
		return fmt.Sprintf("%s=%s", strings.TrimPrefix(key, "amend_"), params.Get(key))
	})

	cmd := q.binary + " amend"
	if cacheMode != "" {
		cmd += " -t " + cacheMode
	}
	if len(options) > 0 {
		cmd += " -o " + strings.ReplaceAll(strings.Join(options, ","), "extra_params=", "")
	}
	cmd += fmt.Sprintf(" -f %s %s", q.Format, q.Filename)

	log.WithFunc("Amend").Infof(ctx, "amend image %s", q.Filename)

	res, err := q.run(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if !res.Succeeded() && !ignoreStatus {
		return res, errors.Wrapf(terrors.ErrCommandFailed,
			"failed to amend %s: %s", q.Filename, res.StderrText())
	}

	return res, nil
}

// Resize grows or shrinks the image to size, which may carry a +/-
// delta and a unit suffix. A non-zero exit is reported through the
// result, not raised.
func (q *QemuImg) Resize(ctx context.Context, size string, shrink bool, preallocation string) (*sh.Result, error) {
	values := map[string]string{
		"image_filename": q.Filename,
		"image_size":     size,
	}
	if shrink {
		values["resize_shrink"] = "on"
	}
	if preallocation != "" {
		values["resize_preallocation"] = preallocation
	}
	if q.encryption.KeySecret != nil {
		values["image_filename"] = fmt.Sprintf("'%s'", GetImageJSON(q.Tag, q.Params, q.RootDir))
	}
	if secrets := q.secretObjects(); len(secrets) > 0 {
		values["secret_object"] = strings.Join(secrets, " ")
	}

	args, err := q.asm.Format(resizeCmd, values)
	if err != nil {
		return nil, err
	}

	res, err := q.run(ctx, q.binary+" "+args)
	if err != nil {
		return nil, err
	}

	if !res.Succeeded() {
		log.WithFunc("Resize").Warnf(ctx, "resize %s exited %d: %s",
			q.Filename, res.ExitCode, res.StderrText())
	} else if q.encryption.KeySecret != nil {
		if err := q.encryption.KeySecret.SaveToFile(); err != nil {
			return res, err
		}
	}

	return res, nil
}

// Map dumps the allocation state of the image.
func (q *QemuImg) Map(ctx context.Context, output string) (*sh.Result, error) {
	cmd := fmt.Sprintf("%s map --output=%s %s", q.binary, output, q.Filename)
	return q.run(ctx, cmd)
}

// Measure reports the size required by a target format; with a size the
// benchmark is that virtual size, otherwise the image object itself.
func (q *QemuImg) Measure(ctx context.Context, targetFmt, size, output string) (*sh.Result, error) {
	cmd := fmt.Sprintf("%s measure --output=%s -O %s", q.binary, output, targetFmt)
	if size != "" {
		cmd += " --size " + size
	} else {
		cmd += fmt.Sprintf(" -f %s %s", q.Format, q.Filename)
	}
	return q.run(ctx, cmd)
}

// SnapshotCreate creates the configured internal snapshot and returns
// its tag.
func (q *QemuImg) SnapshotCreate(ctx context.Context) (string, error) {
	if q.SnapshotTag == "" {
		return "", errors.Wrap(terrors.ErrMissingSnapshotTag, q.Tag)
	}

	cmd := fmt.Sprintf("%s snapshot -c %s %s", q.binary, q.SnapshotFilename, q.Filename)
	if err := q.runChecked(ctx, cmd); err != nil {
		return "", err
	}

	return q.SnapshotTag, nil
}

// SnapshotDelete deletes the configured snapshot; with a blkdebug
// config the image is addressed through the blkdebug protocol.
func (q *QemuImg) SnapshotDelete(ctx context.Context, blkdebugCfg string) error {
	if q.SnapshotTag == "" {
		return errors.Wrap(terrors.ErrMissingSnapshotTag, q.Tag)
	}

	cmd := fmt.Sprintf("%s snapshot -d %s", q.binary, q.SnapshotFilename)
	if blkdebugCfg != "" {
		cmd += fmt.Sprintf(" blkdebug:%s:%s", blkdebugCfg, q.Filename)
	} else {
		cmd += " " + q.Filename
	}

	return q.runChecked(ctx, cmd)
}

// SnapshotList lists the snapshots recorded in the image.
func (q *QemuImg) SnapshotList(ctx context.Context) (string, error) {
	res, err := q.run(ctx, fmt.Sprintf("%s snapshot -l %s", q.binary, q.Filename))
	if err != nil {
		return "", err
	}
	if !res.Succeeded() {
		return "", errors.Wrapf(terrors.ErrCommandFailed,
			"failed to list snapshots of %s: %s", q.Filename, res.StderrText())
	}
	return res.StdoutText(), nil
}

// SnapshotApply reverts the image to the configured snapshot.
func (q *QemuImg) SnapshotApply(ctx context.Context) error {
	if q.SnapshotTag == "" {
		return errors.Wrap(terrors.ErrMissingSnapshotTag, q.Tag)
	}

	cmd := fmt.Sprintf("%s snapshot -a %s %s", q.binary, q.SnapshotFilename, q.Filename)
	return q.runChecked(ctx, cmd)
}

func (q *QemuImg) runChecked(ctx context.Context, cmdline string) error {
	res, err := q.run(ctx, cmdline)
	if err != nil {
		return err
	}
	if !res.Succeeded() {
		return errors.Wrapf(terrors.ErrCommandFailed, "%s: %s", cmdline, res.StderrText())
	}
	return nil
}

// Info runs qemu-img info on the image and returns its output, empty
// when the image file does not exist.
func (q *QemuImg) Info(ctx context.Context, forceShare bool, output string) (string, error) {
	logger := log.WithFunc("Info").WithField("image", q.Tag)
	logger.Debugf(ctx, "run info command on %s", q.Filename)

	cmd := q.binary + " info"
	if forceShare && q.capForceShare {
		cmd += " -U"
	}
	if q.Params.Get("backing_chain") == "yes" {
		if strings.Contains(q.helpText, "--backing-chain") {
			cmd += " --backing-chain"
		} else {
			logger.Warnf(ctx, "--backing-chain option is not supported")
		}
	}

	if !fileExists(q.Filename) {
		logger.Debugf(ctx, "image file %s not found", q.Filename)
		return "", nil
	}

	cmd += fmt.Sprintf(" %s --output=%s", q.Filename, output)

	res, err := q.run(ctx, cmd)
	if err != nil {
		return "", err
	}
	if !res.Succeeded() {
		return "", errors.Wrapf(terrors.ErrCommandFailed,
			"failed to get info from %s: %s", q.Filename, res.StderrText())
	}

	return res.StdoutText(), nil
}

// ImageFormat extracts the on-disk format from the info report.
func (q *QemuImg) ImageFormat(ctx context.Context) (string, error) {
	info, err := q.Info(ctx, false, "human")
	if err != nil || info == "" {
		return "", err
	}

	m := fileFormatRegex.FindStringSubmatch(info)
	if m == nil {
		return "", errors.Wrapf(terrors.ErrInvalidValue, "no file format in info of %s", q.Filename)
	}
	return m[1], nil
}

// Backup copies the image file aside, into the configured backup dir
// when one is set and next to the image otherwise.
func (q *QemuImg) Backup(ctx context.Context) error {
	dest := q.Filename + ".backup"
	if dir := configs.Conf.BackupDir; dir != "" {
		dest = filepath.Join(dir, filepath.Base(q.Filename)+".backup")
	}

	log.WithFunc("Backup").Infof(ctx, "backing up %s to %s", q.Filename, dest)

	return sh.Copy(q.Filename, dest)
}

// Remove deletes the image file and, afterwards, its secret file.
func (q *QemuImg) Remove(ctx context.Context) error {
	logger := log.WithFunc("Remove").WithField("image", q.Tag)

	if fileExists(q.Filename) {
		if err := sh.Remove(q.Filename); err != nil {
			return errors.Wrap(err, q.Filename)
		}
	} else {
		logger.Debugf(ctx, "image file %s not found", q.Filename)
	}

	if s := q.encryption.KeySecret; s != nil && fileExists(s.Filename) {
		if err := sh.Remove(s.Filename); err != nil {
			return errors.Wrap(err, s.Filename)
		}
	}

	return nil
}

func fileExists(fpth string) bool {
	_, err := os.Stat(fpth)
	return err == nil
}
