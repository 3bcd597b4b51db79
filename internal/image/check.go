package image

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/projecteru2/core/log"

	"github.com/projecteru2/yaimg/pkg/sh"
	"github.com/projecteru2/yaimg/pkg/terrors"
)

// checkableFormats lists the formats qemu-img check understands.
var checkableFormats = []string{"qcow2", "qed"}

// Check verifies image consistency, classifying the tool's exit status:
// 0 passes; 1 stops on internal errors and surfaces as a recoverable
// warning; 2 is data corruption and fatal; 3 is leaked-but-harmless
// clusters, again a warning. A missing file, a non-checkable format or
// a tool without check support skips silently.
//
// With backup_image_on_check_error=yes the image is copied aside before
// the warning or failure is raised.
func (q *QemuImg) Check(ctx context.Context, forceShare bool) error {
	logger := log.WithFunc("Check").WithField("image", q.Tag)
	logger.Debugf(ctx, "checking image file %s", q.Filename)

	switch {
	case !fileExists(q.Filename):
		logger.Debugf(ctx, "image file %s not found, skipping check", q.Filename)
		return nil
	case !isCheckable(q.Format):
		logger.Debugf(ctx, "image format %s is not checkable, skipping check", q.Format)
		return nil
	case !q.SupportCmd(ctx, "check") || !q.SupportCmd(ctx, "info"):
		logger.Debugf(ctx, "skipping image check, lack of support in %s", q.binary)
		return nil
	}

	if _, err := q.Info(ctx, forceShare, "human"); err != nil {
		logger.Error(ctx, err, "error getting info from image")
	}

	values := map[string]string{"image_filename": q.Filename}
	if forceShare && q.capForceShare {
		values["force_share"] = "on"
	}
	if q.encryption.KeySecret != nil {
		values["image_filename"] = fmt.Sprintf("'%s'", GetImageJSON(q.Tag, q.Params, q.RootDir))
	}
	if secrets := q.secretObjects(); len(secrets) > 0 {
		values["secret_object"] = strings.Join(secrets, " ")
	}

	args, err := q.asm.Format(checkCmd, values)
	if err != nil {
		return err
	}

	res, err := q.run(ctx, q.binary+" "+args)
	if err != nil {
		return err
	}

	switch res.ExitCode {
	case 0:
		return nil

	case 1:
		// large chances of a non-fatal problem, though bad data may
		// have been skipped
		q.logCheckOutput(ctx, res.Stdout, res.Stderr)
		q.backupOnCheckError(ctx)
		return errors.Wrapf(terrors.ErrCheckInternal,
			"some bad data in the image may have gone unnoticed (%s)", q.Filename)

	case 2:
		// data corruption for sure
		q.logCheckOutput(ctx, res.Stdout, res.Stderr)
		q.backupOnCheckError(ctx)
		return errors.Wrap(terrors.ErrDataCorruption, q.Filename)

	case 3:
		return errors.Wrapf(terrors.ErrLeakedClusters,
			"no data integrity problem was found though (%s)", q.Filename)

	default:
		return nil
	}
}

func isCheckable(format string) bool {
	for _, f := range checkableFormats {
		if f == format {
			return true
		}
	}
	return false
}

func (q *QemuImg) logCheckOutput(ctx context.Context, stdout, stderr []byte) {
	logger := log.WithFunc("Check").WithField("image", q.Tag)
	for _, line := range strings.Split(strings.TrimSpace(string(stdout)), "\n") {
		if line != "" {
			logger.Warnf(ctx, "[stdout] %s", line)
		}
	}
	for _, line := range strings.Split(strings.TrimSpace(string(stderr)), "\n") {
		if line != "" {
			logger.Warnf(ctx, "[stderr] %s", line)
		}
	}
}

func (q *QemuImg) backupOnCheckError(ctx context.Context) {
	if q.Params.Get("backup_image_on_check_error") != "yes" {
		return
	}
	if err := q.Backup(ctx); err != nil {
		log.WithFunc("Check").Error(ctx, err, "failed to backup image before raising")
	}
}

// Compare diffs two image paths. Exit 0 means equal; exit 1 means the
// images differ, a test-level failure; anything else is a comparison
// error. A tool without compare support returns nothing with a warning.
func (q *QemuImg) Compare(ctx context.Context, image1, image2 string, strictMode, forceShare bool) (res *sh.Result, err error) { //nolint
	logger := log.WithFunc("Compare")

	if !q.SupportCmd(ctx, "compare") {
		logger.Warnf(ctx, "sub-command compare not supported by %s", q.binary)
		return nil, nil
	}

	logger.Infof(ctx, "comparing images %s and %s", image1, image2)

	cmd := q.binary + " compare"
	if forceShare && q.capForceShare {
		cmd += " -U"
	}
	if strictMode {
		cmd += " -s"
	}
	cmd += " " + image1 + " " + image2

	if res, err = q.run(ctx, cmd); err != nil {
		return nil, err
	}

	switch res.ExitCode {
	case 0:
		logger.Infof(ctx, "compared images are equal")
		return res, nil
	case 1:
		return res, errors.Wrapf(terrors.ErrImagesDiffer, "%s vs %s", image1, image2)
	default:
		return res, errors.Wrapf(terrors.ErrCompareFailed, "exit status %d", res.ExitCode)
	}
}
