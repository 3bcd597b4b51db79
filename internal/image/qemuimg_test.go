package image

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agiledragon/gomonkey/v2"
	"github.com/cockroachdb/errors"
	"github.com/patrickmn/go-cache"

	"github.com/projecteru2/yaimg/pkg/sh"
	shmocks "github.com/projecteru2/yaimg/pkg/sh/mocks"
	"github.com/projecteru2/yaimg/pkg/terrors"
	"github.com/projecteru2/yaimg/pkg/test/assert"
	"github.com/projecteru2/yaimg/pkg/test/mock"
)

const helpAll = "create check convert rebase commit resize amend map measure " +
	"compare snapshot info -U --backing-chain"

func mockShell(t *testing.T) (*shmocks.Shell, func()) {
	shx := &shmocks.Shell{}
	cancel := sh.NewMockShell(shx)
	return shx, func() {
		shx.AssertExpectations(t)
		cancel()
	}
}

func newTestImg(t *testing.T, binary string, params Params, tag string) (*QemuImg, string) {
	helpCache.Set(binary, helpAll, cache.DefaultExpiration)
	params["qemu_img_binary"] = binary

	dir := t.TempDir()
	return New(context.Background(), params, dir, tag), dir
}

func captureRun(shx *shmocks.Shell, captured *string, res *sh.Result) {
	shx.On("Run", mock.Anything, mock.MatchedBy(func(cmd string) bool {
		*captured = cmd
		return true
	})).Return(res, nil).Once()
}

func TestCreatePlainQcow2(t *testing.T) {
	shx, done := mockShell(t)
	defer done()

	q, dir := newTestImg(t, "qemu-img-create", Params{
		"image_name":   "disk0",
		"image_format": "qcow2",
		"image_size":   "1G",
	}, "disk0")

	var captured string
	captureRun(shx, &captured, &sh.Result{})

	filename, res, err := q.Create(context.Background(), false)
	assert.NilErr(t, err)
	assert.NotNil(t, res)
	assert.Equal(t, filepath.Join(dir, "disk0.qcow2"), filename)

	assert.Contains(t, captured, "-f qcow2")
	assert.Contains(t, captured, filename+" 1G")
	assert.NotContains(t, captured, "-b ")
	assert.NotContains(t, captured, "-F ")
	assert.NotContains(t, captured, "--object")
}

func TestCreateEncryptedWithSecretBacking(t *testing.T) {
	shx, done := mockShell(t)
	defer done()

	q, dir := newTestImg(t, "qemu-img-enc", Params{
		"image_name":            "sn",
		"image_format":          "qcow2",
		"image_size":            "20G",
		"image_encryption":      "luks",
		"image_secret":          "top",
		"base_image":            "base",
		"image_name_base":       "base",
		"image_format_base":     "qcow2",
		"image_encryption_base": "luks",
		"image_secret_base":     "bottom",
	}, "sn")

	var captured string
	captureRun(shx, &captured, &sh.Result{})

	_, _, err := q.Create(context.Background(), false)
	assert.NilErr(t, err)

	// the secret-carrying base must be referenced through its json form
	assert.Contains(t, captured, "-b 'json:")
	assert.Contains(t, captured, filepath.Join(dir, "base.qcow2"))
	assert.NotContains(t, captured, "-F ")

	assert.Contains(t, captured, "--object secret,id=sn_encrypt0,data=top")
	assert.Contains(t, captured, "--object secret,id=base_encrypt0,data=bottom")
	assert.Equal(t, 2, strings.Count(captured, "--object"))

	assert.Contains(t, captured, "-o encrypt.key-secret=sn_encrypt0,encrypt.format=luks")

	// the key secret materialized after the successful create
	buf, err := os.ReadFile(filepath.Join(dir, "sn.secret"))
	assert.NilErr(t, err)
	assert.Equal(t, "top", string(buf))
}

func TestCreateWithDD(t *testing.T) {
	shx, done := mockShell(t)
	defer done()

	q, dir := newTestImg(t, "qemu-img-dd", Params{
		"image_name":     "blk",
		"image_format":   "raw",
		"image_size":     "2K",
		"create_with_dd": "yes",
	}, "blk")

	var captured string
	captureRun(shx, &captured, &sh.Result{})

	filename, _, err := q.Create(context.Background(), false)
	assert.NilErr(t, err)
	assert.Equal(t, fmt.Sprintf("dd if=/dev/zero of=%s count=2 bs=1K",
		filepath.Join(dir, "blk.raw")), captured)
	assert.Equal(t, filepath.Join(dir, "blk.raw"), filename)
}

func TestCreateFailure(t *testing.T) {
	shx, done := mockShell(t)
	defer done()

	q, _ := newTestImg(t, "qemu-img-fail", Params{
		"image_name": "disk0",
		"image_size": "1G",
	}, "disk0")

	shx.On("Run", mock.Anything, mock.Anything).
		Return(&sh.Result{ExitCode: 1, Stderr: []byte("boom")}, nil).Twice()

	_, _, err := q.Create(context.Background(), false)
	assert.Err(t, err)
	assert.True(t, terrors.IsCommandFailedErr(err))

	// the same non-zero exit passes through when errors are ignored
	_, res, err := q.Create(context.Background(), true)
	assert.NilErr(t, err)
	assert.Equal(t, 1, res.ExitCode)
}

func TestCreateSurvivesMkdirFailure(t *testing.T) {
	shx, done := mockShell(t)
	defer done()

	helpCache.Set("qemu-img-mkdir", helpAll, cache.DefaultExpiration)
	params := Params{
		"qemu_img_binary": "qemu-img-mkdir",
		"image_name":      "disk0",
		"image_size":      "1G",
	}
	q := New(context.Background(), params, "/nonexistent-yaimg/images", "disk0")

	patch := gomonkey.ApplyFuncReturn(os.MkdirAll, errors.New("permission denied"))
	defer patch.Reset()

	var captured string
	captureRun(shx, &captured, &sh.Result{})

	_, _, err := q.Create(context.Background(), false)
	assert.NilErr(t, err)
}

func TestConvert(t *testing.T) {
	shx, done := mockShell(t)
	defer done()

	q, dir := newTestImg(t, "qemu-img-convert", Params{
		"image_name":   "src",
		"image_format": "qcow2",
	}, "src")

	var captured string
	captureRun(shx, &captured, &sh.Result{})

	tag, err := q.Convert(context.Background(), Params{
		"image_convert":      "dst",
		"convert_name_dst":   "dst",
		"convert_format_dst": "raw",
		"convert_compressed": "yes",
		"sparse_size":        "4k",
		"compat":             "1.1",
		"lazy_refcounts":     "on",
	}, dir, "writeback")
	assert.NilErr(t, err)
	assert.Equal(t, "dst", tag)

	assert.Contains(t, captured, " convert -c -S 4k")
	assert.Contains(t, captured, "-o compat=1.1,lazy_refcounts=on")
	assert.Contains(t, captured, "-f qcow2 -O raw -t writeback")
	assert.Contains(t, captured, filepath.Join(dir, "src.qcow2")+" "+filepath.Join(dir, "dst.raw"))
}

func TestRebase(t *testing.T) {
	shx, done := mockShell(t)
	defer done()

	q, dir := newTestImg(t, "qemu-img-rebase", Params{
		"image_name":        "sn",
		"image_format":      "qcow2",
		"base_image":        "base",
		"image_name_base":   "base",
		"image_format_base": "raw",
		"rebase_mode":       "unsafe",
	}, "sn")

	var captured string
	captureRun(shx, &captured, &sh.Result{})

	tag, err := q.Rebase(context.Background(), "")
	assert.NilErr(t, err)
	assert.Equal(t, "base", tag)
	assert.Contains(t, captured, " rebase -f qcow2 -u -b "+filepath.Join(dir, "base.raw"))
	assert.Contains(t, captured, "-F raw "+filepath.Join(dir, "sn.qcow2"))
}

func TestRebaseOntoNullBase(t *testing.T) {
	shx, done := mockShell(t)
	defer done()

	q, _ := newTestImg(t, "qemu-img-rebase-null", Params{
		"image_name":   "sn",
		"image_format": "qcow2",
		"base_image":   "null",
	}, "sn")

	var captured string
	captureRun(shx, &captured, &sh.Result{})

	tag, err := q.Rebase(context.Background(), "")
	assert.NilErr(t, err)
	assert.Equal(t, "null", tag)
	assert.Contains(t, captured, ` -b "" -F qcow2 `)
}

func TestRebaseWithoutBase(t *testing.T) {
	_, done := mockShell(t)
	defer done()

	q, _ := newTestImg(t, "qemu-img-rebase-miss", Params{
		"image_name": "sn",
	}, "sn")

	_, err := q.Rebase(context.Background(), "")
	assert.Err(t, err)
	assert.True(t, errors.Is(err, terrors.ErrMissingBaseImage))
}

func TestCommit(t *testing.T) {
	shx, done := mockShell(t)
	defer done()

	q, dir := newTestImg(t, "qemu-img-commit", Params{
		"image_name":   "sn",
		"image_format": "qcow2",
	}, "sn")

	var captured string
	captureRun(shx, &captured, &sh.Result{})

	filename, err := q.Commit(context.Background(), "none")
	assert.NilErr(t, err)
	assert.Equal(t, filepath.Join(dir, "sn.qcow2"), filename)
	assert.Contains(t, captured, " commit -t none -f qcow2 "+filename)
}

func TestAmend(t *testing.T) {
	shx, done := mockShell(t)
	defer done()

	q, dir := newTestImg(t, "qemu-img-amend", Params{
		"image_name":   "disk0",
		"image_format": "qcow2",
	}, "disk0")

	var captured string
	captureRun(shx, &captured, &sh.Result{})

	_, err := q.Amend(context.Background(), Params{
		"amend_size":   "20G",
		"amend_compat": "1.1",
	}, "", false)
	assert.NilErr(t, err)
	assert.Contains(t, captured,
		" amend -o size=20G,compat=1.1 -f qcow2 "+filepath.Join(dir, "disk0.qcow2"))
}

func TestAmendExtraParamsMergeBare(t *testing.T) {
	shx, done := mockShell(t)
	defer done()

	q, _ := newTestImg(t, "qemu-img-amend-extra", Params{
		"image_name":   "disk0",
		"image_format": "qcow2",
	}, "disk0")

	var captured string
	captureRun(shx, &captured, &sh.Result{})

	_, err := q.Amend(context.Background(), Params{
		"amend_compat":       "1.1",
		"amend_extra_params": "refcount_bits=16",
	}, "", false)
	assert.NilErr(t, err)
	assert.Contains(t, captured, "-o compat=1.1,refcount_bits=16")
	assert.NotContains(t, captured, "extra_params=")
}

func TestResizeUsesJSONReprWithSecret(t *testing.T) {
	shx, done := mockShell(t)
	defer done()

	q, dir := newTestImg(t, "qemu-img-resize", Params{
		"image_name":       "enc",
		"image_format":     "qcow2",
		"image_encryption": "luks",
		"image_secret":     "redhat",
	}, "enc")

	var captured string
	captureRun(shx, &captured, &sh.Result{})

	res, err := q.Resize(context.Background(), "+1G", false, "")
	assert.NilErr(t, err)
	assert.True(t, res.Succeeded())

	assert.Contains(t, captured, "--object secret,id=enc_encrypt0,data=redhat")
	assert.Contains(t, captured, "'json:")
	assert.NotContains(t, captured, " "+filepath.Join(dir, "enc.qcow2")+" ")
	assert.Contains(t, captured, " +1G")
}

func TestResizeReportsNonZeroWithoutError(t *testing.T) {
	shx, done := mockShell(t)
	defer done()

	q, _ := newTestImg(t, "qemu-img-resize-fail", Params{
		"image_name": "disk0",
	}, "disk0")

	shx.On("Run", mock.Anything, mock.Anything).
		Return(&sh.Result{ExitCode: 1, Stderr: []byte("no space")}, nil).Once()

	res, err := q.Resize(context.Background(), "-1G", true, "full")
	assert.NilErr(t, err)
	assert.Equal(t, 1, res.ExitCode)
}

func TestResizeShrinkAndPreallocation(t *testing.T) {
	shx, done := mockShell(t)
	defer done()

	q, _ := newTestImg(t, "qemu-img-resize-opts", Params{
		"image_name": "disk0",
	}, "disk0")

	var captured string
	captureRun(shx, &captured, &sh.Result{})

	_, err := q.Resize(context.Background(), "-1G", true, "full")
	assert.NilErr(t, err)
	assert.Contains(t, captured, "--shrink")
	assert.Contains(t, captured, "--preallocation full")
}

func TestMapAndMeasure(t *testing.T) {
	shx, done := mockShell(t)
	defer done()

	q, dir := newTestImg(t, "qemu-img-map", Params{
		"image_name":   "disk0",
		"image_format": "qcow2",
	}, "disk0")

	filename := filepath.Join(dir, "disk0.qcow2")

	shx.On("Run", mock.Anything, "qemu-img-map map --output=json "+filename).
		Return(&sh.Result{}, nil).Once()
	_, err := q.Map(context.Background(), "json")
	assert.NilErr(t, err)

	shx.On("Run", mock.Anything, "qemu-img-map measure --output=human -O raw --size 10G").
		Return(&sh.Result{}, nil).Once()
	_, err = q.Measure(context.Background(), "raw", "10G", "human")
	assert.NilErr(t, err)

	shx.On("Run", mock.Anything, "qemu-img-map measure --output=human -O raw -f qcow2 "+filename).
		Return(&sh.Result{}, nil).Once()
	_, err = q.Measure(context.Background(), "raw", "", "human")
	assert.NilErr(t, err)
}

func TestSnapshotOps(t *testing.T) {
	shx, done := mockShell(t)
	defer done()

	q, dir := newTestImg(t, "qemu-img-snap", Params{
		"image_name":         "disk0",
		"image_format":       "qcow2",
		"snapshot_image":     "snap1",
		"image_name_snap1":   "snap1",
		"image_format_snap1": "qcow2",
	}, "disk0")

	filename := filepath.Join(dir, "disk0.qcow2")
	snapFilename := filepath.Join(dir, "snap1.qcow2")

	shx.On("Run", mock.Anything,
		fmt.Sprintf("qemu-img-snap snapshot -c %s %s", snapFilename, filename)).
		Return(&sh.Result{}, nil).Once()
	tag, err := q.SnapshotCreate(context.Background())
	assert.NilErr(t, err)
	assert.Equal(t, "snap1", tag)

	shx.On("Run", mock.Anything,
		fmt.Sprintf("qemu-img-snap snapshot -d %s blkdebug:/tmp/blk.cfg:%s", snapFilename, filename)).
		Return(&sh.Result{}, nil).Once()
	assert.NilErr(t, q.SnapshotDelete(context.Background(), "/tmp/blk.cfg"))

	shx.On("Run", mock.Anything,
		fmt.Sprintf("qemu-img-snap snapshot -l %s", filename)).
		Return(&sh.Result{Stdout: []byte("Snapshot list:\n")}, nil).Once()
	out, err := q.SnapshotList(context.Background())
	assert.NilErr(t, err)
	assert.Equal(t, "Snapshot list:", out)

	shx.On("Run", mock.Anything,
		fmt.Sprintf("qemu-img-snap snapshot -a %s %s", snapFilename, filename)).
		Return(&sh.Result{}, nil).Once()
	assert.NilErr(t, q.SnapshotApply(context.Background()))
}

func TestSnapshotOpsWithoutTag(t *testing.T) {
	_, done := mockShell(t)
	defer done()

	q, _ := newTestImg(t, "qemu-img-snap-miss", Params{
		"image_name": "disk0",
	}, "disk0")

	_, err := q.SnapshotCreate(context.Background())
	assert.True(t, errors.Is(err, terrors.ErrMissingSnapshotTag))
	assert.True(t, errors.Is(q.SnapshotDelete(context.Background(), ""), terrors.ErrMissingSnapshotTag))
	assert.True(t, errors.Is(q.SnapshotApply(context.Background()), terrors.ErrMissingSnapshotTag))
}

func TestInfoSkipsMissingFile(t *testing.T) {
	_, done := mockShell(t)
	defer done()

	q, _ := newTestImg(t, "qemu-img-info-miss", Params{
		"image_name": "ghost",
	}, "ghost")

	out, err := q.Info(context.Background(), false, "human")
	assert.NilErr(t, err)
	assert.Equal(t, "", out)
}

func TestInfoBackingChainAndForceShare(t *testing.T) {
	shx, done := mockShell(t)
	defer done()

	q, dir := newTestImg(t, "qemu-img-info", Params{
		"image_name":    "disk0",
		"image_format":  "qcow2",
		"backing_chain": "yes",
	}, "disk0")

	filename := filepath.Join(dir, "disk0.qcow2")
	assert.NilErr(t, os.WriteFile(filename, []byte("x"), 0644))

	shx.On("Run", mock.Anything,
		"qemu-img-info info -U --backing-chain "+filename+" --output=human").
		Return(&sh.Result{Stdout: []byte("file format: qcow2\n")}, nil).Once()

	out, err := q.Info(context.Background(), true, "human")
	assert.NilErr(t, err)
	assert.Contains(t, out, "file format: qcow2")
}

func TestImageFormat(t *testing.T) {
	shx, done := mockShell(t)
	defer done()

	q, dir := newTestImg(t, "qemu-img-fmt", Params{
		"image_name":   "disk0",
		"image_format": "qcow2",
	}, "disk0")

	filename := filepath.Join(dir, "disk0.qcow2")
	assert.NilErr(t, os.WriteFile(filename, []byte("x"), 0644))

	shx.On("Run", mock.Anything, mock.Anything).
		Return(&sh.Result{Stdout: []byte("image: disk0\nfile format: qcow2\n")}, nil).Once()

	format, err := q.ImageFormat(context.Background())
	assert.NilErr(t, err)
	assert.Equal(t, "qcow2", format)
}

func TestRemoveDeletesSecretAfterImage(t *testing.T) {
	shx, done := mockShell(t)
	defer done()

	q, dir := newTestImg(t, "qemu-img-rm", Params{
		"image_name":       "enc",
		"image_format":     "qcow2",
		"image_encryption": "luks",
		"image_secret":     "redhat",
	}, "enc")

	filename := filepath.Join(dir, "enc.qcow2")
	secretFilename := filepath.Join(dir, "enc.secret")
	assert.NilErr(t, os.WriteFile(filename, []byte("x"), 0644))
	assert.NilErr(t, os.WriteFile(secretFilename, []byte("redhat"), 0600))

	var order []string
	shx.On("Remove", filename).Run(func(args mock.Arguments) {
		order = append(order, "image")
	}).Return(nil).Once()
	shx.On("Remove", secretFilename).Run(func(args mock.Arguments) {
		order = append(order, "secret")
	}).Return(nil).Once()

	assert.NilErr(t, q.Remove(context.Background()))
	assert.Equal(t, []string{"image", "secret"}, order)
}

func TestSupportCmd(t *testing.T) {
	_, done := mockShell(t)
	defer done()

	helpCache.Set("qemu-img-old", "create info", cache.DefaultExpiration)
	q := New(context.Background(), Params{
		"qemu_img_binary": "qemu-img-old",
		"image_name":      "disk0",
	}, t.TempDir(), "disk0")

	assert.True(t, q.SupportCmd(context.Background(), "create"))
	assert.False(t, q.SupportCmd(context.Background(), "measure"))
	assert.False(t, q.capForceShare)
}
