package image

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/urfave/cli/v2"

	"github.com/projecteru2/yaimg/cmd/run"
	"github.com/projecteru2/yaimg/internal/image"
	"github.com/projecteru2/yaimg/pkg/utils"
)

// Command .
func Command() *cli.Command {
	return &cli.Command{
		Name: "image",
		Subcommands: []*cli.Command{
			{
				Name:      "create",
				ArgsUsage: "<tag>",
				Flags:     createFlags(),
				Action:    run.Run(create),
			},
			{
				Name:      "info",
				ArgsUsage: "<tag>",
				Flags:     infoFlags(),
				Action:    run.Run(info),
			},
			{
				Name:      "check",
				ArgsUsage: "<tag>",
				Flags:     checkFlags(),
				Action:    run.Run(check),
			},
			{
				Name:      "resize",
				ArgsUsage: "<tag> <size>",
				Flags:     resizeFlags(),
				Action:    run.Run(resize),
			},
			{
				Name:      "convert",
				ArgsUsage: "<tag> <target>",
				Flags:     convertFlags(),
				Action:    run.Run(convert),
			},
			{
				Name:      "rebase",
				ArgsUsage: "<tag>",
				Flags:     rebaseFlags(),
				Action:    run.Run(rebase),
			},
			{
				Name:      "commit",
				ArgsUsage: "<tag>",
				Flags:     cacheModeFlags(),
				Action:    run.Run(commit),
			},
			{
				Name:      "amend",
				ArgsUsage: "<tag>",
				Flags:     amendFlags(),
				Action:    run.Run(amend),
			},
			{
				Name:      "map",
				ArgsUsage: "<tag>",
				Flags:     outputFlags(),
				Action:    run.Run(mapCmd),
			},
			{
				Name:      "measure",
				ArgsUsage: "<tag>",
				Flags:     measureFlags(),
				Action:    run.Run(measure),
			},
			{
				Name:      "compare",
				ArgsUsage: "<path1> <path2>",
				Flags:     compareFlags(),
				Action:    run.Run(compare),
			},
			{
				Name:      "snapshot",
				ArgsUsage: "<tag>",
				Flags:     snapshotFlags(),
				Action:    run.Run(snapshot),
			},
			{
				Name:      "backup",
				ArgsUsage: "<tag>",
				Flags:     commonFlags(),
				Action:    run.Run(backup),
			},
			{
				Name:      "rm",
				ArgsUsage: "<tag>",
				Flags:     commonFlags(),
				Action:    run.Run(rm),
			},
		},
	}
}

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "format",
			Usage: "image format",
			Value: "qcow2",
		},
		&cli.StringFlag{
			Name:  "encryption",
			Usage: "encryption format, luks or off",
		},
		&cli.StringFlag{
			Name:  "secret",
			Usage: "key secret of the image",
		},
	}
}

func createFlags() []cli.Flag {
	return append(commonFlags(),
		&cli.StringFlag{
			Name:  "size",
			Usage: "virtual size, for example 10G",
		},
		&cli.StringFlag{
			Name:  "base",
			Usage: "backing image tag",
		},
		&cli.StringFlag{
			Name:  "base-format",
			Usage: "backing image format",
		},
		&cli.StringFlag{
			Name:  "base-secret",
			Usage: "key secret of the backing image",
		},
		&cli.StringFlag{
			Name:  "preallocation",
			Usage: "preallocation mode",
		},
		&cli.StringFlag{
			Name:  "cluster-size",
			Usage: "cluster size of the image",
		},
		&cli.StringFlag{
			Name:  "extra-options",
			Usage: "extra raw -o options, comma separated",
		},
		&cli.BoolFlag{
			Name:  "with-dd",
			Usage: "fill a raw image through dd instead",
		},
	)
}

func infoFlags() []cli.Flag {
	return append(commonFlags(),
		&cli.BoolFlag{Name: "backing-chain"},
		&cli.BoolFlag{Name: "force-share"},
		&cli.StringFlag{Name: "output", Value: "human"},
	)
}

func checkFlags() []cli.Flag {
	return append(commonFlags(),
		&cli.BoolFlag{Name: "force-share"},
		&cli.BoolFlag{
			Name:  "backup-on-error",
			Usage: "copy the image aside before reporting a check failure",
		},
	)
}

func resizeFlags() []cli.Flag {
	return append(commonFlags(),
		&cli.BoolFlag{Name: "shrink"},
		&cli.StringFlag{Name: "preallocation"},
	)
}

func convertFlags() []cli.Flag {
	return append(cacheModeFlags(),
		&cli.StringFlag{
			Name:  "target-format",
			Value: "qcow2",
		},
		&cli.BoolFlag{Name: "compressed"},
		&cli.StringFlag{Name: "sparse-size"},
	)
}

func rebaseFlags() []cli.Flag {
	return append(cacheModeFlags(),
		&cli.StringFlag{
			Name:  "base",
			Usage: `new backing image tag, "null" clears the chain`,
		},
		&cli.StringFlag{Name: "base-format"},
		&cli.BoolFlag{
			Name:  "unsafe",
			Usage: "rewrite the header without validating the new chain",
		},
	)
}

func cacheModeFlags() []cli.Flag {
	return append(commonFlags(),
		&cli.StringFlag{
			Name:  "cache-mode",
			Usage: "host cache mode, for example none or writeback",
		},
	)
}

func amendFlags() []cli.Flag {
	return append(commonFlags(),
		&cli.StringSliceFlag{
			Name:  "option",
			Usage: "format option to amend, key=value",
		},
	)
}

func outputFlags() []cli.Flag {
	return append(commonFlags(),
		&cli.StringFlag{Name: "output", Value: "human"},
	)
}

func measureFlags() []cli.Flag {
	return append(outputFlags(),
		&cli.StringFlag{
			Name:  "target-format",
			Value: "qcow2",
		},
		&cli.StringFlag{
			Name:  "size",
			Usage: "measure this virtual size instead of the image",
		},
	)
}

func compareFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{Name: "strict"},
		&cli.BoolFlag{Name: "force-share"},
	}
}

func snapshotFlags() []cli.Flag {
	return append(commonFlags(),
		&cli.StringFlag{
			Name:  "snap",
			Usage: "snapshot image tag",
		},
		&cli.StringFlag{
			Name:  "op",
			Usage: "one of create, delete, list, apply",
			Value: "list",
		},
		&cli.StringFlag{
			Name:  "blkdebug-config",
			Usage: "address the image through blkdebug on delete",
		},
	)
}

func imageParams(c *cli.Context, tag string) image.Params {
	params := image.Params{
		"image_name":   tag,
		"image_format": c.String("format"),
	}
	if enc := c.String("encryption"); enc != "" {
		params["image_encryption"] = enc
	}
	if secret := c.String("secret"); secret != "" {
		params["image_secret"] = secret
	}
	return params
}

func tagArg(c *cli.Context) (string, error) {
	tag := c.Args().First()
	if tag == "" {
		return "", errors.New("image tag is required")
	}
	return tag, nil
}

func create(c *cli.Context, runtime run.Runtime) error {
	tag, err := tagArg(c)
	if err != nil {
		return err
	}

	params := imageParams(c, tag)

	if size := c.String("size"); size != "" {
		if _, err := utils.ParseSize(size); err != nil {
			return errors.Wrapf(err, "invalid size %s", size)
		}
		params["image_size"] = size
	}
	if base := c.String("base"); base != "" {
		params["base_image"] = base
		params["image_name_"+base] = base
		if format := c.String("base-format"); format != "" {
			params["image_format_"+base] = format
		}
		if secret := c.String("base-secret"); secret != "" {
			params["image_secret_"+base] = secret
		}
	}
	if prealloc := c.String("preallocation"); prealloc != "" {
		params["preallocated"] = prealloc
	}
	if cluster := c.String("cluster-size"); cluster != "" {
		params["image_cluster_size"] = cluster
	}
	if extra := c.String("extra-options"); extra != "" {
		params["image_extra_params"] = extra
	}
	if c.Bool("with-dd") {
		params["create_with_dd"] = "yes"
	}

	filename, _, err := image.New(c.Context, params, runtime.RootDir, tag).Create(c.Context, false)
	if err != nil {
		return err
	}

	fmt.Printf("image %s created at %s\n", tag, filename)
	return nil
}

func info(c *cli.Context, runtime run.Runtime) error {
	tag, err := tagArg(c)
	if err != nil {
		return err
	}

	params := imageParams(c, tag)
	if c.Bool("backing-chain") {
		params["backing_chain"] = "yes"
	}

	out, err := image.New(c.Context, params, runtime.RootDir, tag).
		Info(c.Context, c.Bool("force-share"), c.String("output"))
	if err != nil {
		return err
	}
	if out == "" {
		return errors.Newf("image %s not found under %s", tag, runtime.RootDir)
	}

	fmt.Println(out)
	return nil
}

func check(c *cli.Context, runtime run.Runtime) error {
	tag, err := tagArg(c)
	if err != nil {
		return err
	}

	params := imageParams(c, tag)
	if c.Bool("backup-on-error") {
		params["backup_image_on_check_error"] = "yes"
	}

	if err := image.New(c.Context, params, runtime.RootDir, tag).
		Check(c.Context, c.Bool("force-share")); err != nil {
		return err
	}

	fmt.Printf("image %s passed the consistency check\n", tag)
	return nil
}

func resize(c *cli.Context, runtime run.Runtime) error {
	tag, err := tagArg(c)
	if err != nil {
		return err
	}
	size := c.Args().Get(1)
	if size == "" {
		return errors.New("size is required")
	}
	if _, err := utils.ParseSize(strings.TrimLeft(size, "+-")); err != nil {
		return errors.Wrapf(err, "invalid size %s", size)
	}

	res, err := image.New(c.Context, imageParams(c, tag), runtime.RootDir, tag).
		Resize(c.Context, size, c.Bool("shrink"), c.String("preallocation"))
	if err != nil {
		return err
	}
	if !res.Succeeded() {
		return errors.Newf("resize exited %d: %s", res.ExitCode, res.StderrText())
	}

	fmt.Printf("image %s resized to %s\n", tag, size)
	return nil
}

func convert(c *cli.Context, runtime run.Runtime) error {
	tag, err := tagArg(c)
	if err != nil {
		return err
	}
	target := c.Args().Get(1)
	if target == "" {
		return errors.New("target image tag is required")
	}

	params := imageParams(c, tag)
	params["image_convert"] = target
	params["convert_name_"+target] = target
	params["convert_format_"+target] = c.String("target-format")
	if c.Bool("compressed") {
		params["convert_compressed"] = "yes"
	}
	if sparse := c.String("sparse-size"); sparse != "" {
		params["sparse_size"] = sparse
	}

	converted, err := image.New(c.Context, params, runtime.RootDir, tag).
		Convert(c.Context, params, runtime.RootDir, c.String("cache-mode"))
	if err != nil {
		return err
	}

	fmt.Printf("image %s converted to %s\n", tag, converted)
	return nil
}

func rebase(c *cli.Context, runtime run.Runtime) error {
	tag, err := tagArg(c)
	if err != nil {
		return err
	}

	params := imageParams(c, tag)
	if base := c.String("base"); base != "" {
		params["base_image"] = base
		params["image_name_"+base] = base
		if format := c.String("base-format"); format != "" {
			params["image_format_"+base] = format
		}
	}
	if c.Bool("unsafe") {
		params["rebase_mode"] = "unsafe"
	}

	base, err := image.New(c.Context, params, runtime.RootDir, tag).
		Rebase(c.Context, c.String("cache-mode"))
	if err != nil {
		return err
	}

	fmt.Printf("image %s rebased onto %s\n", tag, base)
	return nil
}

func commit(c *cli.Context, runtime run.Runtime) error {
	tag, err := tagArg(c)
	if err != nil {
		return err
	}

	filename, err := image.New(c.Context, imageParams(c, tag), runtime.RootDir, tag).
		Commit(c.Context, c.String("cache-mode"))
	if err != nil {
		return err
	}

	fmt.Printf("image %s committed into its backing file (%s)\n", tag, filename)
	return nil
}

func amend(c *cli.Context, runtime run.Runtime) error {
	tag, err := tagArg(c)
	if err != nil {
		return err
	}

	amendParams := image.Params{}
	for _, opt := range c.StringSlice("option") {
		key, value, ok := strings.Cut(opt, "=")
		if !ok {
			return errors.Newf("invalid option %q, expect key=value", opt)
		}
		amendParams["amend_"+key] = value
	}
	if len(amendParams) == 0 {
		return errors.New("at least one --option is required")
	}

	if _, err := image.New(c.Context, imageParams(c, tag), runtime.RootDir, tag).
		Amend(c.Context, amendParams, "", false); err != nil {
		return err
	}

	fmt.Printf("image %s amended\n", tag)
	return nil
}

func mapCmd(c *cli.Context, runtime run.Runtime) error {
	tag, err := tagArg(c)
	if err != nil {
		return err
	}

	res, err := image.New(c.Context, imageParams(c, tag), runtime.RootDir, tag).
		Map(c.Context, c.String("output"))
	if err != nil {
		return err
	}
	if !res.Succeeded() {
		return errors.Newf("map exited %d: %s", res.ExitCode, res.StderrText())
	}

	fmt.Println(res.StdoutText())
	return nil
}

func measure(c *cli.Context, runtime run.Runtime) error {
	tag, err := tagArg(c)
	if err != nil {
		return err
	}

	res, err := image.New(c.Context, imageParams(c, tag), runtime.RootDir, tag).
		Measure(c.Context, c.String("target-format"), c.String("size"), c.String("output"))
	if err != nil {
		return err
	}
	if !res.Succeeded() {
		return errors.Newf("measure exited %d: %s", res.ExitCode, res.StderrText())
	}

	fmt.Println(res.StdoutText())
	return nil
}

func compare(c *cli.Context, runtime run.Runtime) error {
	path1, path2 := c.Args().Get(0), c.Args().Get(1)
	if path1 == "" || path2 == "" {
		return errors.New("two image paths are required")
	}

	res, err := image.New(c.Context, image.Params{}, runtime.RootDir, "compare").
		Compare(c.Context, path1, path2, c.Bool("strict"), c.Bool("force-share"))
	if err != nil {
		return err
	}
	if res == nil {
		return errors.New("compare is not supported by the configured binary")
	}

	fmt.Println("images are identical")
	return nil
}

func snapshot(c *cli.Context, runtime run.Runtime) error {
	tag, err := tagArg(c)
	if err != nil {
		return err
	}

	params := imageParams(c, tag)
	if snap := c.String("snap"); snap != "" {
		params["snapshot_image"] = snap
		params["image_name_"+snap] = snap
	}

	img := image.New(c.Context, params, runtime.RootDir, tag)

	switch op := c.String("op"); op {
	case "create":
		snap, err := img.SnapshotCreate(c.Context)
		if err != nil {
			return err
		}
		fmt.Printf("snapshot %s created\n", snap)
		return nil

	case "delete":
		return img.SnapshotDelete(c.Context, c.String("blkdebug-config"))

	case "apply":
		return img.SnapshotApply(c.Context)

	case "list":
		out, err := img.SnapshotList(c.Context)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil

	default:
		return errors.Newf("unknown snapshot op %q", op)
	}
}

func backup(c *cli.Context, runtime run.Runtime) error {
	tag, err := tagArg(c)
	if err != nil {
		return err
	}
	return image.New(c.Context, imageParams(c, tag), runtime.RootDir, tag).Backup(c.Context)
}

func rm(c *cli.Context, runtime run.Runtime) error {
	tag, err := tagArg(c)
	if err != nil {
		return err
	}

	if err := image.New(c.Context, imageParams(c, tag), runtime.RootDir, tag).
		Remove(c.Context); err != nil {
		return err
	}

	fmt.Printf("image %s removed\n", tag)
	return nil
}
