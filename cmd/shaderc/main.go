// Command shaderc compiles the embedded WGSL shaders to SPIR-V blobs.
//
// Without arguments every embedded source is compiled. Otherwise only the
// named sources are, e.g.
//
//	shaderc -out build double.comp.wgsl
package main

import (
	"flag"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"vulkan-compute-studio/shaders"
)

func init() {
	flag.StringVar(&args.out, "out", ".", "Directory the .spv files are written to")
	flag.BoolVar(&args.verbose, "v", false, "Log every compiled shader")
}

var args struct {
	out     string
	verbose bool
}

func main() {
	flag.Parse()

	if args.verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	names := flag.Args()
	if len(names) == 0 {
		var err error
		names, err = fs.Glob(shaders.Sources, "*.wgsl")
		if err != nil {
			logrus.WithError(err).Error("Failed to list shader sources")
			os.Exit(1)
		}
	}

	for _, name := range names {
		if err := compile(name, args.out); err != nil {
			logrus.WithFields(logrus.Fields{
				"shader": name,
				"error":  err,
			}).Error("Failed to compile shader")
			os.Exit(1)
		}
	}
}

// outputName maps double.comp.wgsl to double.comp.spv.
func outputName(source string) string {
	return strings.TrimSuffix(source, filepath.Ext(source)) + ".spv"
}

func compile(name, dir string) error {
	code, err := shaders.CompileSource(name)
	if err != nil {
		return err
	}
	words, err := shaders.Decode(code)
	if err != nil {
		return errors.Wrap(err, "compiler output")
	}
	bindings, err := shaders.StorageBindings(words)
	if err != nil {
		return errors.Wrap(err, "compiler output")
	}

	path := filepath.Join(dir, outputName(name))
	if err := os.WriteFile(path, code, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}

	logrus.WithFields(logrus.Fields{
		"shader": name,
		"output": path,
		"bytes":  len(code),
	}).Debug("compiled shader")

	for _, b := range bindings {
		logrus.WithFields(logrus.Fields{
			"shader":  name,
			"binding": b.Binding,
			"stride":  b.Stride,
			"length":  b.Length,
			"runtime": b.RuntimeSized(),
		}).Debug("storage binding")
	}
	return nil
}
