// Package shaders loads SPIR-V shader blobs and holds the WGSL sources of the
// shaders the programs use.
package shaders

import (
	"embed"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/naga"

	"vulkan-compute-studio/unsafer"
)

//go:generate go run ../cmd/shaderc -out .

// Magic is the first word of every SPIR-V module.
const Magic uint32 = 0x07230203

// Names of the embedded WGSL sources.
const (
	Double   = "double.comp.wgsl"
	Rotate   = "rotate.comp.wgsl"
	Vertex   = "triangle.vert.wgsl"
	Fragment = "triangle.frag.wgsl"
)

// ErrNotSPIRV is returned for blobs which are not SPIR-V modules.
var ErrNotSPIRV = errors.New("not a SPIR-V module")

// Sources embeds the WGSL shader sources. Run `go generate` to compile them
// into .spv blobs.
//
//go:embed *.wgsl
var Sources embed.FS

// Load reads the SPIR-V blob at path and returns it as 32 bit words.
func Load(path string) ([]uint32, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read shader %s", path)
	}

	words, err := Decode(code)
	if err != nil {
		return nil, errors.Wrapf(err, "shader %s", path)
	}
	return words, nil
}

// Decode checks that code is a SPIR-V module and repacks it into words.
func Decode(code []byte) ([]uint32, error) {
	if len(code) < 4 || len(code)%4 != 0 {
		return nil, errors.Wrapf(ErrNotSPIRV, "size %d is not a positive multiple of 4", len(code))
	}

	words := unsafer.RepackUint32(code)
	if words[0] != Magic {
		return nil, errors.Wrapf(ErrNotSPIRV, "bad magic 0x%08x", words[0])
	}
	return words, nil
}

// CompileSource compiles the embedded WGSL source name to SPIR-V bytes.
func CompileSource(name string) ([]byte, error) {
	source, err := Sources.ReadFile(name)
	if err != nil {
		return nil, errors.Wrapf(err, "unknown shader source %s", name)
	}

	code, err := naga.Compile(string(source))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to compile %s", name)
	}
	return code, nil
}

// Compile compiles the embedded WGSL source name and returns the SPIR-V words.
func Compile(name string) ([]uint32, error) {
	code, err := CompileSource(name)
	if err != nil {
		return nil, err
	}
	return Decode(code)
}

// LoadOrCompile loads the blob at path, or compiles the embedded source name
// when path is empty.
func LoadOrCompile(path, name string) ([]uint32, error) {
	if path == "" {
		return Compile(name)
	}
	return Load(path)
}
