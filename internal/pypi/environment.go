package pypi

import (
	"errors"
	"fmt"

	"github.com/clean-dependency-project/wheelsync/internal/pep425"
)

// Supported environment matrix. Platform lists are ordered
// newest-compatible first so a wheel built for an older baseline is still
// accepted by a newer-baseline environment.
var (
	PythonVersions = []string{"36", "37", "38", "39"}

	OperatingSystems = []string{"linux", "macos", "windows"}

	ABIsByPythonVersion = map[string][]string{
		"36": {"cp36", "cp36m"},
		"37": {"cp37", "cp37m"},
		"38": {"cp38", "cp38m"},
		"39": {"cp39", "cp39m"},
	}

	PlatformsByOS = map[string][]string{
		"linux": {
			"linux_x86_64",
			"manylinux1_x86_64",
			"manylinux2014_x86_64",
			"manylinux2010_x86_64",
		},
		"macos": {
			"macosx_10_6_intel", "macosx_10_6_x86_64",
			"macosx_10_9_intel", "macosx_10_9_x86_64",
			"macosx_10_10_intel", "macosx_10_10_x86_64",
			"macosx_10_11_intel", "macosx_10_11_x86_64",
			"macosx_10_12_intel", "macosx_10_12_x86_64",
			"macosx_10_13_intel", "macosx_10_13_x86_64",
			"macosx_10_14_intel", "macosx_10_14_x86_64",
			"macosx_10_15_intel", "macosx_10_15_x86_64",
		},
		"windows": {
			"win_amd64",
		},
	}
)

var (
	ErrUnsupportedPythonVersion = errors.New("unsupported python version")
	ErrUnsupportedOS            = errors.New("unsupported operating system")
)

// Environment is a target interpreter version and operating system against
// which binary compatibility is evaluated. The ABI and platform tag lists are
// resolved from the supported matrix at construction time.
type Environment struct {
	PythonVersion   string
	OperatingSystem string
	Implementation  string
	ABIs            []string
	Platforms       []string
}

// NewEnvironment builds an Environment for a python version ("38") and
// operating system ("linux", "macos" or "windows"). Both must come from the
// supported matrix.
func NewEnvironment(pythonVersion, operatingSystem string) (*Environment, error) {
	abis, ok := ABIsByPythonVersion[pythonVersion]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedPythonVersion, pythonVersion)
	}
	platforms, ok := PlatformsByOS[operatingSystem]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedOS, operatingSystem)
	}
	return &Environment{
		PythonVersion:   pythonVersion,
		OperatingSystem: operatingSystem,
		Implementation:  "cp",
		ABIs:            abis,
		Platforms:       platforms,
	}, nil
}

// PythonDotVersion returns the dotted form of the python version, e.g. "3.8".
func (e *Environment) PythonDotVersion() string {
	if len(e.PythonVersion) != 2 {
		return e.PythonVersion
	}
	return e.PythonVersion[:1] + "." + e.PythonVersion[1:]
}

// PipOptions returns pip command-line options selecting this environment,
// for an external build or download step.
func (e *Environment) PipOptions() []string {
	opts := []string{
		"--python-version", e.PythonVersion,
		"--implementation", e.Implementation,
	}
	for _, abi := range e.ABIs {
		opts = append(opts, "--abi", abi)
	}
	for _, platform := range e.Platforms {
		opts = append(opts, "--platform", platform)
	}
	return opts
}

// Tags returns every compatibility tag this environment accepts: the
// interpreter-specific tags crossed with the environment's ABIs and
// platforms, the abi3 and none fallbacks, the generic pyXY tags, and the
// py3-none-any wildcard so pure wheels always match.
func (e *Environment) Tags() []pep425.Tag {
	interpreter := e.Implementation + e.PythonVersion
	generics := []string{"py" + e.PythonVersion[:1], "py" + e.PythonVersion}

	var tags []pep425.Tag
	tags = append(tags, pep425.Product([]string{interpreter}, e.ABIs, e.Platforms)...)
	tags = append(tags, pep425.Product([]string{interpreter}, []string{"abi3", "none"}, e.Platforms)...)
	tags = append(tags, pep425.Tag{Python: interpreter, ABI: "none", Platform: "any"})
	for _, py := range generics {
		tags = append(tags, pep425.Product([]string{py}, []string{"none"}, e.Platforms)...)
		tags = append(tags, pep425.Tag{Python: py, ABI: "none", Platform: "any"})
	}
	return tags
}

// String implements fmt.Stringer.
func (e *Environment) String() string {
	return fmt.Sprintf("python %s on %s", e.PythonDotVersion(), e.OperatingSystem)
}
