// Package platform maps the running OS/architecture onto csvlinter's
// release-asset naming convention.
package platform

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrUnsupportedPlatform is returned for architectures csvlinter does not ship.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

// Target identifies the release flavour for one OS/arch pair.
type Target struct {
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	ExeSuffix string `json:"exe_suffix,omitempty"`
}

// archTags is closed: anything not listed is unsupported.
var archTags = map[string]string{
	"amd64": "amd64",
	"x64":   "amd64",
	"arm64": "arm64",
}

// Resolve maps an OS and architecture identifier to a Target.
func Resolve(goos, goarch string) (Target, error) {
	arch, ok := archTags[goarch]
	if !ok {
		return Target{}, fmt.Errorf("%w: architecture %q", ErrUnsupportedPlatform, goarch)
	}

	osTag := goos
	if goos == "win32" {
		osTag = "windows"
	}

	t := Target{OS: osTag, Arch: arch}
	if osTag == "windows" {
		t.ExeSuffix = ".exe"
	}
	return t, nil
}

// Current resolves the platform this process runs on.
func Current() (Target, error) {
	return Resolve(runtime.GOOS, runtime.GOARCH)
}

// IsWindows reports whether the target uses Windows conventions.
func (t Target) IsWindows() bool {
	return t.OS == "windows"
}

// AssetName returns the release asset file name, e.g. csvlinter-linux-amd64.tar.gz.
func (t Target) AssetName(tool string) string {
	return fmt.Sprintf("%s-%s-%s.tar.gz", tool, t.OS, t.Arch)
}

// BinaryName returns the executable file name on this platform.
func (t Target) BinaryName(tool string) string {
	return tool + t.ExeSuffix
}

func (t Target) String() string {
	return t.OS + "/" + t.Arch
}
