package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		goos, goarch string
		wantOS       string
		wantArch     string
		wantSuffix   string
		wantAsset    string
	}{
		{"linux", "amd64", "linux", "amd64", "", "csvlinter-linux-amd64.tar.gz"},
		{"linux", "arm64", "linux", "arm64", "", "csvlinter-linux-arm64.tar.gz"},
		{"darwin", "arm64", "darwin", "arm64", "", "csvlinter-darwin-arm64.tar.gz"},
		{"darwin", "x64", "darwin", "amd64", "", "csvlinter-darwin-amd64.tar.gz"},
		{"windows", "amd64", "windows", "amd64", ".exe", "csvlinter-windows-amd64.tar.gz"},
		{"win32", "x64", "windows", "amd64", ".exe", "csvlinter-windows-amd64.tar.gz"},
	}

	for _, tt := range tests {
		t.Run(tt.goos+"/"+tt.goarch, func(t *testing.T) {
			got, err := Resolve(tt.goos, tt.goarch)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOS, got.OS)
			assert.Equal(t, tt.wantArch, got.Arch)
			assert.Equal(t, tt.wantSuffix, got.ExeSuffix)
			assert.Equal(t, tt.wantAsset, got.AssetName("csvlinter"))
			assert.Equal(t, "csvlinter"+tt.wantSuffix, got.BinaryName("csvlinter"))
		})
	}
}

func TestResolve_UnsupportedArch(t *testing.T) {
	for _, arch := range []string{"386", "ia32", "riscv64", "ppc64le", ""} {
		_, err := Resolve("linux", arch)
		assert.ErrorIs(t, err, ErrUnsupportedPlatform, "arch %q", arch)
	}
}
