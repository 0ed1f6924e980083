package testsupport

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// UpdateGoldenEnv set to a non empty value rewrites golden files instead of
// comparing against them.
const UpdateGoldenEnv = "UPDATE_GOLDEN"

// LoadFixture reads a fixture file relative to the test package directory.
func LoadFixture(t testing.TB, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoErrorf(t, err, "load fixture %s", path)
	return data
}

// LoadFixtureJSON unmarshals a JSON fixture into dest.
func LoadFixtureJSON(t testing.TB, path string, dest any) {
	t.Helper()
	require.NoErrorf(t, json.Unmarshal(LoadFixture(t, path), dest), "decode JSON fixture %s", path)
}

// LoadFixtureYAML unmarshals a YAML fixture into dest.
func LoadFixtureYAML(t testing.TB, path string, dest any) {
	t.Helper()
	require.NoErrorf(t, yaml.Unmarshal(LoadFixture(t, path), dest), "decode YAML fixture %s", path)
}

// LoadReader returns the fixture content as a reader, for loaders that take
// an io.Reader.
func LoadReader(t testing.TB, path string) io.Reader {
	t.Helper()
	return bytes.NewReader(LoadFixture(t, path))
}

// WriteGolden writes data to a golden file, creating its directory.
func WriteGolden(t testing.TB, path string, data []byte) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoErrorf(t, os.WriteFile(path, data, 0o644), "write golden %s", path)
}

// CompareWithGolden compares actual with a golden file. A missing golden file
// is created, and all of them are rewritten when UpdateGoldenEnv is set.
func CompareWithGolden(t testing.TB, path string, actual []byte) {
	t.Helper()

	if os.Getenv(UpdateGoldenEnv) != "" {
		WriteGolden(t, path, actual)
		return
	}

	expected, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		t.Logf("golden file %s does not exist, creating it", path)
		WriteGolden(t, path, actual)
		return
	}
	require.NoErrorf(t, err, "read golden %s", path)
	require.Equalf(t, string(expected), string(actual), "output mismatch for %s", path)
}

// CompareJSONWithGolden marshals actual as indented JSON and compares it with
// a golden file.
func CompareJSONWithGolden(t testing.TB, path string, actual any) {
	t.Helper()

	data, err := json.MarshalIndent(actual, "", "  ")
	require.NoError(t, err)
	CompareWithGolden(t, path, append(data, '\n'))
}

// TempFile writes content to a file in a test scoped directory and returns
// its path.
func TempFile(t testing.TB, name string, content []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

// FixturePath joins filename to the testdata directory.
func FixturePath(filename string) string {
	return filepath.Join("testdata", filename)
}

// GoldenPath joins filename to the testdata/golden directory.
func GoldenPath(filename string) string {
	return filepath.Join("testdata", "golden", filename)
}
