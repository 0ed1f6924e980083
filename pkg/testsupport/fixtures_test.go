package testsupport

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFixture(t *testing.T) {
	path := TempFile(t, "fixture.txt", []byte("test fixture content"))

	assert.Equal(t, "test fixture content", string(LoadFixture(t, path)))

	data, err := io.ReadAll(LoadReader(t, path))
	require.NoError(t, err)
	assert.Equal(t, "test fixture content", string(data))
}

func TestLoadFixtureDecoders(t *testing.T) {
	type fixture struct {
		Name  string   `json:"name" yaml:"name"`
		Value int      `json:"value" yaml:"value"`
		Items []string `json:"items" yaml:"items"`
	}
	want := fixture{Name: "test", Value: 42, Items: []string{"a", "b", "c"}}

	var fromJSON fixture
	LoadFixtureJSON(t, TempFile(t, "f.json", []byte(`{"name":"test","value":42,"items":["a","b","c"]}`)), &fromJSON)
	assert.Equal(t, want, fromJSON)

	var fromYAML fixture
	LoadFixtureYAML(t, TempFile(t, "f.yaml", []byte("name: test\nvalue: 42\nitems: [a, b, c]\n")), &fromYAML)
	assert.Equal(t, want, fromYAML)
}

func TestCompareWithGolden(t *testing.T) {
	t.Setenv(UpdateGoldenEnv, "")
	path := filepath.Join(t.TempDir(), "golden", "out.golden")

	CompareWithGolden(t, path, []byte("first run"))
	data, err := os.ReadFile(path)
	require.NoError(t, err, "missing golden files are created")
	assert.Equal(t, "first run", string(data))

	CompareWithGolden(t, path, []byte("first run"))

	t.Setenv(UpdateGoldenEnv, "1")
	CompareWithGolden(t, path, []byte("second run"))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second run", string(data))
}

func TestCompareJSONWithGolden(t *testing.T) {
	t.Setenv(UpdateGoldenEnv, "")
	path := filepath.Join(t.TempDir(), "out.json")

	CompareJSONWithGolden(t, path, map[string]int{"total": 2})
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"total\": 2\n}\n", string(data))
}

func TestPaths(t *testing.T) {
	assert.Equal(t, filepath.Join("testdata", "config.yaml"), FixturePath("config.yaml"))
	assert.Equal(t, filepath.Join("testdata", "golden", "out.json"), GoldenPath("out.json"))
}

func TestNewRedis(t *testing.T) {
	ctx := context.Background()
	mr, client := NewRedis(t)
	recorder := Record(client)

	require.NoError(t, client.Set(ctx, "k", "v", 0).Err())
	_, err := client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, "idx", "k")
		pipe.Expire(ctx, "k", time.Minute)
		return nil
	})
	require.NoError(t, err)
	_, err = client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Get(ctx, "k")
		return nil
	})
	require.NoError(t, err)

	assert.True(t, mr.Exists("idx"))
	assert.Equal(t, []string{"set"}, recorder.Commands())
	assert.Len(t, recorder.Pipelines(), 2)
	assert.Equal(t, [][]string{{"multi", "sadd", "expire", "exec"}}, recorder.Transactions())
}
