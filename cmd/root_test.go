package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

const memoryConfig = `
storage:
  backend: memory
  bucket: news-images
db:
  driver: memory
`

func TestClassifyCommand(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, memoryConfig)
	out, err := execute(t, "--config", path, "classify", "mehrnews", "ورزشی")
	require.NoError(t, err)
	require.Equal(t, "sports\tورزشی\n", out)
}

func TestPresignCommand(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, memoryConfig)
	out, err := execute(t, "--config", path, "presign", "mehrnews/2025/12/30/abc.jpg", "--ttl", "10m")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "memory://news-images/mehrnews/2025/12/30/abc.jpg?"), out)
	require.Contains(t, out, "X-Amz-Expires=600")
}

func TestPresignCommandDefaultsToConfiguredTTL(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
storage:
  backend: memory
  bucket: news-images
  presign_ttl: 30m
db:
  driver: memory
`)
	out, err := execute(t, "--config", path, "presign", "s3://news-images/mehrnews/2025/12/30/abc.jpg")
	require.NoError(t, err)
	require.Contains(t, out, "X-Amz-Expires=1800")
}

func TestMigrateAndSourcesCommands(t *testing.T) {
	t.Parallel()

	dsn := "file:" + filepath.Join(t.TempDir(), "news.db")
	path := writeConfig(t, `
storage:
  backend: memory
db:
  driver: sqlite
  dsn: `+dsn+`
`)
	out, err := execute(t, "--config", path, "migrate")
	require.NoError(t, err)
	require.Contains(t, out, "schema applied (sqlite: news, news_sources)")

	out, err = execute(t, "--config", path, "sources", "list")
	require.NoError(t, err)
	require.Contains(t, out, "NAME")

	_, err = execute(t, "--config", path, "sources", "enable", "missing")
	require.Error(t, err)
}

func TestInvalidConfigFails(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
storage:
  backend: s3
db:
  driver: memory
`)
	_, err := execute(t, "--config", path, "classify", "a", "b")
	require.ErrorContains(t, err, "access_key")
}
