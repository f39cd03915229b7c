package mxtool

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConf(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mx.conf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestConfigParsesKeyValueLines(t *testing.T) {
	path := writeConf(t, "java_home=/opt/jdk6\n\n# a comment\nmirror = \"https://mirror.example.org/\"\n")

	cfg := newConfig()
	require.NoError(t, cfg.LoadFile(path, true))

	assert.Equal(t, "/opt/jdk6", cfg.Values["java_home"])
	assert.Equal(t, "https://mirror.example.org/", cfg.Values["mirror"])
	assert.NotContains(t, cfg.Values, "# a comment")
}

func TestConfigCaseFoldsKeys(t *testing.T) {
	path := writeConf(t, "JAVA_HOME=/opt/jdk7\nJava_Trace=2\n")

	cfg := newConfig()
	require.NoError(t, cfg.LoadFile(path, true))

	assert.Equal(t, "/opt/jdk7", cfg.Values["java_home"])
	assert.Equal(t, "2", cfg.Values["java_trace"])
}

func TestConfigExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("MX_TEST_ROOT", "/srv/jdks")
	path := writeConf(t, "java_home=$MX_TEST_ROOT/jdk6\n")

	cfg := newConfig()
	require.NoError(t, cfg.LoadFile(path, true))

	assert.Equal(t, "/srv/jdks/jdk6", cfg.Values["java_home"])
}

func TestConfigOverrideModes(t *testing.T) {
	first := writeConf(t, "java_home=/opt/jdk7\n")
	second := writeConf(t, "java_home=/opt/jdk6\njava_trace=3\n")

	cfg := newConfig()
	require.NoError(t, cfg.LoadFile(first, true))

	// override=false leaves the already-set value untouched but fills gaps.
	require.NoError(t, cfg.LoadFile(second, false))
	assert.Equal(t, "/opt/jdk7", cfg.Values["java_home"])
	assert.Equal(t, "3", cfg.Values["java_trace"])

	// override=true replaces it.
	require.NoError(t, cfg.LoadFile(second, true))
	assert.Equal(t, "/opt/jdk6", cfg.Values["java_home"])
}

func TestConfigMissingFileIsNotAnError(t *testing.T) {
	cfg := newConfig()
	require.NoError(t, cfg.LoadFile(filepath.Join(t.TempDir(), "absent.conf"), true))
	assert.Empty(t, cfg.Values)
}

func TestMergeEnvOverrides(t *testing.T) {
	t.Setenv("MX_JAVA_HOME", "/env/jdk")

	cfg := newConfig()
	cfg.Values["java_home"] = "/conf/jdk"
	mergeEnvOverrides(cfg)

	assert.Equal(t, "/env/jdk", cfg.Values["java_home"])
}
