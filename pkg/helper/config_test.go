package helper

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetCfgPath(t *testing.T) {
	assert.Panics(t, func() { GetCfgPath("") })

	abs := "/tmp/hostlink.yaml"
	assert.Equal(t, abs, GetCfgPath(abs))

	old, _ := os.Getwd()
	t.Cleanup(func() { _ = os.Chdir(old) })
	tmp := t.TempDir()
	_ = os.Chdir(tmp)

	name := "hostlink.yaml"
	assert.NoError(t, os.WriteFile(name, []byte("x"), 0o644))
	exp, _ := filepath.EvalSymlinks(filepath.Join(tmp, name))
	got, _ := filepath.EvalSymlinks(GetCfgPath(name))
	assert.Equal(t, exp, got)

	_ = os.Remove(filepath.Join(tmp, name))
	_ = os.MkdirAll("configs", 0o755)
	assert.NoError(t, os.WriteFile(filepath.Join("configs", name), []byte("x"), 0o644))
	exp, _ = filepath.EvalSymlinks(filepath.Join(tmp, "configs", name))
	got, _ = filepath.EvalSymlinks(GetCfgPath(name))
	assert.Equal(t, exp, got)

	_ = os.Remove(filepath.Join(tmp, "configs", name))
	assert.Equal(t, filepath.Join(SystemConfigDir, name), GetCfgPath(name))
}
