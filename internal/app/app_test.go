package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cliflag "k8s.io/component-base/cli/flag"
)

type noopOptions struct{}

func (noopOptions) Flags() cliflag.NamedFlagSets { return cliflag.NamedFlagSets{} }
func (noopOptions) Validate() []error            { return nil }

var _ NamedFlagSetOptions = noopOptions{}

func TestWithConfigFileReadsValuesIntoViper(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scheduler:\n  auto-reconcile: false\n"), 0o644))

	ran := false
	a := NewApp("testapp", "test",
		WithOptions(noopOptions{}),
		WithRunFunc(func() error { ran = true; return nil }),
		WithConfigFile(func() string { return path }),
	)
	a.Command().SetArgs(nil)

	require.NoError(t, a.Run())
	assert.True(t, ran)
	assert.False(t, a.Viper().GetBool("scheduler.auto-reconcile"))
}

func TestWithConfigFileIgnoresMissingFile(t *testing.T) {
	a := NewApp("testapp", "test",
		WithOptions(noopOptions{}),
		WithRunFunc(func() error { return nil }),
		WithConfigFile(func() string { return filepath.Join(t.TempDir(), "missing.yaml") }),
	)
	a.Command().SetArgs(nil)

	require.NoError(t, a.Run())
}

func TestWithoutConfigFileLeavesViperUsable(t *testing.T) {
	a := NewApp("testapp", "test",
		WithOptions(noopOptions{}),
		WithRunFunc(func() error { return nil }),
	)
	a.Command().SetArgs(nil)

	require.NoError(t, a.Run())
	assert.NotNil(t, a.Viper())
}
