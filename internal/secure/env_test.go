package secure_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/secretstage/internal/secure"
	"github.com/systmms/secretstage/pkg/reconcile"
)

var _ reconcile.Env = (*secure.SealedEnv)(nil)

func TestSealedEnv(t *testing.T) {
	t.Parallel()

	env := secure.NewSealedEnv([]string{"PATH=/usr/bin", "EMPTY=", "BROKEN", "A=b=c"})
	defer env.Destroy()

	v, ok := env.Lookup("PATH")
	assert.True(t, ok)
	assert.Equal(t, "/usr/bin", v)

	v, ok = env.Lookup("A")
	assert.True(t, ok)
	assert.Equal(t, "b=c", v)

	_, ok = env.Lookup("BROKEN")
	assert.False(t, ok)

	require.NoError(t, env.Set("DB_PASSWORD", "hunter2"))
	require.NoError(t, env.Set("PATH", "/opt/bin"))
	require.NoError(t, env.Set("DB_PASSWORD", "hunter3"))

	v, ok = env.Lookup("DB_PASSWORD")
	assert.True(t, ok)
	assert.Equal(t, "hunter3", v)
	assert.Equal(t, []string{"DB_PASSWORD", "PATH"}, env.SealedNames())

	environ, err := env.Environ()
	require.NoError(t, err)
	assert.Equal(t, []string{"A=b=c", "DB_PASSWORD=hunter3", "EMPTY=", "PATH=/opt/bin"}, environ)
}

func TestSealedEnvEmptyValue(t *testing.T) {
	t.Parallel()

	env := secure.NewSealedEnv(nil)
	require.NoError(t, env.Set("API_KEY", ""))

	v, ok := env.Lookup("API_KEY")
	assert.True(t, ok)
	assert.Empty(t, v)
}

func TestSealedEnvWithReconciler(t *testing.T) {
	t.Parallel()

	env := secure.NewSealedEnv([]string{"DB_PASSWORD=local", "PORT=8080"})
	defer env.Destroy()

	res, err := reconcile.New(reconcile.PolicyOverwrite).Apply(map[string]string{
		"DB_PASSWORD": "fetched",
		"API_KEY":     "key",
	}, env)
	require.NoError(t, err)
	assert.Equal(t, []string{"DB_PASSWORD"}, res.Overwritten)

	environ, err := env.Environ()
	require.NoError(t, err)
	assert.Equal(t, []string{"API_KEY=key", "DB_PASSWORD=fetched", "PORT=8080"}, environ)
}

func TestSealedEnvDestroy(t *testing.T) {
	t.Parallel()

	env := secure.NewSealedEnv([]string{"PORT=1"})
	require.NoError(t, env.Set("TOKEN", "t"))
	env.Destroy()

	assert.Empty(t, env.SealedNames())
	_, ok := env.Lookup("TOKEN")
	assert.False(t, ok)
	v, ok := env.Lookup("PORT")
	assert.True(t, ok)
	assert.Equal(t, "1", v)
}
