package secret_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/secretstage/pkg/secret"
)

func TestDesiredFromEnv(t *testing.T) {
	t.Parallel()

	naming := secret.DefaultNaming().WithNamespace("myapp_production")
	env := map[string]string{
		"SECRET_VERSION_ENV_BLAH2": "3",
		"SECRET_VERSION_ENV_BLAH1": " 1 ",
		"BLAH1":                    "value is ignored",
		"PATH":                     "/usr/bin",
	}

	desired, err := naming.DesiredFromEnv(env)
	require.NoError(t, err)
	require.Len(t, desired, 2)

	ids := desired.Identities()
	assert.Equal(t, "blah1", ids[0].Name())
	assert.Equal(t, "blah2", ids[1].Name())
	assert.Equal(t, "myapp_production/blah1", ids[0].StoreKey())
	assert.Equal(t, secret.Stage(1), desired.Stage(ids[0]))
	assert.Equal(t, secret.Stage(3), desired.Stage(ids[1]))

	id, stage, ok := desired.Lookup("BLAH2")
	require.True(t, ok)
	assert.Equal(t, "blah2", id.Name())
	assert.Equal(t, secret.Stage(3), stage)

	_, _, ok = desired.Lookup("missing")
	assert.False(t, ok)
}

func TestDesiredFromEnvInvalidValue(t *testing.T) {
	t.Parallel()

	_, err := secret.DefaultNaming().DesiredFromEnv(map[string]string{
		"SECRET_VERSION_ENV_BLAH": "latest",
	})

	var pointerErr secret.PointerValueError
	require.ErrorAs(t, err, &pointerErr)
	assert.Equal(t, "SECRET_VERSION_ENV_BLAH", pointerErr.PointerName)
}

func TestDesiredFromEnvCollapsesPointerCase(t *testing.T) {
	t.Parallel()

	naming := secret.DefaultNaming()
	env := map[string]string{
		"SECRET_VERSION_ENV_blah": "2",
		"SECRET_VERSION_ENV_BLAH": "1",
		"SECRET_VERSION_ENV_Other": "4",
		"SECRET_VERSION_ENV_other": "5",
	}

	for range 20 {
		desired, err := naming.DesiredFromEnv(env)
		require.NoError(t, err)
		require.Len(t, desired, 2)

		ids := desired.Identities()
		assert.Equal(t, "SECRET_VERSION_ENV_BLAH", ids[0].PointerName())
		assert.Equal(t, secret.Stage(1), desired.Stage(ids[0]))
		assert.Equal(t, "SECRET_VERSION_ENV_OTHER", ids[1].PointerName())
		assert.Equal(t, secret.Stage(4), desired.Stage(ids[1]))
	}
}

func TestDesiredStagesKeyedByName(t *testing.T) {
	t.Parallel()

	naming := secret.DefaultNaming().WithNamespace("app")
	byName, err := naming.Identity("blah")
	require.NoError(t, err)
	byKey, err := naming.Parse(secret.Source{StoreKey: "other/BLAH"})
	require.NoError(t, err)
	require.True(t, byName.Equal(byKey))

	desired := make(secret.DesiredStages)
	desired.Set(byName, secret.Stage(1))
	desired.Set(byKey, secret.Stage(2))

	require.Len(t, desired, 1)
	assert.Equal(t, secret.Stage(2), desired.Stage(byName))
	assert.Equal(t, secret.NewestStage, desired.Stage(secret.Identity{}))
}
