package globals

import (
	"context"
	"errors"
	"path/filepath"
	"scrunch/lib/scrunch"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunClosesCacheOnError(t *testing.T) {
	value := &Value{CachePath: filepath.Join(t.TempDir(), "metadata.db")}
	failure := errors.New("command failed")

	err := Run(context.Background(), value, func(ctx context.Context) error {
		require.Same(t, value, Get(ctx))
		_, err := Get(ctx).Cache()
		require.NoError(t, err)
		require.NotNil(t, value.cache)
		return failure
	})
	require.ErrorIs(t, err, failure)
	require.Nil(t, value.cache)
}

func TestCacheRequiresPath(t *testing.T) {
	value := &Value{}
	_, err := value.Cache()
	require.ErrorContains(t, err, "--cache")
	value.Close()
}

func TestSiteWithoutCredentials(t *testing.T) {
	value := &Value{}
	_, err := value.Site(context.Background())
	require.ErrorIs(t, err, scrunch.ErrNoCredentials)
	require.Nil(t, value.site)
}
