package registry_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osbuild/image-builder-mcp/pkg/auth"
	"github.com/osbuild/image-builder-mcp/pkg/imagebuilder"
	"github.com/osbuild/image-builder-mcp/pkg/registry"
)

// countingFactory builds real clients and counts constructions per key.
func countingFactory(constructed *atomic.Int64) registry.Factory {
	return func(identity auth.Identity) (*imagebuilder.Client, error) {
		constructed.Add(1)
		return imagebuilder.New(imagebuilder.Config{
			ClientID:    identity.ClientID,
			BearerToken: identity.BearerToken,
		})
	}
}

func TestGetOrCreateReturnsSameClient(t *testing.T) {
	var constructed atomic.Int64
	reg, err := registry.New(registry.Config{Factory: countingFactory(&constructed)})
	require.NoError(t, err)

	identity := auth.Identity{ClientID: "a", ClientSecret: "s"}
	first, err := reg.GetOrCreate(identity)
	require.NoError(t, err)
	second, err := reg.GetOrCreate(identity)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int64(1), constructed.Load())
	assert.Equal(t, 1, reg.Len())
}

func TestDistinctIdentitiesGetDistinctClients(t *testing.T) {
	var constructed atomic.Int64
	reg, err := registry.New(registry.Config{Factory: countingFactory(&constructed)})
	require.NoError(t, err)

	a, err := reg.GetOrCreate(auth.Identity{ClientID: "a", ClientSecret: "s"})
	require.NoError(t, err)
	b, err := reg.GetOrCreate(auth.Identity{ClientID: "b", ClientSecret: "s"})
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.Equal(t, "a", a.ClientID())
	assert.Equal(t, "b", b.ClientID())
	assert.Equal(t, int64(2), constructed.Load())
	assert.Equal(t, 2, reg.Len())
}

func TestConcurrentGetOrCreateConstructsOnce(t *testing.T) {
	var constructed atomic.Int64
	reg, err := registry.New(registry.Config{Factory: countingFactory(&constructed)})
	require.NoError(t, err)

	identity := auth.Identity{ClientID: "a", ClientSecret: "s"}
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.GetOrCreate(identity)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), constructed.Load())
}

func TestBoundedRegistryEvictsAndNotifies(t *testing.T) {
	var constructed atomic.Int64
	var evicted []string
	reg, err := registry.New(registry.Config{
		Factory:    countingFactory(&constructed),
		MaxClients: 1,
		OnEvict:    func(key string) { evicted = append(evicted, key) },
	})
	require.NoError(t, err)

	_, err = reg.GetOrCreate(auth.Identity{ClientID: "a", ClientSecret: "s"})
	require.NoError(t, err)
	_, err = reg.GetOrCreate(auth.Identity{ClientID: "b", ClientSecret: "s"})
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, evicted)
	assert.Equal(t, 1, reg.Len())

	// "a" was evicted, so asking for it again constructs a fresh client.
	_, err = reg.GetOrCreate(auth.Identity{ClientID: "a", ClientSecret: "s"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), constructed.Load())
}

func TestCacheHitRotatesBearerToken(t *testing.T) {
	var constructed atomic.Int64
	reg, err := registry.New(registry.Config{Factory: countingFactory(&constructed)})
	require.NoError(t, err)

	client, err := reg.GetOrCreate(auth.Identity{ClientID: "session-1", BearerToken: "old"})
	require.NoError(t, err)

	again, err := reg.GetOrCreate(auth.Identity{ClientID: "session-1", BearerToken: "new"})
	require.NoError(t, err)
	require.Same(t, client, again)
	assert.Equal(t, int64(1), constructed.Load())

	token, err := client.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", token)
}

func TestFactoryIsRequired(t *testing.T) {
	_, err := registry.New(registry.Config{})
	assert.Error(t, err)
}
