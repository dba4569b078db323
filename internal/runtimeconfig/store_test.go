package runtimeconfig

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/llm-chat-gateway/services"
)

func TestSnapshotStore_Current(t *testing.T) {
	t.Run("empty store is not configured", func(t *testing.T) {
		store := NewSnapshotStore()

		snap, err := store.Current()
		assert.Nil(t, snap)
		assert.ErrorIs(t, err, services.ErrNotYetConfigured)
		assert.True(t, services.IsNotConfiguredError(err))
	})

	t.Run("serves bootstrap until first publish", func(t *testing.T) {
		boot := NewSnapshot(scenarioConfig(), 0, nil)
		store := NewSnapshotStore(WithBootstrap(boot))

		snap, err := store.Current()
		require.NoError(t, err)
		assert.Same(t, boot, snap)
		assert.True(t, store.IsBootstrap())

		published := NewSnapshot(scenarioConfig(), 1, nil)
		require.NoError(t, store.Publish(published))

		snap, err = store.Current()
		require.NoError(t, err)
		assert.Same(t, published, snap)
		assert.False(t, store.IsBootstrap())
	})

	t.Run("nil bootstrap is ignored", func(t *testing.T) {
		store := NewSnapshotStore(WithBootstrap(nil))

		_, err := store.Current()
		assert.ErrorIs(t, err, services.ErrNotYetConfigured)
		assert.False(t, store.IsBootstrap())
	})
}

func TestSnapshotStore_Publish(t *testing.T) {
	store := NewSnapshotStore()
	first := NewSnapshot(scenarioConfig(), 1, nil)
	second := NewSnapshot(scenarioConfig(), 2, nil)

	require.NoError(t, store.Publish(first))
	assert.Nil(t, store.Previous())

	require.NoError(t, store.Publish(second))
	current, err := store.Current()
	require.NoError(t, err)
	assert.Same(t, second, current)
	assert.Same(t, first, store.Previous())

	assert.Error(t, store.Publish(nil))
	current, _ = store.Current()
	assert.Same(t, second, current)
}

func TestSnapshotStore_Revoke(t *testing.T) {
	boot := NewSnapshot(scenarioConfig(), 0, nil)
	store := NewSnapshotStore(WithBootstrap(boot))
	published := NewSnapshot(scenarioConfig(), 1, nil)
	require.NoError(t, store.Publish(published))

	store.Revoke()

	_, err := store.Current()
	assert.ErrorIs(t, err, services.ErrNotYetConfigured)
	assert.True(t, store.Revoked())
	assert.False(t, store.IsBootstrap(), "revoked store must not fall back to bootstrap")
	assert.Same(t, published, store.Previous())

	republished := NewSnapshot(scenarioConfig(), 2, nil)
	require.NoError(t, store.Publish(republished))
	current, err := store.Current()
	require.NoError(t, err)
	assert.Same(t, republished, current)
	assert.False(t, store.Revoked())
}

func TestSnapshotStore_ConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	cfgA := scenarioConfig()
	cfgB := scenarioConfig()
	cfgB.Model = "gpt-4o-mini"
	cfgB.Temperature = 0.2
	cfgB.Messages = []Message{{Role: RoleSystem, Content: "Answer in Spanish."}}

	snapA := NewSnapshot(cfgA, 1, nil)
	snapB := NewSnapshot(cfgB, 2, nil)

	store := NewSnapshotStore()
	require.NoError(t, store.Publish(snapA))

	var wg sync.WaitGroup
	errs := make(chan string, 64)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 2000; j++ {
				snap, err := store.Current()
				if err != nil {
					errs <- err.Error()
					return
				}
				cfg := snap.Config()
				switch cfg.Model {
				case cfgA.Model:
					if cfg.Temperature != cfgA.Temperature || cfg.Messages[0] != cfgA.Messages[0] {
						errs <- "torn read of first snapshot"
						return
					}
				case cfgB.Model:
					if cfg.Temperature != cfgB.Temperature || cfg.Messages[0] != cfgB.Messages[0] {
						errs <- "torn read of second snapshot"
						return
					}
				default:
					errs <- "unexpected model " + cfg.Model
					return
				}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 500; j++ {
			if j%2 == 0 {
				_ = store.Publish(snapB)
			} else {
				_ = store.Publish(snapA)
			}
		}
	}()

	wg.Wait()
	close(errs)
	for msg := range errs {
		t.Error(msg)
	}
}
