package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repairhq/repairstore/pkg/entity"
	"github.com/repairhq/repairstore/pkg/store"
)

func TestLegacyDefaultRoutesEverythingToLegacy(t *testing.T) {
	legacy := store.NewMemoryStore(entity.BackendBase44)
	next := store.NewMemoryStore(entity.BackendNeon)

	r, err := New(legacy, next, ModeLegacyDefault, []entity.Type{entity.TypeOrder})
	require.NoError(t, err)

	for _, typ := range entity.Types() {
		st, err := r.Resolve(typ)
		require.NoError(t, err)
		assert.Equal(t, entity.BackendBase44, st.Backend(), "type %s", typ)
	}
}

func TestNewPreferredHonorsAllowList(t *testing.T) {
	legacy := store.NewMemoryStore(entity.BackendBase44)
	next := store.NewMemoryStore(entity.BackendNeon)

	r, err := New(legacy, next, ModeNewPreferred, []entity.Type{entity.TypeOrder, entity.TypeSale})
	require.NoError(t, err)

	st, err := r.Resolve(entity.TypeOrder)
	require.NoError(t, err)
	assert.Equal(t, entity.BackendNeon, st.Backend())

	st, err = r.Resolve(entity.TypeCustomer)
	require.NoError(t, err)
	assert.Equal(t, entity.BackendBase44, st.Backend())
}

func TestResolveIsDeterministic(t *testing.T) {
	legacy := store.NewMemoryStore(entity.BackendBase44)
	next := store.NewMemoryStore(entity.BackendNeon)

	r, err := New(legacy, next, ModeNewPreferred, []entity.Type{entity.TypeSale})
	require.NoError(t, err)

	first, err := r.Resolve(entity.TypeSale)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		again, err := r.Resolve(entity.TypeSale)
		require.NoError(t, err)
		assert.Same(t, first, again)
	}
}

func TestNewPreferredWithoutNextFailsFast(t *testing.T) {
	legacy := store.NewMemoryStore(entity.BackendBase44)

	_, err := New(legacy, nil, ModeNewPreferred, nil)
	require.Error(t, err)
	assert.True(t, entity.IsConfiguration(err))
}

func TestUnknownModeFailsFast(t *testing.T) {
	legacy := store.NewMemoryStore(entity.BackendBase44)

	_, err := New(legacy, nil, Mode("maybe"), nil)
	require.Error(t, err)
	assert.True(t, entity.IsConfiguration(err))
}

func TestResolveUnknownEntity(t *testing.T) {
	legacy := store.NewMemoryStore(entity.BackendBase44)

	r, err := New(legacy, nil, ModeLegacyDefault, nil)
	require.NoError(t, err)

	_, err = r.Resolve(entity.Type("Unicorn"))
	require.Error(t, err)
	assert.True(t, entity.IsConfiguration(err))
}
