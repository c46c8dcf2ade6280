package profile

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"baseline/internal/unit"
)

func TestStoreSaveLoad(t *testing.T) {
	store := NewStoreFs(afero.NewMemMapFs(), "/profiles")

	p := testProfile()
	require.NoError(t, store.Save(p))

	got, err := store.Load("baseline")
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestStoreLoadMissing(t *testing.T) {
	store := NewStoreFs(afero.NewMemMapFs(), "/profiles")

	_, err := store.Load("nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestStoreSaveRejectsInvalid(t *testing.T) {
	store := NewStoreFs(afero.NewMemMapFs(), "/profiles")

	err := store.Save(&Profile{
		Bundles: []unit.BundleSnapshot{
			{ID: unit.BundleID{SymbolicName: "a", Version: "1"}, State: "Bogus"},
		},
	})
	assert.Error(t, err)
}

func TestStoreList(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewStoreFs(fs, "/profiles")

	names, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, names)

	for _, name := range []string{"zeta", "alpha"} {
		p := testProfile()
		p.Name = name
		require.NoError(t, store.Save(p))
	}

	// Non-profile files are ignored.
	require.NoError(t, afero.WriteFile(fs, "/profiles/readme.txt", []byte("x"), 0o644))

	names, err = store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, names)
}

func TestStoreDelete(t *testing.T) {
	store := NewStoreFs(afero.NewMemMapFs(), "/profiles")

	require.NoError(t, store.Save(testProfile()))
	require.NoError(t, store.Delete("baseline"))

	_, err := store.Load("baseline")
	assert.Error(t, err)

	// Deleting a missing profile is fine.
	assert.NoError(t, store.Delete("baseline"))
}
