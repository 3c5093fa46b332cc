package bid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shot(id, scene string, types ...string) Shot {
	return Shot{ID: id, SceneNumber: scene, VFXTypes: types, Complexity: "medium"}
}

func TestStoreCRUD(t *testing.T) {
	s := NewStore()
	assert.Empty(t, s.Shots())

	s.SetShots([]Shot{shot("s1", "1A", "comp"), shot("s2", "1B", "fx")})
	require.Len(t, s.Shots(), 2)

	got, err := s.Get("s2")
	require.NoError(t, err)
	assert.Equal(t, "1B", got.SceneNumber)

	_, err = s.Get("nope")
	require.Error(t, err)

	updated := shot("s1", "1A", "comp")
	updated.Complexity = "high"
	got, err = s.Update("s1", updated)
	require.NoError(t, err)
	assert.Equal(t, "high", got.Complexity)

	_, err = s.Update("nope", updated)
	require.Error(t, err)

	s.Add(shot("s3", "2A", "sim"))
	assert.Len(t, s.Shots(), 3)

	s.Clear()
	assert.Empty(t, s.Shots())
}

func TestShotsReturnsCopy(t *testing.T) {
	s := NewStore()
	s.SetShots([]Shot{shot("s1", "1A")})

	out := s.Shots()
	out[0].SceneNumber = "mutated"

	got, err := s.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, "1A", got.SceneNumber)
}

func TestVFXCategories(t *testing.T) {
	s := NewStore()
	s.SetShots([]Shot{
		shot("s1", "1A", "fx", "comp"),
		shot("s2", "1B", "comp", "sim"),
	})
	assert.Equal(t, []string{"comp", "fx", "sim"}, s.VFXCategories())
}
