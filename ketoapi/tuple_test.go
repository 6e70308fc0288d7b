package ketoapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelationTupleFromString(t *testing.T) {
	t.Run("plain subject id", func(t *testing.T) {
		rt, err := (RelationTuple{}).FromString("file:report.pdf#viewer@alice")
		require.NoError(t, err)
		assert.Equal(t, Entity{Type: "file", ID: "report.pdf"}, rt.Object)
		assert.Equal(t, "viewer", rt.Relation)
		assert.Equal(t, Subject{Entity: Entity{ID: "alice"}}, rt.Subject)
	})

	t.Run("subject set", func(t *testing.T) {
		rt, err := (RelationTuple{}).FromString("file:report.pdf#viewer@group:engineering#member")
		require.NoError(t, err)
		assert.Equal(t, Subject{Entity: Entity{Type: "group", ID: "engineering"}, Relation: "member"}, rt.Subject)
	})

	t.Run("missing hash is an error", func(t *testing.T) {
		_, err := (RelationTuple{}).FromString("file:report.pdf viewer@alice")
		assert.ErrorIs(t, err, ErrInvalidTupleString)
	})

	t.Run("missing at is an error", func(t *testing.T) {
		_, err := (RelationTuple{}).FromString("file:report.pdf#viewer")
		assert.ErrorIs(t, err, ErrInvalidTupleString)
	})

	t.Run("missing colon is an error", func(t *testing.T) {
		_, err := (RelationTuple{}).FromString("file#viewer@alice")
		assert.ErrorIs(t, err, ErrInvalidTupleString)
	})
}
