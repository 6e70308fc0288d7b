package relationtuple

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-rebac/rebac/ketoapi"
)

func TestFromWireDefaultsZones(t *testing.T) {
	w := &ketoapi.RelationTuple{
		Subject:  ketoapi.Subject{Entity: ketoapi.Entity{Type: "user", ID: "alice"}},
		Relation: "viewer",
		Object:   ketoapi.Entity{Type: "file", ID: "report.pdf"},
		ZoneID:   "zone-a",
	}
	it, err := FromWire(w)
	require.NoError(t, err)
	assert.Equal(t, "zone-a", it.SubjectZoneID)
	assert.Equal(t, "zone-a", it.ObjectZoneID)
}

func TestFromWireRejectsMalformedTupleID(t *testing.T) {
	w := &ketoapi.RelationTuple{TupleID: "not-a-uuid", ZoneID: "zone-a"}
	_, err := FromWire(w)
	assert.Error(t, err)
}

func TestToWireRoundTrip(t *testing.T) {
	w := &ketoapi.RelationTuple{
		Subject:  ketoapi.Subject{Entity: ketoapi.Entity{Type: "user", ID: "alice"}},
		Relation: "viewer",
		Object:   ketoapi.Entity{Type: "file", ID: "report.pdf"},
		ZoneID:   "zone-a",
	}
	it, err := FromWire(w)
	require.NoError(t, err)
	back := it.ToWire()
	assert.Equal(t, w.Subject, back.Subject)
	assert.Equal(t, w.Relation, back.Relation)
	assert.Equal(t, w.Object, back.Object)
	assert.Equal(t, w.ZoneID, back.ZoneID)
}

func TestIsExpired(t *testing.T) {
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	t.Run("no expiry never expires", func(t *testing.T) {
		rt := &RelationTuple{}
		assert.False(t, rt.IsExpired(now))
	})

	t.Run("future expiry is not expired", func(t *testing.T) {
		later := now.Add(time.Hour)
		rt := &RelationTuple{ExpiresAt: &later}
		assert.False(t, rt.IsExpired(now))
	})

	t.Run("past expiry is expired", func(t *testing.T) {
		earlier := now.Add(-time.Hour)
		rt := &RelationTuple{ExpiresAt: &earlier}
		assert.True(t, rt.IsExpired(now))
	})

	t.Run("exact boundary is expired", func(t *testing.T) {
		rt := &RelationTuple{ExpiresAt: &now}
		assert.True(t, rt.IsExpired(now))
	})
}

func TestIdempotencyKey(t *testing.T) {
	a := &RelationTuple{
		Subject:  ketoapi.Subject{Entity: ketoapi.Entity{Type: "user", ID: "alice"}},
		Relation: "viewer",
		Object:   ketoapi.Entity{Type: "file", ID: "report.pdf"},
		ZoneID:   "zone-a",
	}
	b := &RelationTuple{
		Subject:    a.Subject,
		Relation:   a.Relation,
		Object:     a.Object,
		ZoneID:     a.ZoneID,
		Conditions: &ketoapi.Conditions{AllowedDevices: []string{"x"}},
	}
	assert.Equal(t, a.Key(), b.Key(), "conditions do not participate in the idempotency key")
}
