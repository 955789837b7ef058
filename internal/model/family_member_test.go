package model

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFamilyMemberValidate(t *testing.T) {
	familyID := uuid.New()

	valid := func() *FamilyMember {
		return &FamilyMember{
			ID:       uuid.New(),
			FamilyID: familyID,
			Name:     "Grandma",
			Relationships: RelationshipMap{
				RelationSpouse: uuid.New(),
			},
			CustomFields: CustomFields{"birthplace": "Lisbon"},
		}
	}

	t.Run("valid member", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("missing name", func(t *testing.T) {
		m := valid()
		m.Name = ""
		assert.Error(t, m.Validate())
	})

	t.Run("unknown relationship key", func(t *testing.T) {
		m := valid()
		m.Relationships["cousin"] = uuid.New()
		err := m.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cousin")
	})

	t.Run("nil relationship target", func(t *testing.T) {
		m := valid()
		m.Relationships[RelationParent1] = uuid.Nil
		assert.Error(t, m.Validate())
	})

	t.Run("self reference", func(t *testing.T) {
		m := valid()
		m.Relationships[RelationParent2] = m.ID
		assert.Error(t, m.Validate())
	})

	t.Run("custom field cap", func(t *testing.T) {
		m := valid()
		m.CustomFields = CustomFields{}
		for i := 0; i < MaxCustomFields; i++ {
			m.CustomFields[fmt.Sprintf("field_%d", i)] = "value"
		}
		assert.NoError(t, m.Validate())

		m.CustomFields["one_too_many"] = "value"
		assert.Error(t, m.Validate())
	})

	t.Run("empty custom field key", func(t *testing.T) {
		m := valid()
		m.CustomFields[""] = "value"
		assert.Error(t, m.Validate())
	})

	t.Run("no relationships or custom fields", func(t *testing.T) {
		m := &FamilyMember{ID: uuid.New(), FamilyID: familyID, Name: "Baby"}
		assert.NoError(t, m.Validate())
	})
}

func TestRelationshipMapJSONRoundTrip(t *testing.T) {
	target := uuid.New()
	m := RelationshipMap{RelationParent1: target}

	value, err := m.Value()
	require.NoError(t, err)

	var scanned RelationshipMap
	require.NoError(t, scanned.Scan(value))
	assert.Equal(t, target, scanned[RelationParent1])
}

func TestCustomFieldsScanSources(t *testing.T) {
	t.Run("bytes", func(t *testing.T) {
		var f CustomFields
		require.NoError(t, f.Scan([]byte(`{"hobby":"chess"}`)))
		assert.Equal(t, "chess", f["hobby"])
	})

	t.Run("string", func(t *testing.T) {
		var f CustomFields
		require.NoError(t, f.Scan(`{"hobby":"chess"}`))
		assert.Equal(t, "chess", f["hobby"])
	})

	t.Run("nil leaves the map empty", func(t *testing.T) {
		var f CustomFields
		require.NoError(t, f.Scan(nil))
		assert.Nil(t, f)
	})

	t.Run("unsupported source", func(t *testing.T) {
		var f CustomFields
		assert.Error(t, f.Scan(42))
	})
}
