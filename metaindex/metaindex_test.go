package metaindex

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"synapsedb.dev/synapsedb/types"
)

func TestIDSetBasics(t *testing.T) {
	s := NewIDSet()
	s.Add(5)
	s.Add(1)
	s.Add(3)
	s.Add(3)
	require.Equal(t, []uint32{1, 3, 5}, s.Slice())
	require.True(t, s.Contains(3))
	require.False(t, s.Contains(4))

	s.Remove(3)
	require.False(t, s.Contains(3))
	require.Equal(t, 2, s.Len())
}

func TestIDSetSetOps(t *testing.T) {
	a := NewIDSetFrom([]uint32{1, 2, 3})
	b := NewIDSetFrom([]uint32{2, 3, 4})

	require.Equal(t, []uint32{2, 3}, Intersect(a, b).Slice())
	require.Equal(t, []uint32{1, 2, 3, 4}, Union(a, b).Slice())
	require.Equal(t, []uint32{1}, Difference(a, b).Slice())
}

func TestIndexAddRemoveAndFilter(t *testing.T) {
	ix := NewIndex()
	ix.AddToIndex("a", types.NounPerson, map[string]types.MetadataValue{
		"name": types.Str("alice"),
		"age":  types.Int(30),
	})
	ix.AddToIndex("b", types.NounPerson, map[string]types.MetadataValue{
		"name": types.Str("bob"),
		"age":  types.Int(25),
	})
	ix.AddToIndex("c", types.NounOrganization, map[string]types.MetadataValue{
		"name": types.Str("acme"),
	})

	require.Equal(t, 3, ix.TotalEntities())
	require.Equal(t, 2, ix.PerTypeCount(types.NounPerson))
	require.Equal(t, 1, ix.PerTypeCount(types.NounOrganization))
	require.Equal(t, 2, ix.Affinity(types.NounPerson, "age"))
	require.Equal(t, 0, ix.Affinity(types.NounOrganization, "age"))

	ids, err := ix.GetIDsForFilter(Eq("name", types.Str("alice")))
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, ids)

	ids, err = ix.GetIDsForFilter(Exists("age"))
	require.NoError(t, err)
	sort.Strings(ids)
	require.Equal(t, []string{"a", "b"}, ids)

	ids, err = ix.GetIDsForFilter(NotExists("age"))
	require.NoError(t, err)
	require.Equal(t, []string{"c"}, ids)

	min := types.Int(26)
	ids, err = ix.GetIDsForFilter(Range("age", &min, nil))
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, ids)

	ids, err = ix.GetIDsForFilter(In("name", []types.MetadataValue{types.Str("alice"), types.Str("acme")}))
	require.NoError(t, err)
	sort.Strings(ids)
	require.Equal(t, []string{"a", "c"}, ids)

	ids, err = ix.GetIDsForFilter(And(Exists("age"), Eq("name", types.Str("bob"))))
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, ids)

	ids, err = ix.GetIDsForFilter(Or(Eq("name", types.Str("bob")), Eq("name", types.Str("acme"))))
	require.NoError(t, err)
	sort.Strings(ids)
	require.Equal(t, []string{"b", "c"}, ids)

	ids, err = ix.GetIDsForFilter(Not(Exists("age")))
	require.NoError(t, err)
	require.Equal(t, []string{"c"}, ids)

	ix.RemoveFromIndex("a", types.NounPerson, map[string]types.MetadataValue{
		"name": types.Str("alice"),
		"age":  types.Int(30),
	})
	require.Equal(t, 2, ix.TotalEntities())
	require.Equal(t, 1, ix.PerTypeCount(types.NounPerson))
	ids, err = ix.GetIDsForFilter(Eq("name", types.Str("alice")))
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestGetFieldValueForEntity(t *testing.T) {
	ix := NewIndex()
	ix.AddToIndex("a", types.NounPerson, map[string]types.MetadataValue{"age": types.Int(30)})

	v, ok := ix.GetFieldValueForEntity("a", "age")
	require.True(t, ok)
	require.Equal(t, types.Int(30), v)

	_, ok = ix.GetFieldValueForEntity("a", "missing")
	require.False(t, ok)
	_, ok = ix.GetFieldValueForEntity("nope", "age")
	require.False(t, ok)
}

func TestGetSortedIDsForFilterNullsPlacement(t *testing.T) {
	ix := NewIndex()
	ix.AddToIndex("a", types.NounPerson, map[string]types.MetadataValue{"age": types.Int(30)})
	ix.AddToIndex("b", types.NounPerson, map[string]types.MetadataValue{"age": types.Int(10)})
	ix.AddToIndex("c", types.NounPerson, map[string]types.MetadataValue{"name": types.Str("no-age")})

	asc, err := ix.GetSortedIDsForFilter(nil, "age", "asc")
	require.NoError(t, err)
	require.Equal(t, []string{"b", "a", "c"}, asc)

	desc, err := ix.GetSortedIDsForFilter(nil, "age", "desc")
	require.NoError(t, err)
	require.Equal(t, []string{"c", "a", "b"}, desc)
}

func TestCardinality(t *testing.T) {
	ix := NewIndex()
	require.Equal(t, 0, ix.Cardinality("age"))
	ix.AddToIndex("a", types.NounPerson, map[string]types.MetadataValue{"age": types.Int(30)})
	ix.AddToIndex("b", types.NounPerson, map[string]types.MetadataValue{"age": types.Int(31)})
	ix.AddToIndex("c", types.NounPerson, map[string]types.MetadataValue{"age": types.Int(30)})
	require.Equal(t, 2, ix.Cardinality("age"))
}

func TestOrdinalReuseAfterRemove(t *testing.T) {
	ix := NewIndex()
	ix.AddToIndex("a", types.NounPerson, map[string]types.MetadataValue{"k": types.Int(1)})
	ix.RemoveFromIndex("a", types.NounPerson, map[string]types.MetadataValue{"k": types.Int(1)})
	ix.AddToIndex("b", types.NounPerson, map[string]types.MetadataValue{"k": types.Int(2)})

	ids, err := ix.GetIDsForFilter(Eq("k", types.Int(1)))
	require.NoError(t, err)
	require.Empty(t, ids)

	ids, err = ix.GetIDsForFilter(Eq("k", types.Int(2)))
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, ids)
}
