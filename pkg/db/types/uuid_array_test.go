package dbtypes

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDArrayKeepsNullApartFromEmpty(t *testing.T) {
	var arr UUIDArray
	v, err := arr.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, arr.Scan(nil))
	assert.Nil(t, arr)

	require.NoError(t, arr.Scan("{}"))
	assert.NotNil(t, arr)
	assert.Empty(t, arr)

	v, err = UUIDArray{}.Value()
	require.NoError(t, err)
	assert.Equal(t, "{}", v)
}

func TestUUIDArrayLiteral(t *testing.T) {
	a, b := uuid.New(), uuid.New()

	var arr UUIDArray
	require.NoError(t, arr.Scan([]byte("{"+a.String()+",\""+b.String()+"\"}")))
	assert.Equal(t, UUIDArray{a, b}, arr)
	assert.True(t, arr.Contains(b))
	assert.False(t, arr.Contains(uuid.New()))

	v, err := arr.Value()
	require.NoError(t, err)

	var back UUIDArray
	require.NoError(t, back.Scan(v))
	assert.Equal(t, arr, back)
}

func TestUUIDArrayRejectsGarbage(t *testing.T) {
	var arr UUIDArray
	assert.Error(t, arr.Scan("{not-a-uuid}"))
	assert.Error(t, arr.Scan(42))
}
