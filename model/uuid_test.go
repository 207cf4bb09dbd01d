package model

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_UnmarshalUUID(t *testing.T) {
	id := uuid.New()

	parsed, err := UnmarshalUUID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = UnmarshalUUID("not-an-id")
	assert.Error(t, err)

	_, err = UnmarshalUUID(42)
	assert.Error(t, err)
}
