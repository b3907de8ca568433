package store

import (
	"testing"

	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageTokenRoundTrip(t *testing.T) {
	key := map[string]dbtypes.AttributeValue{
		"pk": &dbtypes.AttributeValueMemberS{Value: "EXEC#x-1"},
		"sk": &dbtypes.AttributeValueMemberS{Value: "rp-1"},
	}

	token, err := encodePageToken(key)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	decoded, err := decodePageToken(token)
	require.NoError(t, err)

	pk, ok := decoded["pk"].(*dbtypes.AttributeValueMemberS)
	require.True(t, ok)
	assert.Equal(t, "EXEC#x-1", pk.Value)
	sk, ok := decoded["sk"].(*dbtypes.AttributeValueMemberS)
	require.True(t, ok)
	assert.Equal(t, "rp-1", sk.Value)
}

func TestDecodePageToken_Invalid(t *testing.T) {
	_, err := decodePageToken("not base64 !!!")
	assert.Error(t, err)

	_, err = decodePageToken("bm90IGpzb24=") // "not json"
	assert.Error(t, err)
}

func TestDocItemRoundTrip(t *testing.T) {
	doc := map[string]any{
		"groupId": "pg-1",
		"version": float64(3),
		"nested":  map[string]any{"instanceType": "m5.large"},
	}

	item, err := docToItem("GROUP#pg-1", "pg-1", doc)
	require.NoError(t, err)
	assert.Contains(t, item, "pk")
	assert.Contains(t, item, "sk")

	back, err := itemToDoc(item)
	require.NoError(t, err)
	assert.NotContains(t, back, "pk")
	assert.NotContains(t, back, "sk")
	assert.Equal(t, "pg-1", back["groupId"])
	assert.Equal(t, float64(3), back["version"])
}
