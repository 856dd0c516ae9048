package cas

import (
	"encoding/json"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestIdentifierRoundTrip(t *testing.T) {
	t.Run("hash ref", func(t *testing.T) {
		id := NewIdentifier([]byte("some compiled texture data"))
		parsed, err := ParseIdentifier(id.String())
		assert.NoError(t, err)
		assert.True(t, id.Equal(parsed))
		assert.Equal(t, id.Size(), parsed.Size())
		assert.False(t, parsed.IsData())
	})

	t.Run("inline data", func(t *testing.T) {
		id := NewDataIdentifier([]byte("tiny"))
		parsed, err := ParseIdentifier(id.String())
		assert.NoError(t, err)
		assert.True(t, id.Equal(parsed))
		assert.True(t, parsed.IsData())
		assert.Equal(t, []byte("tiny"), parsed.Data())
	})

	t.Run("empty content is not zero", func(t *testing.T) {
		id := NewIdentifier(nil)
		assert.False(t, id.IsZero())
		assert.True(t, Identifier{}.IsZero())
	})
}

func TestIdentifierDeterminism(t *testing.T) {
	a := NewIdentifier([]byte("payload"))
	b := NewIdentifier([]byte("payload"))
	c := NewIdentifier([]byte("other payload"))

	assert.True(t, a.Equal(b))
	assert.Equal(t, a.String(), b.String())
	assert.False(t, a.Equal(c))
}

func TestParseIdentifierErrors(t *testing.T) {
	for _, s := range []string{"", "!!!not-base64!!!", "AQ"} {
		_, err := ParseIdentifier(s)
		assert.Error(t, err, "input %q", s)
	}
}

func TestIdentifierVerify(t *testing.T) {
	id := NewIdentifier([]byte("content"))
	assert.NoError(t, id.Verify([]byte("content")))
	assert.Error(t, id.Verify([]byte("contents"))) // size mismatch
	assert.Error(t, id.Verify([]byte("kontent"))) // digest mismatch
}

func TestIdentifierJSON(t *testing.T) {
	type doc struct {
		ID Identifier `json:"id"`
	}

	in := doc{ID: NewIdentifier([]byte("blob"))}
	data, err := json.Marshal(in)
	assert.NoError(t, err)

	var out doc
	assert.NoError(t, json.Unmarshal(data, &out))
	assert.True(t, in.ID.Equal(out.ID))
}
