package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_Deterministic(t *testing.T) {
	type request struct {
		Endpoint string            `json:"endpoint"`
		Prompt   string            `json:"prompt"`
		Params   map[string]string `json:"params"`
	}

	a := request{
		Endpoint: "chat",
		Prompt:   "tell me a story",
		Params:   map[string]string{"voice": "narrator", "lang": "en", "speed": "1.0"},
	}
	b := request{
		Endpoint: "chat",
		Prompt:   "tell me a story",
		// Same pairs inserted in a different order.
		Params: map[string]string{"speed": "1.0", "lang": "en", "voice": "narrator"},
	}

	keyA, err := Key(a)
	require.NoError(t, err)
	keyB, err := Key(b)
	require.NoError(t, err)

	assert.Equal(t, keyA, keyB, "map ordering must not change the key")
	assert.Len(t, keyA, 64, "sha256 hex")
}

func TestKey_DistinctInputs(t *testing.T) {
	k1, err := Key(map[string]any{"prompt": "a"})
	require.NoError(t, err)
	k2, err := Key(map[string]any{"prompt": "b"})
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
}

func TestKey_MapVersusStructEquivalence(t *testing.T) {
	type input struct {
		Endpoint string `json:"endpoint"`
		Prompt   string `json:"prompt"`
	}

	fromStruct, err := Key(input{Endpoint: "chat", Prompt: "hi"})
	require.NoError(t, err)
	fromMap, err := Key(map[string]string{"prompt": "hi", "endpoint": "chat"})
	require.NoError(t, err)

	assert.Equal(t, fromStruct, fromMap,
		"canonicalization makes struct and map spellings of the same input agree")
}

func TestKey_UnserializableInput(t *testing.T) {
	_, err := Key(make(chan int))
	assert.Error(t, err)
}
