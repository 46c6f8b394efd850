package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecs(t *testing.T) {
	payload := map[string]any{
		"op":     "read",
		"block":  float64(42),
		"flags":  []any{"sync", true},
		"nested": map[string]any{"len": float64(4096)},
	}

	for _, name := range []string{"proto", "json"} {
		t.Run(name, func(t *testing.T) {
			c, ok := ByName(name)
			require.True(t, ok)
			assert.Equal(t, name, c.Name())

			data, err := c.Marshal(payload)
			require.NoError(t, err)

			got, err := c.Unmarshal(data)
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}
}

func TestCodecErrors(t *testing.T) {
	_, err := Proto{}.Marshal(map[string]any{"ch": make(chan int)})
	assert.Error(t, err)

	_, err = JSON{}.Unmarshal([]byte("{not json"))
	assert.Error(t, err)

	_, ok := ByName("xml")
	assert.False(t, ok)
}
