package json

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type line struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func TestMarshalLines(t *testing.T) {
	data, err := MarshalLines([]line{{ID: "1", Name: "a"}, {ID: "2", Name: "<b>"}})
	require.NoError(t, err)
	assert.Equal(t, "{\"id\":\"1\",\"name\":\"a\"}\n{\"id\":\"2\",\"name\":\"<b>\"}\n", string(data))
}

func TestUnmarshalLinesSkipsBlankLines(t *testing.T) {
	items, err := UnmarshalLines[line]([]byte("{\"id\":\"1\"}\n\n{\"id\":\"2\"}\n"))
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "2", items[1].ID)
}

func TestUnmarshalDocument(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{"array", `[{"id":"1"},{"id":"2"},{"id":"3"}]`, 3},
		{"lines", "{\"id\":\"1\"}\n{\"id\":\"2\"}", 2},
		{"empty", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := UnmarshalDocument[line]([]byte(tt.input))
			require.NoError(t, err)
			assert.Len(t, items, tt.want)
		})
	}
}

func TestUnmarshalLinesInvalid(t *testing.T) {
	_, err := UnmarshalLines[line]([]byte("{not json}\n"))
	assert.Error(t, err)
}
