package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVDecoder(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    []float64
		wantErr bool
	}{
		{"comma", "1,2,3", []float64{1, 2, 3}, false},
		{"whitespace", "  4.5\t6 ", []float64{4.5, 6}, false},
		{"mixed", "1, 2 ,3", []float64{1, 2, 3}, false},
		{"empty", "", nil, false},
		{"blank", "   ", nil, false},
		{"bad", "1,two", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, data, err := CSVDecoder{}.DecodeLine([]byte(tt.line))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, len(tt.want), n)
			if len(tt.want) == 0 {
				assert.Empty(t, data)
				return
			}
			assert.Equal(t, tt.want, float64s(data))
		})
	}
}

func TestLineDecoderFunc(t *testing.T) {
	d := LineDecoderFunc(func(line []byte) (int, []byte, error) {
		return len(line), line, nil
	})
	n, data, err := d.DecodeLine([]byte("raw"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "raw", string(data))
}
