package task

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// LineDecoder turns one line of streamed text into binary elements.
type LineDecoder interface {
	// DecodeLine returns the number of elements on the line and their
	// encoding. An empty result means the line carries no data.
	DecodeLine(line []byte) (elements int, data []byte, err error)
}

// LineDecoderFunc adapts a function to LineDecoder.
type LineDecoderFunc func(line []byte) (int, []byte, error)

func (f LineDecoderFunc) DecodeLine(line []byte) (int, []byte, error) { return f(line) }

// CSVDecoder parses comma or whitespace separated numbers into
// little-endian float64 values.
type CSVDecoder struct{}

func (CSVDecoder) DecodeLine(line []byte) (int, []byte, error) {
	fields := strings.FieldsFunc(string(line), func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	if len(fields) == 0 {
		return 0, nil, nil
	}
	out := make([]byte, 0, 8*len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return 0, nil, fmt.Errorf("field %d: %w", i, err)
		}
		out = binary.LittleEndian.AppendUint64(out, math.Float64bits(v))
	}
	return len(fields), out, nil
}
