package platform

import (
	"encoding/binary"
	"math"
)

func sumFloat64(data []byte) float64 {
	var sum float64
	for i := 0; i+8 <= len(data); i += 8 {
		sum += math.Float64frombits(binary.LittleEndian.Uint64(data[i:]))
	}
	return sum
}

func encodeFloat64(v float64) []byte {
	return binary.LittleEndian.AppendUint64(nil, math.Float64bits(v))
}
