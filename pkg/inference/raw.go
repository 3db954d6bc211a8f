package inference

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"
)

// hasRawOnlyInput reports whether any input uses a datatype without a typed
// contents field. A request either carries every input in
// raw_input_contents or none, so one such input switches the whole request.
func hasRawOnlyInput(inputs []map[string]any) bool {
	for _, in := range inputs {
		switch in["datatype"] {
		case "FP16", "BF16":
			return true
		}
	}
	return false
}

// encodeRaw lays data out as the little-endian tensor bytes of datatype.
// BYTES elements are each prefixed with their uint32 length.
func encodeRaw(datatype string, data []any) ([]byte, error) {
	var buf []byte
	for i, v := range data {
		var err error
		if buf, err = appendRaw(buf, datatype, v); err != nil {
			return nil, fmt.Errorf("data[%d]: %w", i, err)
		}
	}
	return buf, nil
}

func appendRaw(buf []byte, datatype string, v any) ([]byte, error) {
	le := binary.LittleEndian
	switch datatype {
	case "BOOL":
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", v)
		}
		if b {
			return append(buf, 1), nil
		}
		return append(buf, 0), nil
	case "INT8", "INT16", "INT32", "INT64":
		i, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		switch datatype {
		case "INT8":
			if i < math.MinInt8 || i > math.MaxInt8 {
				return nil, fmt.Errorf("%d overflows int8", i)
			}
			return append(buf, byte(int8(i))), nil
		case "INT16":
			if i < math.MinInt16 || i > math.MaxInt16 {
				return nil, fmt.Errorf("%d overflows int16", i)
			}
			return le.AppendUint16(buf, uint16(int16(i))), nil
		case "INT32":
			if i < math.MinInt32 || i > math.MaxInt32 {
				return nil, fmt.Errorf("%d overflows int32", i)
			}
			return le.AppendUint32(buf, uint32(int32(i))), nil
		}
		return le.AppendUint64(buf, uint64(i)), nil
	case "UINT8", "UINT16", "UINT32", "UINT64":
		u, err := toUint64(v)
		if err != nil {
			return nil, err
		}
		switch datatype {
		case "UINT8":
			if u > math.MaxUint8 {
				return nil, fmt.Errorf("%d overflows uint8", u)
			}
			return append(buf, byte(u)), nil
		case "UINT16":
			if u > math.MaxUint16 {
				return nil, fmt.Errorf("%d overflows uint16", u)
			}
			return le.AppendUint16(buf, uint16(u)), nil
		case "UINT32":
			if u > math.MaxUint32 {
				return nil, fmt.Errorf("%d overflows uint32", u)
			}
			return le.AppendUint32(buf, uint32(u)), nil
		}
		return le.AppendUint64(buf, u), nil
	case "FP16", "BF16", "FP32", "FP64":
		f, err := toFloat64(v)
		if err != nil {
			return nil, err
		}
		switch datatype {
		case "FP16":
			return le.AppendUint16(buf, float16.Fromfloat32(float32(f)).Bits()), nil
		case "BF16":
			return le.AppendUint16(buf, bfloat16Bits(float32(f))), nil
		case "FP32":
			return le.AppendUint32(buf, math.Float32bits(float32(f))), nil
		}
		return le.AppendUint64(buf, math.Float64bits(f)), nil
	case "BYTES":
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		buf = le.AppendUint32(buf, uint32(len(s)))
		return append(buf, s...), nil
	}
	return nil, fmt.Errorf("unsupported datatype %s", datatype)
}

// bfloat16Bits keeps the upper half of the float32 bits, rounding to nearest
// even.
func bfloat16Bits(f float32) uint16 {
	bits := math.Float32bits(f)
	if f != f {
		return uint16(bits>>16) | 0x0040
	}
	bits += 0x7fff + (bits>>16)&1
	return uint16(bits >> 16)
}
