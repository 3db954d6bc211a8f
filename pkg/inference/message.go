package inference

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

func NewModelInferRequest() *dynamicpb.Message {
	return dynamicpb.NewMessage(modelInferRequestDesc)
}

func NewModelInferResponse() *dynamicpb.Message {
	return dynamicpb.NewMessage(modelInferResponseDesc)
}

func IsModelInferRequest(m proto.Message) bool {
	return m != nil && m.ProtoReflect().Descriptor().FullName() == ModelInferRequestName
}

func IsModelInferResponse(m proto.Message) bool {
	return m != nil && m.ProtoReflect().Descriptor().FullName() == ModelInferResponseName
}

// ToJSON projects m onto a JSON object keyed by proto field names, following
// the proto3 JSON mapping (64-bit integers are rendered as strings).
func ToJSON(m proto.Message) (map[string]any, error) {
	raw, err := protojson.MarshalOptions{UseProtoNames: true}.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", m.ProtoReflect().Descriptor().FullName(), err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	out := map[string]any{}
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// RequestFromJSON builds a ModelInferRequest from a REST v2 inference body:
//
//	{"id": "...", "parameters": {...},
//	 "inputs": [{"name", "shape", "datatype", "data", "parameters"}],
//	 "outputs": [{"name", "parameters"}]}
//
// Tensor data may be flat or nested and is placed in the contents field
// matching its datatype. When any input is FP16 or BF16, which have no
// contents field, every input is sent as little-endian bytes in
// raw_input_contents instead. modelName is used when the body carries none.
func RequestFromJSON(modelName string, body map[string]any) (*dynamicpb.Message, error) {
	req := NewModelInferRequest()
	fields := modelInferRequestDesc.Fields()

	if name, ok := body["model_name"].(string); ok && name != "" {
		modelName = name
	}
	req.Set(fields.ByName("model_name"), protoreflect.ValueOfString(modelName))
	if version, ok := body["model_version"].(string); ok {
		req.Set(fields.ByName("model_version"), protoreflect.ValueOfString(version))
	}
	if id, ok := body["id"].(string); ok {
		req.Set(fields.ByName("id"), protoreflect.ValueOfString(id))
	}
	if err := setParameters(req, body["parameters"]); err != nil {
		return nil, err
	}

	inputs, err := asObjects(body["inputs"], "inputs")
	if err != nil {
		return nil, err
	}
	raw := hasRawOnlyInput(inputs)
	inputList := req.Mutable(fields.ByName("inputs")).List()
	for i, in := range inputs {
		elem := inputList.NewElement()
		tensor, err := fillInputTensor(elem.Message(), in, raw)
		if err != nil {
			return nil, fmt.Errorf("inputs[%d]: %w", i, err)
		}
		inputList.Append(elem)
		if raw {
			rawList := req.Mutable(fields.ByName("raw_input_contents")).List()
			rawList.Append(protoreflect.ValueOfBytes(tensor))
		}
	}

	outputs, err := asObjects(body["outputs"], "outputs")
	if err != nil {
		return nil, err
	}
	if len(outputs) > 0 {
		outputList := req.Mutable(fields.ByName("outputs")).List()
		for i, out := range outputs {
			elem := outputList.NewElement()
			msg := elem.Message()
			name, _ := out["name"].(string)
			msg.Set(msg.Descriptor().Fields().ByName("name"), protoreflect.ValueOfString(name))
			if err := setParameters(msg, out["parameters"]); err != nil {
				return nil, fmt.Errorf("outputs[%d]: %w", i, err)
			}
			outputList.Append(elem)
		}
	}
	return req, nil
}

func asObjects(v any, field string) ([]map[string]any, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%s must be a list", field)
	}
	out := make([]map[string]any, 0, len(list))
	for i, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s[%d] must be an object", field, i)
		}
		out = append(out, obj)
	}
	return out, nil
}

// fillInputTensor sets the tensor metadata on msg. With raw set the data is
// returned as raw tensor bytes instead of filling the contents field.
func fillInputTensor(msg protoreflect.Message, in map[string]any, raw bool) ([]byte, error) {
	fields := msg.Descriptor().Fields()
	name, _ := in["name"].(string)
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}
	datatype, _ := in["datatype"].(string)
	if datatype == "" {
		return nil, fmt.Errorf("datatype is required")
	}
	msg.Set(fields.ByName("name"), protoreflect.ValueOfString(name))
	msg.Set(fields.ByName("datatype"), protoreflect.ValueOfString(datatype))

	shape, ok := in["shape"].([]any)
	if !ok {
		return nil, fmt.Errorf("shape must be a list")
	}
	shapeList := msg.Mutable(fields.ByName("shape")).List()
	for _, dim := range shape {
		d, err := toInt64(dim)
		if err != nil {
			return nil, fmt.Errorf("shape: %w", err)
		}
		shapeList.Append(protoreflect.ValueOfInt64(d))
	}
	if err := setParameters(msg, in["parameters"]); err != nil {
		return nil, err
	}

	var data []any
	flatten(in["data"], &data)
	if raw {
		return encodeRaw(datatype, data)
	}
	contents := msg.Mutable(fields.ByName("contents")).Message()
	return nil, fillContents(contents, datatype, data)
}

func flatten(v any, out *[]any) {
	if list, ok := v.([]any); ok {
		for _, item := range list {
			flatten(item, out)
		}
		return
	}
	if v != nil {
		*out = append(*out, v)
	}
}

func fillContents(contents protoreflect.Message, datatype string, data []any) error {
	fields := contents.Descriptor().Fields()
	var field string
	var convert func(any) (protoreflect.Value, error)
	switch datatype {
	case "BOOL":
		field = "bool_contents"
		convert = func(v any) (protoreflect.Value, error) {
			b, ok := v.(bool)
			if !ok {
				return protoreflect.Value{}, fmt.Errorf("expected bool, got %T", v)
			}
			return protoreflect.ValueOfBool(b), nil
		}
	case "INT8", "INT16", "INT32":
		field = "int_contents"
		convert = func(v any) (protoreflect.Value, error) {
			i, err := toInt64(v)
			if err != nil || i < math.MinInt32 || i > math.MaxInt32 {
				return protoreflect.Value{}, fmt.Errorf("expected int32, got %v", v)
			}
			return protoreflect.ValueOfInt32(int32(i)), nil
		}
	case "INT64":
		field = "int64_contents"
		convert = func(v any) (protoreflect.Value, error) {
			i, err := toInt64(v)
			return protoreflect.ValueOfInt64(i), err
		}
	case "UINT8", "UINT16", "UINT32":
		field = "uint_contents"
		convert = func(v any) (protoreflect.Value, error) {
			i, err := toInt64(v)
			if err != nil || i < 0 || i > math.MaxUint32 {
				return protoreflect.Value{}, fmt.Errorf("expected uint32, got %v", v)
			}
			return protoreflect.ValueOfUint32(uint32(i)), nil
		}
	case "UINT64":
		field = "uint64_contents"
		convert = func(v any) (protoreflect.Value, error) {
			u, err := toUint64(v)
			return protoreflect.ValueOfUint64(u), err
		}
	case "FP32":
		field = "fp32_contents"
		convert = func(v any) (protoreflect.Value, error) {
			f, err := toFloat64(v)
			return protoreflect.ValueOfFloat32(float32(f)), err
		}
	case "FP64":
		field = "fp64_contents"
		convert = func(v any) (protoreflect.Value, error) {
			f, err := toFloat64(v)
			return protoreflect.ValueOfFloat64(f), err
		}
	case "BYTES":
		field = "bytes_contents"
		convert = func(v any) (protoreflect.Value, error) {
			s, ok := v.(string)
			if !ok {
				return protoreflect.Value{}, fmt.Errorf("expected string, got %T", v)
			}
			return protoreflect.ValueOfBytes([]byte(s)), nil
		}
	default:
		return fmt.Errorf("datatype %s has no typed contents field", datatype)
	}

	list := contents.Mutable(fields.ByName(protoreflect.Name(field))).List()
	for i, v := range data {
		pv, err := convert(v)
		if err != nil {
			return fmt.Errorf("data[%d]: %w", i, err)
		}
		list.Append(pv)
	}
	return nil
}

func setParameters(msg protoreflect.Message, v any) error {
	if v == nil {
		return nil
	}
	params, ok := v.(map[string]any)
	if !ok {
		return fmt.Errorf("parameters must be an object")
	}
	if len(params) == 0 {
		return nil
	}
	fields := inferParameterDesc.Fields()
	m := msg.Mutable(msg.Descriptor().Fields().ByName("parameters")).Map()
	for key, raw := range params {
		param := dynamicpb.NewMessage(inferParameterDesc)
		switch p := raw.(type) {
		case bool:
			param.Set(fields.ByName("bool_param"), protoreflect.ValueOfBool(p))
		case string:
			param.Set(fields.ByName("string_param"), protoreflect.ValueOfString(p))
		default:
			if i, err := toInt64(p); err == nil {
				param.Set(fields.ByName("int64_param"), protoreflect.ValueOfInt64(i))
			} else if f, err := toFloat64(p); err == nil {
				param.Set(fields.ByName("double_param"), protoreflect.ValueOfFloat64(f))
			} else {
				return fmt.Errorf("parameter %q: unsupported value %v", key, raw)
			}
		}
		m.Set(protoreflect.ValueOfString(key).MapKey(), protoreflect.ValueOfMessage(param))
	}
	return nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		return n.Int64()
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int64(n), nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	}
	return 0, fmt.Errorf("expected integer, got %T", v)
}

func toUint64(v any) (uint64, error) {
	switch n := v.(type) {
	case json.Number:
		u, err := strconv.ParseUint(n.String(), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%s is not an unsigned integer", n)
		}
		return u, nil
	case uint64:
		return n, nil
	}
	i, err := toInt64(v)
	if err != nil || i < 0 {
		return 0, fmt.Errorf("expected unsigned integer, got %v", v)
	}
	return uint64(i), nil
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case json.Number:
		return n.Float64()
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("expected number, got %T", v)
}
