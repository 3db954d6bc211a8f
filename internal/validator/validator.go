package validator

import (
	"reflect"

	"github.com/Meesho/BharatMLStack/serving-adapter/internal/errors"
	"github.com/Meesho/BharatMLStack/serving-adapter/internal/payload"
)

const ReasonNotAList = `Expected "instances" or "inputs" to be a list`

var batchKeys = []string{"instances", "inputs"}

// Validate checks the batch field of a JSON object payload. Any other
// payload passes through unchecked.
func Validate(p payload.Payload) (payload.Payload, error) {
	obj, ok := p.Object()
	if !ok {
		return p, nil
	}
	for _, key := range batchKeys {
		if v, present := obj[key]; present && !isList(v) {
			return p, &errors.ClientError{Reason: ReasonNotAList}
		}
	}
	return p, nil
}

func isList(v any) bool {
	if v == nil {
		return false
	}
	if _, ok := v.([]byte); ok {
		return false
	}
	kind := reflect.TypeOf(v).Kind()
	return kind == reflect.Slice || kind == reflect.Array
}
