package storage

import (
	"encoding/json"

	"github.com/vinayprograms/ift/errors"
)

// Serialize encodes v as stored text.
func Serialize(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "serialize value")
	}
	return string(data), nil
}

// Deserialize decodes stored text. Text that is not valid JSON is returned
// unchanged as a string.
func Deserialize(data string) any {
	var v any
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return data
	}
	return v
}

// decodeStored is Deserialize for a stored value that may be absent.
func decodeStored(data []byte) any {
	if data == nil {
		return nil
	}
	return Deserialize(string(data))
}
