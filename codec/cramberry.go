package codec

import (
	"github.com/blockberries/cramberry/pkg/cramberry"
)

// Cramberry encodes values with cramberry struct tags.
type Cramberry struct{}

func (Cramberry) Marshal(v any) ([]byte, error) {
	data, err := cramberry.Marshal(v)
	if err != nil {
		return nil, marshalError(err)
	}
	return data, nil
}

func (Cramberry) Unmarshal(data []byte, v any) error {
	if err := cramberry.Unmarshal(data, v); err != nil {
		return unmarshalError(err)
	}
	return nil
}

func (Cramberry) Name() string { return "cramberry" }
