package storage

import (
	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode

// Records are encoded with CBOR Core Deterministic Encoding so the same
// logical value always produces the same bytes. See RFC 8949 §4.2.1.
func cborEncoder() (cbor.EncMode, error) {
	if encMode != nil {
		return encMode, nil
	}
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	encMode = enc
	return encMode, nil
}

func marshalRecord(v any) ([]byte, error) {
	enc, err := cborEncoder()
	if err != nil {
		return nil, err
	}
	return enc.Marshal(v)
}

func unmarshalRecord(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}
