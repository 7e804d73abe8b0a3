package serializer

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec encodes stored responses to bytes for the store providers.
type Codec interface {
	Encode(StoredResponse) ([]byte, error)
	Decode([]byte) (StoredResponse, error)
}

// Msgpack is the default codec. The zero value is ready to use.
type Msgpack struct{}

func (Msgpack) Encode(s StoredResponse) ([]byte, error) {
	return msgpack.Marshal(&s)
}

func (Msgpack) Decode(b []byte) (StoredResponse, error) {
	var s StoredResponse
	err := msgpack.Unmarshal(b, &s)
	return s, err
}

// CBOR encodes with fxamacker/cbor. Construct with NewCBOR.
type CBOR struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBOR constructs a CBOR codec using core deterministic encoding, with
// timestamps as RFC3339Nano.
func NewCBOR() (CBOR, error) {
	eo := cbor.CoreDetEncOptions()
	eo.Time = cbor.TimeRFC3339Nano
	em, err := eo.EncMode()
	if err != nil {
		return CBOR{}, err
	}
	dm, err := (cbor.DecOptions{}).DecMode()
	if err != nil {
		return CBOR{}, err
	}
	return CBOR{enc: em, dec: dm}, nil
}

func (c CBOR) Encode(s StoredResponse) ([]byte, error) {
	return c.enc.Marshal(s)
}

func (c CBOR) Decode(b []byte) (StoredResponse, error) {
	var s StoredResponse
	err := c.dec.Unmarshal(b, &s)
	return s, err
}

// ByName returns the codec registered under name ("msgpack" or "cbor").
// An empty name selects msgpack.
func ByName(name string) (Codec, error) {
	switch name {
	case "", "msgpack":
		return Msgpack{}, nil
	case "cbor":
		return NewCBOR()
	default:
		return nil, fmt.Errorf("unsupported codec: %s", name)
	}
}
