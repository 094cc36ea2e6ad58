package comm

import (
	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	// Canonical encoding keeps messages byte-identical across ranks.
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{MaxArrayElements: 1 << 30, MaxMapPairs: 1 << 24}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Marshal encodes v with the wire codec used by every transport.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	if v == nil {
		return nil
	}

	return decMode.Unmarshal(data, v)
}
