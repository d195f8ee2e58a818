package provider

import (
	"encoding/json"
	"fmt"
	"io"
)

const maxProfileBytes = 1 << 20 // upstream profiles are small; cap reads

func decodeJSONBody(r io.Reader, out any) error {
	dec := json.NewDecoder(io.LimitReader(r, maxProfileBytes))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: decoding profile: %v", ErrUpstream, err)
	}
	return nil
}
