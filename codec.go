package kinetic

import (
	"bytes"
	"encoding/gob"
)

// gobEncode and gobDecode back every component/event payload that
// crosses a type-erased boundary: command buffer payloads, recorded
// boxed-object component/event bytes. gob is self-describing and
// produces a deterministic encoding for a given concrete type on the
// producing side, which is exactly the serializer contract §6 asks for;
// it is used here instead of encoding/json (what the teacher's
// Component.Serialize used for save-game data) because it composes
// directly with the otherwise-binary command/recording streams without
// a text-encoding detour.
func gobEncode(value any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(payload []byte, out any) error {
	return gob.NewDecoder(bytes.NewReader(payload)).Decode(out)
}
