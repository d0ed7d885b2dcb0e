package codec

// Bytes is the identity codec for []byte values. Encode copies, so a caller
// reusing its buffer after Set cannot change what the tiers hold.
type Bytes struct{}

func (Bytes) Encode(b []byte) ([]byte, error) { return append([]byte(nil), b...), nil }
func (Bytes) Decode(b []byte) ([]byte, error) { return b, nil }

// String stores Go strings as their UTF-8 bytes. No validation is performed.
type String struct{}

func (String) Encode(s string) ([]byte, error) { return []byte(s), nil }
func (String) Decode(b []byte) (string, error) { return string(b), nil }
