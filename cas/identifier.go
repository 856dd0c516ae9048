package cas

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// Binary layout tags. An identifier is a one-byte tag followed by either the
// payload itself or a size-prefixed digest.
const (
	tagData    = 0x00
	tagHashRef = 0x01
)

// SmallContentThreshold is the default payload size, in bytes, under which
// content is embedded directly into its Identifier.
const SmallContentThreshold = 64

// Identifier is a content-addressed key for the store.
//
// An identifier conveys information about the content it points to: its
// logical size and a sha256 digest of its bytes. For very small payloads the
// content itself is embedded in the identifier instead of being referenced by
// a digest; such identifiers resolve without touching any backend.
//
// Two equal identifiers are guaranteed to point to identical bytes. The zero
// value is not a valid identifier.
type Identifier struct {
	// data holds the inline payload for data identifiers; nil selects the
	// hash-ref form.
	data   []byte
	inline bool

	size   uint64
	digest [sha256.Size]byte
}

// NewIdentifier derives the hash-ref identifier of content.
func NewIdentifier(content []byte) Identifier {
	return Identifier{
		size:   uint64(len(content)),
		digest: sha256.Sum256(content),
	}
}

// NewDataIdentifier embeds content directly into the identifier.
func NewDataIdentifier(content []byte) Identifier {
	data := make([]byte, len(content))
	copy(data, content)
	return Identifier{data: data, inline: true, size: uint64(len(content))}
}

// IsData reports whether the identifier embeds its payload.
func (id Identifier) IsData() bool {
	return id.inline
}

// Data returns a copy of the embedded payload of a data identifier.
func (id Identifier) Data() []byte {
	out := make([]byte, len(id.data))
	copy(out, id.data)
	return out
}

// Size returns the logical size of the referenced content.
func (id Identifier) Size() uint64 {
	return id.size
}

// Equal reports whether both identifiers reference the same bytes through the
// same form.
func (id Identifier) Equal(other Identifier) bool {
	if id.inline != other.inline {
		return false
	}
	if id.inline {
		return bytes.Equal(id.data, other.data)
	}
	return id.size == other.size && id.digest == other.digest
}

// IsZero reports whether the identifier is the invalid zero value. Note that
// the identifier of empty content is not zero: its digest is sha256("").
func (id Identifier) IsZero() bool {
	return !id.inline && id.size == 0 && id.digest == [sha256.Size]byte{}
}

// Verify checks content against the identifier's declared size and digest.
func (id Identifier) Verify(content []byte) error {
	if uint64(len(content)) != id.size {
		return fmt.Errorf("%w: size %d, identifier declares %d", ErrCorrupted, len(content), id.size)
	}
	if id.inline {
		if !bytes.Equal(content, id.data) {
			return fmt.Errorf("%w: inline payload mismatch", ErrCorrupted)
		}
		return nil
	}
	if sha256.Sum256(content) != id.digest {
		return fmt.Errorf("%w: digest mismatch", ErrCorrupted)
	}
	return nil
}

func (id Identifier) bytes() []byte {
	if id.inline {
		buf := make([]byte, 1+len(id.data))
		buf[0] = tagData
		copy(buf[1:], id.data)
		return buf
	}
	buf := make([]byte, 1+8+sha256.Size)
	buf[0] = tagHashRef
	binary.BigEndian.PutUint64(buf[1:9], id.size)
	copy(buf[9:], id.digest[:])
	return buf
}

// String returns the canonical text form: raw-URL base64 of the binary
// layout. ParseIdentifier is the exact inverse.
func (id Identifier) String() string {
	return base64.RawURLEncoding.EncodeToString(id.bytes())
}

// ParseIdentifier decodes the text form produced by String.
func ParseIdentifier(s string) (Identifier, error) {
	buf, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Identifier{}, fmt.Errorf("%w: %v", ErrInvalidIdentifier, err)
	}
	if len(buf) == 0 {
		return Identifier{}, fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	}
	switch buf[0] {
	case tagData:
		data := make([]byte, len(buf)-1)
		copy(data, buf[1:])
		return Identifier{data: data, inline: true, size: uint64(len(data))}, nil
	case tagHashRef:
		if len(buf) != 1+8+sha256.Size {
			return Identifier{}, fmt.Errorf("%w: hash-ref length %d", ErrInvalidIdentifier, len(buf))
		}
		id := Identifier{size: binary.BigEndian.Uint64(buf[1:9])}
		copy(id.digest[:], buf[9:])
		return id, nil
	default:
		return Identifier{}, fmt.Errorf("%w: unknown tag %#02x", ErrInvalidIdentifier, buf[0])
	}
}

// MarshalText implements encoding.TextMarshaler.
func (id Identifier) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identifier) UnmarshalText(data []byte) error {
	parsed, err := ParseIdentifier(string(data))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
