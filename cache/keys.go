package cache

import (
	"encoding/binary"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/jmgilman/go/errors"
	"github.com/tmthrgd/go-hex"
)

// KeyDelimiter separates the prefix, kind and identifier segments of a key.
const KeyDelimiter = ":"

// MaxIdentifierLength bounds caller supplied identifiers.
const MaxIdentifierLength = 128

var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// KeyBuilder produces store keys of the form prefix:kind:identifier.
// Every segment is restricted to letters, digits, '_' and '-' so that
// untrusted identifiers cannot inject delimiters or wildcard characters.
type KeyBuilder struct {
	prefix string
}

// NewKeyBuilder validates prefix and returns a builder scoped to it.
func NewKeyBuilder(prefix string) (*KeyBuilder, error) {
	if err := validateSegment("prefix", prefix); err != nil {
		return nil, err
	}
	return &KeyBuilder{prefix: prefix}, nil
}

// Prefix returns the namespace every key starts with.
func (b *KeyBuilder) Prefix() string {
	return b.prefix
}

// Key joins kind and identifier under the builder prefix.
func (b *KeyBuilder) Key(kind, identifier string) (string, error) {
	if err := validateSegment("kind", kind); err != nil {
		return "", err
	}
	if err := validateSegment("identifier", identifier); err != nil {
		return "", err
	}
	return b.prefix + KeyDelimiter + kind + KeyDelimiter + identifier, nil
}

// Hashed builds a key whose identifier is the hex xxhash64 of parts. It is
// used when the identifying data is free-form (method arguments, filters).
func (b *KeyBuilder) Hashed(kind string, parts ...string) (string, error) {
	return b.Key(kind, HashIdentifier(parts...))
}

// KindPrefix returns prefix:kind: for bulk invalidation by prefix.
func (b *KeyBuilder) KindPrefix(kind string) (string, error) {
	if err := validateSegment("kind", kind); err != nil {
		return "", err
	}
	return b.prefix + KeyDelimiter + kind + KeyDelimiter, nil
}

// HashIdentifier digests parts into a 16 character identifier that always
// passes segment validation.
func HashIdentifier(parts ...string) string {
	digest := xxhash.New()
	for i, part := range parts {
		if i > 0 {
			_, _ = digest.WriteString(KeyDelimiter)
		}
		_, _ = digest.WriteString(part)
	}

	var sum [8]byte
	binary.BigEndian.PutUint64(sum[:], digest.Sum64())
	return hex.EncodeToString(sum[:])
}

func validateSegment(name, value string) error {
	err := validation.Validate(value,
		validation.Required,
		validation.Length(1, MaxIdentifierLength),
		validation.Match(segmentPattern),
	)
	if err != nil {
		return errors.WithContext(
			errors.Wrapf(err, errors.CodeInvalidInput, "invalid key %s %q", name, truncate(value)),
			"segment", name,
		)
	}
	return nil
}

func truncate(value string) string {
	if len(value) <= 32 {
		return value
	}
	return strings.ToValidUTF8(value[:32], "") + "..."
}
