package sites

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultDelimiter separates hierarchy levels inside an identifier.
const DefaultDelimiter = '|'

// Codec maps a relative path under the unit root to a flat identifier and back.
type Codec struct {
	delim string
}

// NewCodec returns a codec that joins path segments with delim. Only ASCII
// punctuation outside "-_./\\" is accepted, since host names and paths use
// those freely.
func NewCodec(delim rune) (Codec, error) {
	if delim >= utf8.RuneSelf || !(unicode.IsPunct(delim) || unicode.IsSymbol(delim)) || strings.ContainsRune("-_./\\", delim) {
		return Codec{}, fmt.Errorf("unusable delimiter %q", delim)
	}
	return Codec{delim: string(delim)}, nil
}

// Delimiter reports the character used between segments.
func (c Codec) Delimiter() string {
	if c.delim == "" {
		return string(DefaultDelimiter)
	}
	return c.delim
}

// Encode joins the segments of a relative path into an identifier. Segments
// that already contain the delimiter fall outside the codec's domain and are
// rejected instead of being silently merged.
func (c Codec) Encode(segments []string) (string, error) {
	if len(segments) == 0 {
		return "", fmt.Errorf("%w: empty path", ErrInvalidIdentifier)
	}
	for _, seg := range segments {
		if err := c.checkSegment(seg); err != nil {
			return "", err
		}
	}
	return strings.Join(segments, c.Delimiter()), nil
}

// Decode splits an identifier into the relative path segments it names. A
// forward slash is accepted as an alias for the delimiter. Identifiers that
// would resolve outside the unit root fail with ErrInvalidIdentifier.
func (c Codec) Decode(identifier string) ([]string, error) {
	if identifier == "" {
		return nil, fmt.Errorf("%w: empty identifier", ErrInvalidIdentifier)
	}
	normalized := strings.ReplaceAll(identifier, "/", c.Delimiter())
	segments := strings.Split(normalized, c.Delimiter())
	for _, seg := range segments {
		if err := c.checkSegment(seg); err != nil {
			return nil, err
		}
	}
	return segments, nil
}

// Canonical returns the identifier in its delimiter-only form.
func (c Codec) Canonical(identifier string) (string, error) {
	segments, err := c.Decode(identifier)
	if err != nil {
		return "", err
	}
	return strings.Join(segments, c.Delimiter()), nil
}

func (c Codec) checkSegment(seg string) error {
	switch {
	case seg == "":
		return fmt.Errorf("%w: empty path segment", ErrInvalidIdentifier)
	case seg == "." || seg == "..":
		return fmt.Errorf("%w: segment %q escapes the unit root", ErrInvalidIdentifier, seg)
	case strings.Contains(seg, c.Delimiter()):
		return fmt.Errorf("%w: segment %q contains the delimiter %q", ErrInvalidIdentifier, seg, c.Delimiter())
	case strings.ContainsAny(seg, "/\\\x00"):
		return fmt.Errorf("%w: segment %q contains a path separator", ErrInvalidIdentifier, seg)
	case !utf8.ValidString(seg):
		return fmt.Errorf("%w: segment %q is not valid UTF-8", ErrInvalidIdentifier, seg)
	}
	return nil
}
