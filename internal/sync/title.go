package sync

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// DefaultTitleDelimiter separates the person from the leave category in an
// event title such as "Alice Smith - Vacation".
const DefaultTitleDelimiter = "-"

// ErrMalformedTitle marks a title that does not split into exactly two
// non-empty parts. Such events are skipped for good.
var ErrMalformedTitle = errors.New("sync: malformed title")

// CanonicalName is the lookup key for person and leave type names: NFC
// normalized, case folded, with runs of whitespace collapsed to one space.
func CanonicalName(name string) string {
	folded := norm.NFC.String(cases.Fold().String(name))

	return strings.Join(strings.Fields(folded), " ")
}

// ParseTitle splits title on delim and returns the canonical person and
// category names.
func ParseTitle(title, delim string) (person, category string, err error) {
	if delim == "" {
		delim = DefaultTitleDelimiter
	}

	parts := strings.Split(title, delim)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("%w: %q splits into %d parts on %q", ErrMalformedTitle, title, len(parts), delim)
	}

	person = CanonicalName(parts[0])
	category = CanonicalName(parts[1])

	if person == "" || category == "" {
		return "", "", fmt.Errorf("%w: %q has an empty part", ErrMalformedTitle, title)
	}

	return person, category, nil
}
