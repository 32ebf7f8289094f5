package config

import (
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys of each config section, read from the
// toml tags on Config so the two cannot drift apart.
var knownKeys = func() map[string][]string {
	sections := make(map[string][]string)

	t := reflect.TypeFor[Config]()
	for i := range t.NumField() {
		section := t.Field(i)

		keys := make([]string, 0, section.Type.NumField())
		for j := range section.Type.NumField() {
			keys = append(keys, section.Type.Field(j).Tag.Get("toml"))
		}

		sections[section.Tag.Get("toml")] = keys
	}

	return sections
}()

// knownSections is sorted so ties in closestMatch resolve the same way
// every run.
var knownSections = slices.Sorted(maps.Keys(knownKeys))

// sectionKeyOwner maps each key to its section so a key written at the top
// level can point the user at the right table.
var sectionKeyOwner = func() map[string]string {
	owners := make(map[string]string)
	for section, keys := range knownKeys {
		for _, k := range keys {
			owners[k] = section
		}
	}

	return owners
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns an
// error with a suggestion for each unknown key. An unknown table is reported
// once, not once per key inside it.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	reported := make(map[string]bool)

	for _, key := range undecoded {
		section := key[0]
		_, knownSection := knownKeys[section]

		isTable := len(key) == 1 && md.Type(section) == "Hash"
		if (isTable || len(key) > 1) && !knownSection {
			if !reported[section] {
				reported[section] = true
				errs = append(errs, sectionError(section))
			}

			continue
		}

		if len(key) == 1 {
			errs = append(errs, topLevelKeyError(section))
			continue
		}

		errs = append(errs, fieldError(section, strings.Join(key[1:], ".")))
	}

	return errors.Join(errs...)
}

func sectionError(section string) error {
	if suggestion := closestMatch(section, knownSections); suggestion != "" {
		return fmt.Errorf("unknown config section [%s]: did you mean [%s]?", section, suggestion)
	}

	return fmt.Errorf("unknown config section [%s]", section)
}

// topLevelKeyError handles a bare key outside any table. A key that belongs
// to a known section points the user at that section.
func topLevelKeyError(name string) error {
	if section, ok := sectionKeyOwner[name]; ok {
		return fmt.Errorf("unknown config key %q: did you mean %s under [%s]?", name, name, section)
	}

	return fmt.Errorf("unknown config key %q", name)
}

func fieldError(section, field string) error {
	if suggestion := closestMatch(field, knownKeys[section]); suggestion != "" {
		return fmt.Errorf("unknown config key %q in [%s]: did you mean %q?", field, section, suggestion)
	}

	return fmt.Errorf("unknown config key %q in [%s]", field, section)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
