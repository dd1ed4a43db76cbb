package source

import "strings"

// SplitList splits a comma separated list, trimming and upper-casing entries
// and dropping blanks and duplicates. Order is preserved.
func SplitList(s string) []string {
	return clean(strings.Split(s, ","))
}

// CleanList normalises a symbol slice the same way as SplitList.
func CleanList(in []string) []string {
	return clean(in)
}

// ParsePairs accepts pairs as a comma joined string or a slice and returns
// them upper-cased without blanks or duplicates.
func ParsePairs[T string | []string](v T) []string {
	switch v := any(v).(type) {
	case string:
		return SplitList(v)
	case []string:
		return CleanList(v)
	}
	return nil
}

func clean(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
