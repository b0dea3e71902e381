package decision

// ExtractJSON isolates the first balanced top-level JSON object in s,
// tolerating surrounding prose and markdown fences. It returns the
// substring and true, or "" and false when no balanced object exists.
func ExtractJSON(s string) (string, bool) {
	candidates := Candidates(s)
	if len(candidates) == 0 {
		return "", false
	}
	return candidates[0], true
}

// Candidates scans s for top-level JSON object candidates in order of
// appearance. A byte-level state machine tracks string and escape state so
// braces inside quoted values never perturb the depth counter, which is the
// correctness-critical invariant here.
//
// Iterating bytes is safe for the ASCII delimiters involved ({, }, ", \)
// because UTF-8 guarantees ASCII bytes never occur inside a multi-byte
// sequence.
func Candidates(s string) []string {
	var candidates []string
	var depth int
	start := -1
	var inString bool
	var escape bool

	for i := 0; i < len(s); i++ {
		b := s[i]

		if escape {
			escape = false
			continue
		}

		if inString {
			if b == '\\' {
				escape = true
			} else if b == '"' {
				inString = false
			}
			continue
		}

		if b == '"' {
			// Quotes only toggle string state once an object has
			// opened; stray quotes in leading prose are plain text.
			if depth > 0 {
				inString = true
			}
			continue
		}

		if b == '{' {
			if depth == 0 {
				start = i
			}
			depth++
		} else if b == '}' {
			if depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					candidates = append(candidates, s[start:i+1])
					start = -1
				}
			}
		}
	}

	return candidates
}
