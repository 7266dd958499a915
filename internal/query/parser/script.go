package parser

import "strings"

// SplitStatements splits a script into individual statements on top-level
// semicolons. Semicolons inside quoted strings do not split, and "--" comments
// outside quotes run to the end of the line and are dropped. Empty statements
// are skipped.
func SplitStatements(script string) []string {
	var (
		stmts   []string
		current strings.Builder
		quote   byte
	)

	flush := func() {
		s := strings.TrimSpace(current.String())
		if s != "" {
			stmts = append(stmts, s)
		}
		current.Reset()
	}

	for i := 0; i < len(script); i++ {
		ch := script[i]

		if quote != 0 {
			current.WriteByte(ch)
			if ch == quote {
				// A doubled quote stays inside the literal.
				if i+1 < len(script) && script[i+1] == quote {
					current.WriteByte(script[i+1])
					i++
					continue
				}
				quote = 0
			}
			continue
		}

		switch {
		case ch == '\'' || ch == '"':
			quote = ch
			current.WriteByte(ch)
		case ch == '-' && i+1 < len(script) && script[i+1] == '-':
			for i < len(script) && script[i] != '\n' {
				i++
			}
			current.WriteByte('\n')
		case ch == ';':
			flush()
		default:
			current.WriteByte(ch)
		}
	}
	flush()

	return stmts
}
