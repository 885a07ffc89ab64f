package telegram

import (
	"fmt"
	"strings"
)

// pageBudget caps one report message; headerBudget reserves room for the
// "Page i/N" line within it
const (
	pageBudget   = 4000
	headerBudget = 16
)

// Pages splits a report into chunks that fit a single message each, every
// chunk prefixed "Page i/N". Splitting prefers line boundaries.
func Pages(text string) []string {
	chunks := splitChunks(text, pageBudget-headerBudget)
	pages := make([]string, len(chunks))
	for i, c := range chunks {
		pages[i] = fmt.Sprintf("Page %d/%d\n%s", i+1, len(chunks), c)
	}
	return pages
}

func splitChunks(text string, budget int) []string {
	if len(text) <= budget {
		return []string{text}
	}

	var chunks []string
	var cur strings.Builder
	for _, line := range strings.Split(text, "\n") {
		// a single oversized line is hard-split
		for len(line) > budget {
			if cur.Len() > 0 {
				chunks = append(chunks, cur.String())
				cur.Reset()
			}
			cut := budget
			for cut > 0 && cut < len(line) && !isRuneStart(line[cut]) {
				cut--
			}
			chunks = append(chunks, line[:cut])
			line = line[cut:]
		}
		if cur.Len() > 0 && cur.Len()+1+len(line) > budget {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte('\n')
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

func isRuneStart(b byte) bool { return b&0xc0 != 0x80 }
