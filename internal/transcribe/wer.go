package transcribe

import (
	"strings"
	"unicode"
)

// WERResult holds detailed word error rate results. For a transcript
// reassembled from live emissions, Insertions count duplicated words and
// Deletions count words the dedup boundary swallowed.
type WERResult struct {
	WER           float64 // 0.0 = perfect
	Substitutions int
	Insertions    int // extra words in hypothesis
	Deletions     int // words missing from hypothesis
	RefWords      int
}

// ComputeWER calculates the word error rate between reference and hypothesis
// text. Both are normalized first: lowercased, punctuation stripped,
// whitespace collapsed. WER = (S + I + D) / reference word count.
func ComputeWER(reference, hypothesis string) WERResult {
	ref := normalizeWords(reference)
	hyp := normalizeWords(hypothesis)

	n, m := len(ref), len(hyp)
	if n == 0 {
		return WERResult{}
	}

	// Edit distance table; d[i][j] is the cost of aligning ref[:i] with hyp[:j].
	d := make([][]int, n+1)
	for i := range d {
		d[i] = make([]int, m+1)
		d[i][0] = i
	}
	for j := 0; j <= m; j++ {
		d[0][j] = j
	}
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			if ref[i-1] == hyp[j-1] {
				d[i][j] = d[i-1][j-1]
				continue
			}
			d[i][j] = min(d[i-1][j-1], d[i-1][j], d[i][j-1]) + 1
		}
	}

	// Walk the table back to attribute each edit.
	var subs, ins, dels int
	for i, j := n, m; i > 0 || j > 0; {
		switch {
		case i > 0 && j > 0 && ref[i-1] == hyp[j-1]:
			i--
			j--
		case i > 0 && j > 0 && d[i][j] == d[i-1][j-1]+1:
			subs++
			i--
			j--
		case i > 0 && d[i][j] == d[i-1][j]+1:
			dels++
			i--
		default:
			ins++
			j--
		}
	}

	return WERResult{
		WER:           float64(subs+ins+dels) / float64(n),
		Substitutions: subs,
		Insertions:    ins,
		Deletions:     dels,
		RefWords:      n,
	}
}

func normalizeWords(s string) []string {
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) {
			return -1
		}
		return r
	}, s)
	return strings.Fields(s)
}
