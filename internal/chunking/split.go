package chunking

import (
	"strings"
	"unicode/utf8"
)

// piece is one size-pass output within a segment.
type piece struct {
	text         string
	typ          Type
	language     string
	overlapsPrev bool
}

// splitSegment applies the size-control pass to one structural segment.
func (e *Engine) splitSegment(seg segment) []piece {
	text := strings.TrimRight(seg.text, "\n")
	if strings.TrimSpace(text) == "" {
		return nil
	}

	typ := seg.typ
	language := seg.language
	if typ == TypeCodeBlock && language == "" {
		language = DetectLanguage(text)
	}

	size := e.cfg.ChunkSize
	if len(text) <= size {
		return []piece{{text: text, typ: typ, language: language}}
	}

	switch typ {
	case TypeCodeBlock:
		fenced := strings.HasPrefix(strings.TrimLeft(text, " "), "```") ||
			strings.HasPrefix(strings.TrimLeft(text, " "), "~~~")
		if e.cfg.PreserveCodeBlocks && fenced {
			// Fenced blocks stay whole regardless of size.
			return []piece{{text: text, typ: typ, language: language}}
		}
		return splitByLines(text, size, typ, language)

	case TypeTable:
		return splitByLines(text, size, typ, "")

	case TypeList:
		return e.splitList(text, size)

	default:
		return e.overlapSplit(text, typ, language)
	}
}

// splitByLines groups whole lines into pieces of at most size characters.
// A single oversized line is never split; table rows stay intact.
func splitByLines(text string, size int, typ Type, language string) []piece {
	lines := strings.Split(text, "\n")
	var pieces []piece
	var cur []string
	curLen := 0

	for _, line := range lines {
		if curLen > 0 && curLen+len(line)+1 > size {
			pieces = append(pieces, piece{text: strings.Join(cur, "\n"), typ: typ, language: language})
			cur = nil
			curLen = 0
		}
		cur = append(cur, line)
		curLen += len(line) + 1
	}
	if len(cur) > 0 {
		pieces = append(pieces, piece{text: strings.Join(cur, "\n"), typ: typ, language: language})
	}
	return pieces
}

// splitList groups list items into pieces, keeping items whole when
// possible; a single oversized item falls back to text splitting.
func (e *Engine) splitList(text string, size int) []piece {
	lines := strings.Split(text, "\n")

	// Group lines into items: a new item starts at a list marker.
	var items []string
	var cur []string
	for _, line := range lines {
		if listItemRe.MatchString(line) && len(cur) > 0 {
			items = append(items, strings.Join(cur, "\n"))
			cur = nil
		}
		cur = append(cur, line)
	}
	if len(cur) > 0 {
		items = append(items, strings.Join(cur, "\n"))
	}

	var pieces []piece
	var buf []string
	bufLen := 0
	flushBuf := func() {
		if len(buf) > 0 {
			pieces = append(pieces, piece{text: strings.Join(buf, "\n"), typ: TypeList})
			buf = nil
			bufLen = 0
		}
	}

	for _, item := range items {
		if len(item) > size {
			flushBuf()
			for _, p := range e.overlapSplit(item, TypeList, "") {
				pieces = append(pieces, p)
			}
			continue
		}
		if bufLen > 0 && bufLen+len(item)+1 > size {
			flushBuf()
		}
		buf = append(buf, item)
		bufLen += len(item) + 1
	}
	flushBuf()
	return pieces
}

// overlapSplit splits text into size-targeted pieces sharing an overlap
// suffix/prefix, preferring paragraph, then sentence, then word
// boundaries. Total piece bytes never exceed maxInflation times the
// source length.
func (e *Engine) overlapSplit(text string, typ Type, language string) []piece {
	size := e.cfg.ChunkSize
	overlap := int(e.cfg.OverlapRatio * float64(size))

	// Cap overlap so steady-state inflation size/(size-overlap) stays
	// within budget.
	if maxOverlap := size - int(float64(size)/maxInflation); overlap > maxOverlap {
		overlap = maxOverlap
	}

	pieces := e.overlapSplitWith(text, typ, language, size, overlap)

	total := 0
	for _, p := range pieces {
		total += len(p.text)
	}
	if float64(total) > maxInflation*float64(len(text)) && overlap > 0 {
		return e.overlapSplitWith(text, typ, language, size, 0)
	}
	return pieces
}

func (e *Engine) overlapSplitWith(text string, typ Type, language string, size, overlap int) []piece {
	var pieces []piece
	start := 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			end = len(text)
		} else {
			end = breakPoint(text, start, end)
		}

		chunk := strings.TrimSpace(text[start:end])
		if chunk != "" {
			pieces = append(pieces, piece{
				text:         chunk,
				typ:          typ,
				language:     language,
				overlapsPrev: len(pieces) > 0 && overlap > 0,
			})
		}

		if end >= len(text) {
			break
		}
		next := end - overlap
		for next > start && !utf8.RuneStart(text[next]) {
			next--
		}
		if next <= start {
			next = end
		}
		start = next
	}
	return pieces
}

// breakPoint finds the best split position in (start, end], preferring a
// paragraph break, then a sentence ending, then whitespace, then the
// nearest rune boundary.
func breakPoint(text string, start, end int) int {
	searchStart := end - 200
	if min := start + (end-start)/2; searchStart < min {
		searchStart = min
	}

	// Paragraph break.
	for i := end - 1; i > searchStart; i-- {
		if text[i] == '\n' && i+1 < len(text) && text[i+1] == '\n' {
			return i + 2
		}
	}
	// Sentence ending followed by space or newline.
	for i := end - 1; i > searchStart; i-- {
		c := text[i]
		if (c == '.' || c == '!' || c == '?') && i+1 < len(text) {
			next := text[i+1]
			if next == ' ' || next == '\n' {
				return i + 1
			}
		}
	}
	// Word boundary.
	for i := end - 1; i > searchStart; i-- {
		if text[i] == ' ' || text[i] == '\n' {
			return i + 1
		}
	}
	// No break character in range; back up so the cut never lands inside
	// a multi-byte rune.
	for end > start && !utf8.RuneStart(text[end]) {
		end--
	}
	if end == start {
		_, n := utf8.DecodeRuneInString(text[start:])
		return start + n
	}
	return end
}
