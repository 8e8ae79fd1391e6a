package chunking

import (
	"regexp"
	"strings"
)

// Engine converts documents into chunks. Stateless and safe for
// concurrent use.
type Engine struct {
	cfg Config
}

// New creates an engine with normalized config.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg.normalized()}
}

// Chunk splits the document. Malformed markdown never fails: offending
// segments degrade to size-based paragraph chunks.
func (e *Engine) Chunk(doc Document) []Chunk {
	if strings.TrimSpace(doc.Content) == "" {
		return nil
	}

	strategy := e.cfg.Strategy
	if strategy == StrategyAuto {
		if strings.HasSuffix(strings.ToLower(doc.FileKey), ".md") {
			strategy = StrategyMarkdownIntelligent
		} else {
			strategy = StrategyBaseline
		}
	}

	var segments []segment
	if strategy == StrategyBaseline {
		segments = []segment{{typ: TypeParagraph, text: doc.Content}}
	} else {
		segments = parseSegments(doc.Content, e.cfg.MaxHeaderDepth)
	}

	return e.assemble(doc, segments)
}

// segment is one structural region of the document.
type segment struct {
	typ      Type
	text     string
	headers  []string
	language string

	// isHeader marks segments that open a header section; their first
	// chunk becomes the parent-section id for enclosed segments.
	isHeader bool

	// parentIdx is the index of the nearest enclosing header segment,
	// or -1.
	parentIdx int
}

var (
	atxHeaderRe  = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*\s*$`)
	fenceRe      = regexp.MustCompile("^(```|~~~)\\s*([A-Za-z0-9+#_.-]*)")
	listItemRe   = regexp.MustCompile(`^\s{0,3}(?:[-*+]|\d{1,9}[.)])\s+`)
	tableRowRe   = regexp.MustCompile(`^\s{0,3}\|.*\|\s*$`)
	setextH1Re   = regexp.MustCompile(`^=+\s*$`)
	setextH2Re   = regexp.MustCompile(`^-{2,}\s*$`)
	indentCodeRe = regexp.MustCompile(`^(?: {4}|\t)`)
)

// parseSegments is the structural pass: headers (ATX and Setext), fenced
// and indented code, lists, tables, blockquotes, and paragraphs, each
// carrying its enclosing header path.
func parseSegments(content string, maxHeaderDepth int) []segment {
	lines := strings.Split(content, "\n")

	var (
		segments []segment
		cur      []string
		curType  Type
		curLang  string
		isHeader bool

		headerStack []string // titles, outermost first
		levelStack  []int    // matching header levels

		// headerSegIdx tracks the segment index of the innermost open
		// header section, -1 when none.
		headerSegIdx = -1

		inFence     bool
		fenceMarker string
		prevBlank   = true
	)

	parentFor := func(forHeader bool, level int) int {
		if !forHeader {
			return headerSegIdx
		}
		// A header's parent is the nearest open header of smaller level;
		// walk segments backwards through the recorded stack.
		for i := len(levelStack) - 1; i >= 0; i-- {
			if levelStack[i] < level {
				return headerIdxAt(segments, i)
			}
		}
		return -1
	}

	flush := func() {
		if len(cur) == 0 {
			return
		}
		text := strings.TrimRight(strings.Join(cur, "\n"), "\n")
		if strings.TrimSpace(text) != "" {
			seg := segment{
				typ:       curType,
				text:      text,
				headers:   append([]string(nil), headerStack...),
				language:  curLang,
				isHeader:  isHeader,
				parentIdx: headerSegIdx,
			}
			if isHeader {
				seg.parentIdx = parentFor(true, levelStack[len(levelStack)-1])
			}
			segments = append(segments, seg)
			if isHeader {
				headerSegIdx = len(segments) - 1
			}
		}
		cur = nil
		curType = TypeParagraph
		curLang = ""
		isHeader = false
	}

	openHeader := func(level int, title string, rawLines ...string) {
		flush()
		// Pop deeper or equal levels.
		for len(levelStack) > 0 && levelStack[len(levelStack)-1] >= level {
			levelStack = levelStack[:len(levelStack)-1]
			headerStack = headerStack[:len(headerStack)-1]
		}
		headerStack = append(headerStack, title)
		levelStack = append(levelStack, level)
		// The enclosing header for this new section is resolved in flush.
		headerSegIdx = parentFor(true, level)
		cur = append(cur, rawLines...)
		curType = TypeHeaderSection
		isHeader = true
	}

	curType = TypeParagraph
	for _, line := range lines {
		blank := strings.TrimSpace(line) == ""

		if inFence {
			cur = append(cur, line)
			if m := fenceRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil && strings.HasPrefix(m[1], fenceMarker[:1]) && m[2] == "" {
				inFence = false
				flush()
			}
			prevBlank = false
			continue
		}

		trimmed := strings.TrimLeft(line, " ")
		if m := fenceRe.FindStringSubmatch(trimmed); m != nil && strings.HasPrefix(trimmed, m[1]) {
			flush()
			inFence = true
			fenceMarker = m[1]
			curType = TypeCodeBlock
			curLang = strings.ToLower(m[2])
			cur = append(cur, line)
			prevBlank = false
			continue
		}

		if m := atxHeaderRe.FindStringSubmatch(line); m != nil && len(m[1]) <= maxHeaderDepth {
			openHeader(len(m[1]), strings.TrimSpace(m[2]), line)
			prevBlank = false
			continue
		}

		// Setext headers: a prose line underlined with = or -.
		if len(cur) > 0 && (curType == TypeParagraph || curType == TypeHeaderSection) && !prevBlank {
			level := 0
			if setextH1Re.MatchString(line) {
				level = 1
			} else if setextH2Re.MatchString(line) && !listItemRe.MatchString(cur[len(cur)-1]) {
				level = 2
			}
			title := strings.TrimSpace(cur[len(cur)-1])
			if level > 0 && level <= maxHeaderDepth && title != "" {
				cur = cur[:len(cur)-1]
				flush()
				openHeader(level, title, title, line)
				prevBlank = false
				continue
			}
		}

		switch {
		case tableRowRe.MatchString(line):
			if curType != TypeTable {
				flush()
				curType = TypeTable
			}
			cur = append(cur, line)

		case listItemRe.MatchString(line):
			if curType != TypeList {
				flush()
				curType = TypeList
			}
			cur = append(cur, line)

		case curType == TypeList && !blank && strings.HasPrefix(line, " "):
			// Continuation of a list item.
			cur = append(cur, line)

		case indentCodeRe.MatchString(line) && prevBlank && curType != TypeHeaderSection:
			if curType != TypeCodeBlock {
				flush()
				curType = TypeCodeBlock
			}
			cur = append(cur, line)

		case curType == TypeCodeBlock && curLang == "" && (indentCodeRe.MatchString(line) || blank):
			// Indented code continues across blank lines.
			cur = append(cur, line)

		case blank:
			if curType == TypeTable || curType == TypeList || curType == TypeCodeBlock {
				flush()
			} else if len(cur) > 0 {
				cur = append(cur, line)
			}

		default:
			if curType == TypeTable || curType == TypeCodeBlock {
				flush()
			}
			cur = append(cur, line)
		}
		prevBlank = blank
	}

	if inFence {
		// Unclosed fence: degrade the segment to a paragraph so the
		// size pass may split it freely.
		curType = TypeParagraph
		curLang = ""
	}
	flush()

	return segments
}

// headerIdxAt maps a header-stack depth to its segment index. An open
// header at stack depth d carries d+1 titles; the most recent such header
// segment is the open ancestor.
func headerIdxAt(segments []segment, depth int) int {
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i].isHeader && len(segments[i].headers) == depth+1 {
			return i
		}
	}
	return -1
}

// assemble runs the size pass over each segment and wires relations.
func (e *Engine) assemble(doc Document, segments []segment) []Chunk {
	var chunks []Chunk

	// firstChunkOf maps segment index to its first chunk's index.
	firstChunkOf := make(map[int]int, len(segments))

	for segIdx, seg := range segments {
		pieces := e.splitSegment(seg)
		if len(pieces) == 0 {
			continue
		}
		firstChunkOf[segIdx] = len(chunks)

		for i, piece := range pieces {
			position := len(chunks)
			c := Chunk{
				ID:           chunkID(doc.FileKey, position, piece.text),
				CollectionID: doc.CollectionID,
				FileID:       doc.FileID,
				FileKey:      doc.FileKey,
				Position:     position,
				Text:         piece.text,
				Length:       len(piece.text),
				Type:         piece.typ,
				Language:     piece.language,
				ContainsCode: piece.typ == TypeCodeBlock,
				Headers:      seg.headers,
				ContentHash:  hashText(piece.text),
			}

			if parent, ok := firstChunkOf[seg.parentIdx]; ok && seg.parentIdx >= 0 && parent < len(chunks) {
				c.ParentSectionID = chunks[parent].ID
			}

			chunks = append(chunks, c)

			// Overlap partners are symmetric between adjacent pieces of
			// the same segment.
			if i > 0 && piece.overlapsPrev {
				prev := &chunks[len(chunks)-2]
				cur := &chunks[len(chunks)-1]
				prev.OverlapPartners = append(prev.OverlapPartners, cur.ID)
				cur.OverlapPartners = append(cur.OverlapPartners, prev.ID)
			}
		}
	}

	// Prev/next across the whole file.
	for i := range chunks {
		if i > 0 {
			chunks[i].PrevID = chunks[i-1].ID
		}
		if i < len(chunks)-1 {
			chunks[i].NextID = chunks[i+1].ID
		}
	}

	return chunks
}
