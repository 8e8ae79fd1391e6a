// Package chunking turns document text into ordered, overlap-aware chunks
// that preserve markdown structure.
//
// Chunking is deterministic: the same content and config always produce the
// same chunks, including ids, which derive from the file, the chunk position,
// and the chunk content hash.
package chunking

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Type labels the structural origin of a chunk.
type Type string

const (
	TypeHeaderSection Type = "header_section"
	TypeCodeBlock     Type = "code_block"
	TypeList          Type = "list"
	TypeParagraph     Type = "paragraph"
	TypeTable         Type = "table"
)

// Strategy selects the splitting algorithm.
type Strategy string

const (
	// StrategyBaseline splits purely by size, ignoring structure.
	StrategyBaseline Strategy = "baseline"

	// StrategyMarkdownIntelligent is the structural two-pass splitter.
	StrategyMarkdownIntelligent Strategy = "markdown_intelligent"

	// StrategyAuto picks markdown_intelligent for .md files and baseline
	// otherwise.
	StrategyAuto Strategy = "auto"
)

// Document is the input to the engine.
type Document struct {
	CollectionID string
	FileID       string

	// FileKey is the stable folder/name key; it seeds chunk ids.
	FileKey string

	Content string
}

// Chunk is one semantic slice of a document.
type Chunk struct {
	ID           string   `json:"id"`
	CollectionID string   `json:"collection_id"`
	FileID       string   `json:"file_id"`
	FileKey      string   `json:"file_key"`
	Position     int      `json:"position"`
	Text         string   `json:"text"`
	Length       int      `json:"length"`
	ContainsCode bool     `json:"contains_code"`
	Language     string   `json:"programming_language,omitempty"`
	Headers      []string `json:"header_hierarchy,omitempty"`
	Type         Type     `json:"chunk_type"`
	ContentHash  string   `json:"content_hash"`

	// Relations by chunk id. OverlapPartners is symmetric.
	PrevID          string   `json:"prev_id,omitempty"`
	NextID          string   `json:"next_id,omitempty"`
	OverlapPartners []string `json:"overlap_partners,omitempty"`
	ParentSectionID string   `json:"parent_section_id,omitempty"`
}

// RelatedIDs returns every declared relation of the chunk.
func (c *Chunk) RelatedIDs() []string {
	var ids []string
	if c.PrevID != "" {
		ids = append(ids, c.PrevID)
	}
	if c.NextID != "" {
		ids = append(ids, c.NextID)
	}
	ids = append(ids, c.OverlapPartners...)
	if c.ParentSectionID != "" {
		ids = append(ids, c.ParentSectionID)
	}
	return ids
}

// Config tunes the engine.
type Config struct {
	Strategy Strategy

	// ChunkSize is the target chunk length in characters.
	ChunkSize int

	// OverlapRatio is the fraction of ChunkSize shared between adjacent
	// chunks in a segment. Clamped to [0, 0.3].
	OverlapRatio float64

	// PreserveCodeBlocks keeps fenced code blocks whole regardless of size.
	PreserveCodeBlocks bool

	// MaxHeaderDepth bounds the header hierarchy; deeper headers are
	// treated as plain text.
	MaxHeaderDepth int
}

const (
	DefaultChunkSize      = 1000
	DefaultOverlapRatio   = 0.2
	MaxOverlapRatio       = 0.3
	DefaultMaxHeaderDepth = 4

	// maxInflation caps total chunk bytes relative to the source segment;
	// overlap is reduced when it would exceed this.
	maxInflation = 1.4
)

// normalized applies defaults and clamps.
func (c Config) normalized() Config {
	if c.Strategy == "" {
		c.Strategy = StrategyMarkdownIntelligent
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.OverlapRatio < 0 {
		c.OverlapRatio = 0
	}
	if c.OverlapRatio > MaxOverlapRatio {
		c.OverlapRatio = MaxOverlapRatio
	}
	if c.MaxHeaderDepth <= 0 {
		c.MaxHeaderDepth = DefaultMaxHeaderDepth
	}
	return c
}

// chunkID derives the stable chunk id from file key, position, and content.
func chunkID(fileKey string, position int, text string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%s", fileKey, position, text)))
	return hex.EncodeToString(sum[:])[:32]
}

// hashText is the content hash recorded on each chunk.
func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
