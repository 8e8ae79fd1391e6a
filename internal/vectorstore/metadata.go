package vectorstore

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/shelfd/internal/apperr"
	"github.com/fyrsmithlabs/shelfd/internal/chunking"
)

// HierarchySeparator joins header hierarchy entries when flattened to a
// single metadata string.
const HierarchySeparator = " > "

// relationSeparator joins id lists.
const relationSeparator = ","

// NormalizeChunk builds the primitive-only metadata mirror of a chunk:
// lists become delimited strings preserving order, enums their symbolic
// names, timestamps RFC-3339, and null fields are omitted.
func NormalizeChunk(c *chunking.Chunk, fingerprint string, indexedAt time.Time) (map[string]any, error) {
	meta := map[string]any{
		"chunk_id":      c.ID,
		"collection_id": c.CollectionID,
		"file_id":       c.FileID,
		"file_key":      c.FileKey,
		"position":      c.Position,
		"length":        c.Length,
		"contains_code": c.ContainsCode,
		"chunk_type":    string(c.Type),
		"content_hash":  c.ContentHash,
		"fingerprint":   fingerprint,
		"indexed_at":    indexedAt.UTC(),
	}
	if c.Language != "" {
		meta["programming_language"] = c.Language
	}
	if len(c.Headers) > 0 {
		meta["header_hierarchy"] = strings.Join(c.Headers, HierarchySeparator)
	}
	if c.PrevID != "" {
		meta["prev_id"] = c.PrevID
	}
	if c.NextID != "" {
		meta["next_id"] = c.NextID
	}
	if len(c.OverlapPartners) > 0 {
		meta["overlap_partners"] = strings.Join(c.OverlapPartners, relationSeparator)
	}
	if c.ParentSectionID != "" {
		meta["parent_section_id"] = c.ParentSectionID
	}
	if related := c.RelatedIDs(); len(related) > 0 {
		meta["related"] = strings.Join(related, relationSeparator)
	}
	return NormalizeMeta(c.ID, meta)
}

// NormalizeMeta flattens a metadata map to primitives. Any value that
// cannot be represented fails the chunk with a chunk_metadata error.
func NormalizeMeta(chunkID string, meta map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(meta))
	for key, value := range meta {
		if value == nil {
			continue
		}
		normalized, err := normalizeValue(value)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindChunkMetadata, "chunk_metadata_error",
				fmt.Sprintf("metadata key %q of chunk %s is not normalizable", key, chunkID), err)
		}
		if normalized != nil {
			out[key] = normalized
		}
	}
	return out, nil
}

func normalizeValue(value any) (any, error) {
	switch v := value.(type) {
	case string, bool, int, int32, int64, float32, float64:
		return v, nil
	case time.Time:
		return v.UTC().Format(time.RFC3339), nil
	case *time.Time:
		if v == nil {
			return nil, nil
		}
		return v.UTC().Format(time.RFC3339), nil
	case []string:
		if len(v) == 0 {
			return nil, nil
		}
		return strings.Join(v, relationSeparator), nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return nil, fmt.Errorf("unsupported metadata type %T", value)
	}
}

// StringifyMeta renders normalized metadata as strings, for backends
// whose payload is string-typed.
func StringifyMeta(meta map[string]any) map[string]string {
	out := make(map[string]string, len(meta))
	for key, value := range meta {
		switch v := value.(type) {
		case string:
			out[key] = v
		case bool:
			out[key] = strconv.FormatBool(v)
		case int:
			out[key] = strconv.Itoa(v)
		case int32:
			out[key] = strconv.FormatInt(int64(v), 10)
		case int64:
			out[key] = strconv.FormatInt(v, 10)
		case float32:
			out[key] = strconv.FormatFloat(float64(v), 'f', -1, 32)
		case float64:
			out[key] = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			out[key] = fmt.Sprintf("%v", v)
		}
	}
	return out
}

// RelatedFromMeta extracts related chunk ids from stored metadata.
func RelatedFromMeta(meta map[string]string) []string {
	raw, ok := meta["related"]
	if !ok || raw == "" {
		return nil
	}
	parts := strings.Split(raw, relationSeparator)
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, p)
		}
	}
	return ids
}
