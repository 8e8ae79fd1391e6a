package sanitize

import (
	"path"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/shelfd/internal/apperr"
)

// AllowedExtensions lists the file extensions accepted by collections.
var AllowedExtensions = map[string]bool{
	".md":   true,
	".txt":  true,
	".json": true,
}

// ValidateCollectionName checks a human-supplied collection name before
// any I/O. The sanitized identifier becomes the collection id.
func ValidateCollectionName(name string) (id string, err error) {
	if strings.TrimSpace(name) == "" {
		return "", apperr.E(apperr.KindValidation, "missing_collection_name", "collection name must not be empty")
	}
	if strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return "", apperr.Errorf(apperr.KindValidation, "invalid_collection_name",
			"collection name %q must not contain path separators or traversal sequences", name)
	}
	id = Identifier(name)
	if id == "" {
		return "", apperr.Errorf(apperr.KindValidation, "invalid_collection_name",
			"collection name %q contains no usable characters", name)
	}
	return id, nil
}

// ValidateFilename rejects traversal, separators, and disallowed extensions.
func ValidateFilename(name string) error {
	if strings.TrimSpace(name) == "" {
		return apperr.E(apperr.KindValidation, "missing_filename", "filename must not be empty")
	}
	if strings.ContainsAny(name, "/\\") {
		return apperr.Errorf(apperr.KindValidation, "invalid_filename",
			"filename %q must not contain path separators", name)
	}
	if name == "." || name == ".." {
		return apperr.Errorf(apperr.KindValidation, "invalid_filename", "filename %q is reserved", name)
	}
	ext := strings.ToLower(path.Ext(name))
	if !AllowedExtensions[ext] {
		return apperr.Errorf(apperr.KindValidation, "invalid_extension",
			"extension %q is not allowed (want .md, .txt, or .json)", ext)
	}
	return nil
}

// ValidateFolderPath checks a folder path relative to the collection root.
// Empty is valid (collection root). Absolute paths and any ".." segment are
// rejected before touching storage.
func ValidateFolderPath(folder string) error {
	if folder == "" {
		return nil
	}
	if strings.HasPrefix(folder, "/") || strings.HasPrefix(folder, "\\") {
		return apperr.Errorf(apperr.KindValidation, "invalid_folder_path",
			"folder path %q must be relative to the collection root", folder)
	}
	if strings.Contains(folder, "\\") {
		return apperr.Errorf(apperr.KindValidation, "invalid_folder_path",
			"folder path %q must use forward slashes", folder)
	}
	for _, segment := range strings.Split(folder, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return apperr.Errorf(apperr.KindValidation, "invalid_folder_path",
				"folder path %q contains an empty or traversal segment", folder)
		}
	}
	// path.Clean must be a no-op for an already-clean relative path.
	if cleaned := path.Clean(folder); cleaned != folder {
		return apperr.Errorf(apperr.KindValidation, "invalid_folder_path",
			"folder path %q is not in canonical form", folder)
	}
	return nil
}

// ValidateContent requires valid UTF-8.
func ValidateContent(content string) error {
	if !utf8.ValidString(content) {
		return apperr.E(apperr.KindValidation, "invalid_content", "file content must be valid UTF-8")
	}
	return nil
}
