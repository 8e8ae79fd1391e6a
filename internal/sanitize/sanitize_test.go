package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/shelfd/internal/apperr"
)

func TestIdentifier(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"My Docs", "my_docs"},
		{"docs.example.com", "docs_example_com"},
		{"already_clean", "already_clean"},
		{"Ümläut Docs", "ml_ut_docs"},
		{"___", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Identifier(tt.in), tt.in)
	}
}

func TestIdentifierTruncation(t *testing.T) {
	long := strings.Repeat("a", 200)
	id := Identifier(long)

	assert.LessOrEqual(t, len(id), MaxIdentifierLength)
	// Distinct long inputs must sanitize to distinct ids.
	other := Identifier(strings.Repeat("a", 199) + "b")
	assert.NotEqual(t, id, other)
}

func TestValidateCollectionName(t *testing.T) {
	id, err := ValidateCollectionName("My Docs")
	require.NoError(t, err)
	assert.Equal(t, "my_docs", id)

	for _, bad := range []string{"", "   ", "a/b", `a\b`, "../escape"} {
		_, err := ValidateCollectionName(bad)
		require.Error(t, err, bad)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	}
}

func TestValidateFilename(t *testing.T) {
	for _, good := range []string{"a.md", "notes.txt", "data.json", "README.MD"} {
		assert.NoError(t, ValidateFilename(good), good)
	}
	for _, bad := range []string{"", "a/b.md", "..", "script.sh", "binary.exe", "noext"} {
		err := ValidateFilename(bad)
		require.Error(t, err, bad)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	}
}

func TestValidateFolderPath(t *testing.T) {
	for _, good := range []string{"", "folder", "a/b/c"} {
		assert.NoError(t, ValidateFolderPath(good), good)
	}
	for _, bad := range []string{"/abs", "a/../b", "..", "a//b", "a/./b", `a\b`} {
		err := ValidateFolderPath(bad)
		require.Error(t, err, bad)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	}
}

func TestValidateContent(t *testing.T) {
	assert.NoError(t, ValidateContent("héllo ✓"))

	err := ValidateContent(string([]byte{0xff, 0xfe}))
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}
