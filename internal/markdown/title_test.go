package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTitleFromPath(t *testing.T) {
	assert.Equal(t, "Meeting Notes", TitleFromPath("projects/Meeting Notes.md"))
	assert.Equal(t, "Projects", TitleFromPath("Projects"))
	assert.Equal(t, "Café", TitleFromPath("Café.md"))
}

func TestFileNameForTitle(t *testing.T) {
	tests := []struct {
		title string
		isDir bool
		want  string
	}{
		{"Meeting Notes", false, "Meeting Notes.md"},
		{"Projects", true, "Projects"},
		{"a/b:c\\d", false, "a-b-c-d.md"},
		{"", false, "Untitled.md"},
		{"   ", true, "Untitled"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FileNameForTitle(tt.title, tt.isDir), "title %q", tt.title)
	}
}
