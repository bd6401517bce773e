package markdown

import (
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// filenameReplacements maps characters that cannot appear in portable
// filenames to safe substitutes.
var filenameReplacements = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"\x00", "",
)

// TitleFromPath derives a document title from a local relative path: the
// final path element with any .md extension stripped, NFC-normalized.
// Container and database directories use the directory name directly.
func TitleFromPath(relPath string) string {
	base := path.Base(relPath)
	base = strings.TrimSuffix(base, ".md")

	return string(norm.NFC.Bytes([]byte(base)))
}

// FileNameForTitle maps a remote document title to a local file or directory
// name. Leaf pages and database entries get a .md extension; containers and
// databases become bare directory names.
func FileNameForTitle(title string, isDir bool) string {
	name := filenameReplacements.Replace(string(norm.NFC.Bytes([]byte(title))))
	name = strings.TrimSpace(name)

	if name == "" {
		name = "Untitled"
	}

	if isDir {
		return name
	}

	return name + ".md"
}
