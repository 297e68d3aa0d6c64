package tracker

import (
	"path/filepath"
	"strings"
)

// plainTextType is the generic classification editors report for files they
// could not identify. It must never shadow a known extension.
const plainTextType = "plaintext"

// extensionToLanguage maps known file extensions to language tags.
var extensionToLanguage = map[string]string{
	// C/C++
	"c":   "c",
	"cc":  "cpp",
	"cpp": "cpp",
	"cxx": "cpp",
	"h":   "c",
	"hpp": "cpp",
	"hxx": "cpp",
	// Python
	"py":  "python",
	"pyw": "python",
	"pyi": "python",
	// JavaScript/TypeScript
	"js":  "javascript",
	"jsx": "javascriptreact",
	"ts":  "typescript",
	"tsx": "typescriptreact",
	"mjs": "javascript",
	// Web
	"html": "html",
	"htm":  "html",
	"css":  "css",
	"scss": "scss",
	"sass": "sass",
	"less": "less",
	// Java
	"java": "java",
	// Go
	"go": "go",
	// Rust
	"rs": "rust",
	// Ruby
	"rb": "ruby",
	// PHP
	"php": "php",
	// Shell
	"sh":   "shellscript",
	"bash": "shellscript",
	"zsh":  "shellscript",
	// Other
	"json":  "json",
	"xml":   "xml",
	"yaml":  "yaml",
	"yml":   "yaml",
	"md":    "markdown",
	"sql":   "sql",
	"swift": "swift",
	"kt":    "kotlin",
	"kts":   "kotlin",
}

// ClassifyLanguage resolves the language tag for an edited file. The order is
// load-bearing: known extensions are resolved from the table first so a
// generic or unset ambient classification can never shadow them.
//
//  1. The fixed extension table wins when it knows the extension.
//  2. Otherwise an ambient editor-provided classification is used, unless it
//     is absent or the generic plain-text marker.
//  3. Otherwise the raw extension string.
//  4. Otherwise the literal "unknown".
func ClassifyLanguage(path, ambientType string) string {
	ext := fileExtension(path)

	if ext != "" {
		if language, ok := extensionToLanguage[ext]; ok {
			return language
		}
	}

	if ambientType != "" && ambientType != plainTextType {
		return ambientType
	}

	if ext != "" {
		return ext
	}
	return "unknown"
}

// fileExtension returns the lowercased extension of path without the dot, or
// "" when the file has none.
func fileExtension(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
