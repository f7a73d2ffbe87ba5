package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrNegativeOffset = errors.New("source map offset must not be negative")

type SourceMapParams struct {
	OriginalCode string
	Offset       int // Number of lines inserted before the original code
	FilePath     string
	RootPath     string
}

type sourceMapV3 struct {
	Version        int      `json:"version"`
	File           string   `json:"file"`
	SourceRoot     string   `json:"sourceRoot"`
	Sources        []string `json:"sources"`
	SourcesContent []string `json:"sourcesContent"`
	Names          []string `json:"names"`
	Mappings       string   `json:"mappings"`
}

// sourceMapFileName is the module path relative to the served root, with
// forward slashes and no leading slash.
func sourceMapFileName(filePath string, rootPath string) string {
	name := strings.ReplaceAll(filePath, "\\", "/")
	name = trimRootPrefix(name, strings.ReplaceAll(rootPath, "\\", "/"))
	name = strings.TrimPrefix(name, "./")
	return strings.TrimLeft(name, "/")
}

// offsetMappings maps generated line offset+k to original line k, column 0.
// Every original line after the first is a single segment moving one line
// down in the source (AACA).
func offsetMappings(originalCode string, offset int) string {
	lineCount := strings.Count(originalCode, "\n") + 1

	var builder strings.Builder
	builder.Grow(offset + 4 + (lineCount-1)*5)
	builder.WriteString(strings.Repeat(";", offset))
	builder.WriteString("AAAA")
	for i := 1; i < lineCount; i++ {
		builder.WriteString(";AACA")
	}
	return builder.String()
}

// GenerateOffsetSourceMap builds a version 3 source map for code that was
// shifted down by Offset lines without any other change.
func GenerateOffsetSourceMap(params SourceMapParams) (string, error) {
	if params.Offset < 0 {
		return "", fmt.Errorf("%w: %d", ErrNegativeOffset, params.Offset)
	}

	fileName := sourceMapFileName(params.FilePath, params.RootPath)
	sourceMap := sourceMapV3{
		Version:        3,
		File:           fileName,
		SourceRoot:     "/",
		Sources:        []string{fileName},
		SourcesContent: []string{params.OriginalCode},
		Names:          []string{},
		Mappings:       offsetMappings(params.OriginalCode, params.Offset),
	}

	encoded, err := json.Marshal(sourceMap)
	if err != nil {
		return "", fmt.Errorf("failed to encode source map for %s: %w", params.FilePath, err)
	}
	return string(encoded), nil
}

// InlineSourceMapComment returns the `//# sourceMappingURL` comment carrying
// sourceMap as a base64 data URL.
func InlineSourceMapComment(sourceMap string) string {
	return "//# sourceMappingURL=data:application/json;charset=utf-8;base64," +
		base64.StdEncoding.EncodeToString([]byte(sourceMap))
}
