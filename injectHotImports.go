package main

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	injectedCodeStart  = "////////// START OF INJECTED HOT-RELOAD CODE //////////"
	injectedCodeEnd    = "////////// END OF INJECTED HOT-RELOAD CODE //////////"
	defaultRuntimePath = "/@hot/modules.js"
	tokenAlphabet      = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	tokenLength        = 8
)

// HotImportRewriter turns static imports of served modules into bindings that
// are re-assigned whenever the imported module reloads.
type HotImportRewriter struct {
	RuntimePath string // URL of the module runtime, default "/@hot/modules.js"
	Token       string // Suffix for injected identifiers, random when empty
	NoSourceMap bool
}

type RewriteResult struct {
	Code      string
	SourceMap string // Empty when the source was returned unchanged
	Offset    int    // Number of prologue lines before the original code
	Imports   []ImportStatement
	Changed   bool
}

type hotImportGroup struct {
	canonicalPath string
	attributes    string
	bindings      []ImportStatement
}

func randomToken() string {
	buf := make([]byte, tokenLength)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	for i, b := range buf {
		buf[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return string(buf)
}

// commentOutStatement keeps the statement visible in the served file while
// preserving its line count.
func commentOutStatement(statement string) string {
	if !strings.Contains(statement, "*/") {
		return "/* " + statement + " */"
	}
	return strings.Repeat("\n", strings.Count(statement, "\n"))
}

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(s); err != nil {
		panic(fmt.Sprintf("encoding string literal: %v", err))
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// compactAttributes puts an import attributes object on a single line. It
// drops comments and collapses whitespace outside of string literals.
func compactAttributes(attributes string) string {
	code := []byte(attributes)
	var builder strings.Builder
	space := false
	for i := 0; i < len(code); {
		switch {
		case hasPrefixAt(code, i, "//"):
			i = skipLineComment(code, i)
			space = true
			continue
		case hasPrefixAt(code, i, "/*"):
			i = skipBlockComment(code, i)
			space = true
			continue
		case isWhiteSpace(code[i]):
			i++
			space = true
			continue
		}

		if space && builder.Len() > 0 {
			builder.WriteByte(' ')
		}
		space = false

		if code[i] == '"' || code[i] == '\'' {
			end := skipToStringEnd(code, i, code[i])
			if end < len(code) {
				end++
			}
			builder.Write(code[i:end])
			i = end
			continue
		}
		builder.WriteByte(code[i])
		i++
	}
	return builder.String()
}

// Rewrite rewrites source, the module served at modulePath under rootPath.
// Sources without imports of served modules come back unchanged.
func (r HotImportRewriter) Rewrite(source string, modulePath string, rootPath string) (RewriteResult, error) {
	parsed := ParseImports(source)

	groups := []*hotImportGroup{}
	groupIndex := map[string]*hotImportGroup{}
	var hotSpans []Span
	for _, imp := range parsed.Imports {
		info := ClassifyImportPath(imp.Path, modulePath, rootPath)
		if info.IsBare {
			continue
		}
		attributes := compactAttributes(imp.Attributes)
		key := info.CanonicalPath + "\x00" + attributes
		group, ok := groupIndex[key]
		if !ok {
			group = &hotImportGroup{canonicalPath: info.CanonicalPath, attributes: attributes}
			groupIndex[key] = group
			groups = append(groups, group)
		}
		group.bindings = append(group.bindings, imp)
		if len(hotSpans) == 0 || hotSpans[len(hotSpans)-1] != imp.Span {
			hotSpans = append(hotSpans, imp.Span)
		}
	}

	if len(groups) == 0 {
		return RewriteResult{Code: source, Imports: parsed.Imports}, nil
	}

	token := r.Token
	if token == "" {
		token = randomToken()
	}
	runtimePath := r.RuntimePath
	if runtimePath == "" {
		runtimePath = defaultRuntimePath
	}
	reimport := "reimport_" + token

	lines := []string{injectedCodeStart}
	declared := map[string]bool{}
	for _, group := range groups {
		for _, binding := range group.bindings {
			if declared[binding.ImportName] {
				continue
			}
			declared[binding.ImportName] = true
			lines = append(lines, "let "+binding.ImportName+";")
		}
	}
	lines = append(lines,
		"await (async () => {",
		"\tconst { modules } = await import("+jsString(runtimePath)+");",
		"\tconst "+reimport+" = async () => {",
	)
	for idx, group := range groups {
		namespace := fmt.Sprintf("module_%s_%d", token, idx)
		args := jsString(group.canonicalPath)
		if group.attributes != "" {
			args += ", " + group.attributes
		}
		lines = append(lines, "\t\tconst "+namespace+" = await modules.get("+args+");")
		for _, binding := range group.bindings {
			if binding.ExportName == "*" {
				lines = append(lines, "\t\t"+binding.ImportName+" = "+namespace+";")
				continue
			}
			lines = append(lines, "\t\t"+binding.ImportName+" = "+namespace+"["+jsString(binding.ExportName)+"];")
		}
	}
	lines = append(lines, "\t};", "\tawait "+reimport+"();")
	listened := map[string]bool{}
	for _, group := range groups {
		if listened[group.canonicalPath] {
			continue
		}
		listened[group.canonicalPath] = true
		lines = append(lines, "\tmodules.onReload("+jsString(group.canonicalPath)+", "+reimport+");")
	}
	lines = append(lines, "})();", injectedCodeEnd)

	changes := make([]Change, 0, len(hotSpans))
	for _, span := range hotSpans {
		changes = append(changes, Change{
			Start: int32(span.Start),
			End:   int32(span.End),
			Text:  commentOutStatement(source[span.Start:span.End]),
		})
	}
	body := applyChangesToContent(source, changes)

	result := RewriteResult{
		Code:    strings.Join(lines, "\n") + "\n" + body,
		Offset:  len(lines),
		Imports: parsed.Imports,
		Changed: true,
	}
	if r.NoSourceMap {
		return result, nil
	}

	sourceMap, err := GenerateOffsetSourceMap(SourceMapParams{
		OriginalCode: source,
		Offset:       result.Offset,
		FilePath:     modulePath,
		RootPath:     rootPath,
	})
	if err != nil {
		return RewriteResult{}, err
	}
	result.SourceMap = sourceMap
	result.Code += "\n" + InlineSourceMapComment(sourceMap)
	return result, nil
}

// InjectHotImports rewrites source with a random token and an inline source
// map. It returns source unchanged when nothing needs rewriting.
func InjectHotImports(source string, modulePath string, rootPath string) string {
	result, err := HotImportRewriter{}.Rewrite(source, modulePath, rootPath)
	if err != nil {
		return source
	}
	return result.Code
}
