package main

import (
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/dlclark/regexp2"
)

// Span is a half-open byte range [Start, End) in the scanned source.
type Span struct {
	Start int
	End   int
}

// ImportStatement is a single binding introduced by a static import.
// A statement that binds several names produces several entries sharing
// Path, Attributes and Span.
type ImportStatement struct {
	Path       string // Specifier as written, without quotes
	ExportName string // "default", "*" or the imported export name
	ImportName string // Local binding name
	Attributes string // Raw attributes object, e.g. `{ type: "json" }`, or ""
	Span       Span   // From `import` through the optional `;`
}

type ParseResult struct {
	Imports       []ImportStatement
	RemainingCode string
}

const identifierPattern = `[A-Za-z_$][\w$]*`

var (
	// default | { named } | * as ns | default, { named } | default, * as ns
	importClauseRegex = regexp2.MustCompile(
		`^(?:(?<default>`+identifierPattern+`)\s*(?:,\s*(?=[{*])|$))?`+
			`(?:\{(?<named>[^{}]*)\}|\*\s*as\s+(?<namespace>`+identifierPattern+`))?$`,
		regexp2.None,
	)
	namedSpecifierRegex = regexp2.MustCompile(
		`^(?<export>`+identifierPattern+`|"[^"]*"|'[^']*')(?:\s+as\s+(?<local>`+identifierPattern+`))?$`,
		regexp2.None,
	)
)

func isWhiteSpace(char byte) bool {
	return (char == ' ' || char == '\t' || char == '\n' || char == '\r')
}

// skipSpaces skips spaces, tabs, and newlines, returns new index
func skipSpaces(code []byte, i int) int {
	for i < len(code) && isWhiteSpace(code[i]) {
		i++
	}
	return i
}

func isByteIdentifierChar(char byte) bool {
	// 0-9 || A-Z || a-z || _ || $
	return (char >= 48 && char <= 57) || (char >= 65 && char <= 90) || (char >= 97 && char <= 122) || char == 95 || char == 36
}

func hasPrefixAt(code []byte, i int, s string) bool {
	if i < 0 || i+len(s) > len(code) {
		return false
	}
	for j := 0; j < len(s); j++ {
		if code[i+j] != s[j] {
			return false
		}
	}
	return true
}

func hasWordAt(code []byte, i int, s string) bool {
	if !hasPrefixAt(code, i, s) {
		return false
	}
	end := i + len(s)
	return end >= len(code) || !isByteIdentifierChar(code[end])
}

// startsWord reports whether position i is not inside an identifier or a
// member access such as `foo.import`.
func startsWord(code []byte, i int) bool {
	if i == 0 {
		return true
	}
	prev := code[i-1]
	return !isByteIdentifierChar(prev) && prev != '.'
}

// parseStringLiteral extracts the string literal at position i (' or ")
func parseStringLiteral(code []byte, i int) (string, int, int, int) {
	quote := code[i]
	i++
	start := i
	for i < len(code) && code[i] != quote {
		if code[i] == '\\' && i+1 < len(code) {
			i++
		}
		i++
	}
	if i >= len(code) {
		return "", i, 0, 0
	}
	return string(code[start:i]), i + 1, start, i
}

// skipToStringEnd skips to the end of a string literal
func skipToStringEnd(code []byte, start int, quote byte) int {
	i := start + 1
	for i < len(code) {
		if code[i] == quote {
			return i
		}
		if code[i] == '\\' && i+1 < len(code) {
			i += 2
		} else {
			i++
		}
	}
	return i
}

// skipLineComment skips to the end of a line comment
func skipLineComment(code []byte, start int) int {
	i := start + 2
	for i < len(code) && code[i] != '\n' {
		i++
	}
	return i
}

// skipBlockComment skips to the end of a block comment
func skipBlockComment(code []byte, start int) int {
	i := start + 2
	for i+1 < len(code) && !(code[i] == '*' && code[i+1] == '/') {
		i++
	}
	if i+1 < len(code) {
		i += 2
	} else {
		i = len(code)
	}
	return i
}

// skipSpacesAndComments skips whitespace, line comments, and block comments
func skipSpacesAndComments(code []byte, i int) int {
	n := len(code)
	for i < n {
		i = skipSpaces(code, i)
		if i+1 < n && code[i] == '/' && code[i+1] == '/' {
			i = skipLineComment(code, i)
			continue
		}
		if i+1 < n && code[i] == '/' && code[i+1] == '*' {
			i = skipBlockComment(code, i)
			continue
		}
		break
	}
	return i
}

// skipOptionalSemicolon skips whitespace (spaces/tabs only) then `;` if present.
// Returns position after `;` if found, or the original position i if not.
func skipOptionalSemicolon(code []byte, i int) int {
	n := len(code)
	j := i
	for j < n && (code[j] == ' ' || code[j] == '\t') {
		j++
	}
	if j < n && code[j] == ';' {
		return j + 1
	}
	return i
}

// skipBalancedBraces expects code[i] == '{' and returns the index just past
// the matching '}', skipping string literals and comments.
func skipBalancedBraces(code []byte, i int) (int, bool) {
	n := len(code)
	depth := 0
	for i < n {
		switch b := code[i]; {
		case b == '{':
			depth++
			i++
		case b == '}':
			depth--
			i++
			if depth == 0 {
				return i, true
			}
		case b == '\'' || b == '"' || b == '`':
			i = skipToStringEnd(code, i, b)
			if i < n {
				i++
			}
		case b == '/' && i+1 < n && code[i+1] == '/':
			i = skipLineComment(code, i)
		case b == '/' && i+1 < n && code[i+1] == '*':
			i = skipBlockComment(code, i)
		default:
			i++
		}
	}
	return i, false
}

// stripComments replaces comments in a clause with a single space.
func stripComments(clause []byte) string {
	var builder strings.Builder
	n := len(clause)
	for i := 0; i < n; {
		if i+1 < n && clause[i] == '/' && clause[i+1] == '/' {
			i = skipLineComment(clause, i)
			builder.WriteByte(' ')
			continue
		}
		if i+1 < n && clause[i] == '/' && clause[i+1] == '*' {
			i = skipBlockComment(clause, i)
			builder.WriteByte(' ')
			continue
		}
		builder.WriteByte(clause[i])
		i++
	}
	return builder.String()
}

type bindingName struct {
	exportName string
	importName string
}

func groupValue(match *regexp2.Match, name string) (string, bool) {
	group := match.GroupByName(name)
	if group == nil || len(group.Captures) == 0 {
		return "", false
	}
	return group.String(), true
}

// parseImportClause matches the text between `import` and `from` against the
// default/named/namespace grammar. ok is false for anything else, including
// TypeScript `import type` clauses.
func parseImportClause(clause string) (bindings []bindingName, ok bool) {
	clause = strings.TrimSpace(clause)
	if clause == "" {
		return nil, false
	}
	match, err := importClauseRegex.FindStringMatch(clause)
	if err != nil || match == nil {
		return nil, false
	}

	if name, found := groupValue(match, "default"); found {
		bindings = append(bindings, bindingName{exportName: "default", importName: name})
	}
	if name, found := groupValue(match, "namespace"); found {
		bindings = append(bindings, bindingName{exportName: "*", importName: name})
	}
	if named, found := groupValue(match, "named"); found {
		specifiers := strings.Split(named, ",")
		for idx, specifier := range specifiers {
			specifier = strings.TrimSpace(specifier)
			if specifier == "" {
				// only a trailing comma (or `{}`) may leave an empty entry
				if idx == len(specifiers)-1 {
					continue
				}
				return nil, false
			}
			specMatch, err := namedSpecifierRegex.FindStringMatch(specifier)
			if err != nil || specMatch == nil {
				return nil, false
			}
			exportName, _ := groupValue(specMatch, "export")
			localName, hasAlias := groupValue(specMatch, "local")
			if exportName[0] == '"' || exportName[0] == '\'' {
				if !hasAlias {
					return nil, false
				}
				exportName = exportName[1 : len(exportName)-1]
			}
			if !hasAlias {
				localName = exportName
			}
			bindings = append(bindings, bindingName{exportName: exportName, importName: localName})
		}
	}

	if len(bindings) == 0 {
		return nil, false
	}
	return bindings, true
}

type parseState struct {
	code    []byte
	n       int
	imports []ImportStatement
	spans   []Span
}

// parseImportStatement tries to read a static binding import starting at the
// `import` keyword at position i. It always returns a position greater than i.
func (s *parseState) parseImportStatement(i int) (int, bool) {
	start := i
	if !hasWordAt(s.code, i, "import") {
		return i + 1, false
	}
	i += len("import")
	if i >= s.n {
		return i, false
	}
	// import.meta, import(...) and identifiers like `imports`
	if !(isWhiteSpace(s.code[i]) || s.code[i] == '{' || s.code[i] == '*' || s.code[i] == '/') {
		return i, false
	}

	i = skipSpacesAndComments(s.code, i)
	if i >= s.n {
		return i, false
	}
	// side-effect import: import "./style.css"
	if s.code[i] == '"' || s.code[i] == '\'' {
		_, next, _, _ := parseStringLiteral(s.code, i)
		return next, false
	}
	if s.code[i] == '(' {
		return i, false
	}

	clauseStart := i
	clauseEnd := -1
	specifierAt := -1
	inBraces := false
	for i < s.n {
		b := s.code[i]
		if i+1 < s.n && b == '/' && s.code[i+1] == '/' {
			i = skipLineComment(s.code, i)
			continue
		}
		if i+1 < s.n && b == '/' && s.code[i+1] == '*' {
			i = skipBlockComment(s.code, i)
			continue
		}
		if inBraces && (b == '"' || b == '\'') {
			i = skipToStringEnd(s.code, i, b) + 1
			continue
		}
		if b == '{' {
			inBraces = true
		} else if b == '}' {
			inBraces = false
		}
		if b == ';' || b == '"' || b == '\'' || b == '`' || b == '(' {
			break
		}
		if startsWord(s.code, i) && hasWordAt(s.code, i, "from") {
			j := skipSpacesAndComments(s.code, i+len("from"))
			if j < s.n && (s.code[j] == '"' || s.code[j] == '\'') {
				clauseEnd = i
				specifierAt = j
				break
			}
		}
		i++
	}
	if clauseEnd < 0 {
		return i, false
	}

	bindings, ok := parseImportClause(stripComments(s.code[clauseStart:clauseEnd]))
	if !ok {
		return specifierAt, false
	}

	path, next, _, _ := parseStringLiteral(s.code, specifierAt)
	if path == "" {
		return next, false
	}
	end := next

	attributes := ""
	j := skipSpacesAndComments(s.code, next)
	if hasWordAt(s.code, j, "with") || hasWordAt(s.code, j, "assert") {
		k := j + len("with")
		if hasWordAt(s.code, j, "assert") {
			k = j + len("assert")
		}
		k = skipSpacesAndComments(s.code, k)
		if k < s.n && s.code[k] == '{' {
			if closeAt, closed := skipBalancedBraces(s.code, k); closed {
				attributes = string(s.code[k:closeAt])
				end = closeAt
			}
		}
	}
	end = skipOptionalSemicolon(s.code, end)

	span := Span{Start: start, End: end}
	for _, binding := range bindings {
		s.imports = append(s.imports, ImportStatement{
			Path:       path,
			ExportName: binding.exportName,
			ImportName: binding.importName,
			Attributes: attributes,
			Span:       span,
		})
	}
	s.spans = append(s.spans, span)
	return end, true
}

func (s *parseState) scan() {
	code := s.code
	n := s.n
	i := 0
	depth := 0 // static imports can only appear at depth 0

	for i < n {
		b := code[i]
		switch {
		case b == '\'' || b == '"' || b == '`':
			i = skipToStringEnd(code, i, b)
			if i < n {
				i++ // advance past closing quote
			}
		case b == '/' && i+1 < n && code[i+1] == '/':
			i = skipLineComment(code, i)
		case b == '/' && i+1 < n && code[i+1] == '*':
			i = skipBlockComment(code, i)
		case b == '{':
			depth++
			i++
		case b == '}':
			if depth > 0 {
				depth--
			}
			i++
		case b == 'i' && depth == 0 && startsWord(code, i):
			i, _ = s.parseImportStatement(i)
		default:
			i++
		}
	}
}

// ParseImports locates every static import statement that binds names and
// returns them in source order, together with the source text that remains
// once those statements (and one line break directly after each) are cut out.
// Import-like text inside strings, template literals and comments is ignored.
func ParseImports(source string) ParseResult {
	state := parseState{
		code:    []byte(source),
		n:       len(source),
		imports: make([]ImportStatement, 0, 16),
	}
	state.scan()

	if len(state.spans) == 0 {
		return ParseResult{Imports: state.imports, RemainingCode: source}
	}

	changes := make([]Change, 0, len(state.spans))
	for _, span := range state.spans {
		end := span.End
		if hasPrefixAt(state.code, end, "\r\n") {
			end += 2
		} else if hasPrefixAt(state.code, end, "\n") {
			end++
		}
		changes = append(changes, Change{Start: int32(span.Start), End: int32(end)})
	}

	return ParseResult{
		Imports:       state.imports,
		RemainingCode: applyChangesToContent(source, changes),
	}
}

type FileImports struct {
	FilePath string
	Imports  []ImportStatement
	Err      error
}

// ParseImportsFromFiles parses files concurrently. Results keep the order of
// filePaths.
func ParseImportsFromFiles(filePaths []string) []FileImports {
	results := make([]FileImports, len(filePaths))
	var wg sync.WaitGroup

	// Limit concurrency to avoid memory spikes
	maxConcurrency := runtime.GOMAXPROCS(0) * 2
	sem := make(chan struct{}, maxConcurrency)

	for idx, filePath := range filePaths {
		wg.Add(1)
		sem <- struct{}{}

		go func(idx int, path string) {
			defer wg.Done()
			defer func() { <-sem }()

			results[idx].FilePath = path
			fileContent, err := os.ReadFile(DenormalizePathForOS(path))
			if err != nil {
				results[idx].Err = err
				return
			}
			results[idx].Imports = ParseImports(string(fileContent)).Imports
		}(idx, filePath)
	}

	wg.Wait()
	return results
}
