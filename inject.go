package main

import (
	"strings"
)

// InjectIntoHead inserts element right before </head>, indented one level
// deeper than the <head> line. html without </head> is returned unchanged.
func InjectIntoHead(html string, element string) string {
	return injectBeforeClosingTag(html, "<head>", "</head>", element)
}

// InjectIntoBody inserts element right before </body>.
func InjectIntoBody(html string, element string) string {
	return injectBeforeClosingTag(html, "<body>", "</body>", element)
}

func injectBeforeClosingTag(html string, openTag string, closeTag string, element string) string {
	closeIndex := strings.Index(html, closeTag)
	if closeIndex < 0 {
		return html
	}
	indentation := indentationBefore(html, strings.Index(html, openTag))

	block := indentLines(element, indentation+"\t") + "\n" + indentation + closeTag

	lineStart := closeIndex
	for lineStart > 0 && (html[lineStart-1] == ' ' || html[lineStart-1] == '\t') {
		lineStart--
	}
	if lineStart == 0 || html[lineStart-1] == '\n' {
		return html[:lineStart] + block + html[closeIndex+len(closeTag):]
	}
	return html[:closeIndex] + "\n" + block + html[closeIndex+len(closeTag):]
}

// indentationBefore returns the spaces and tabs directly preceding index.
func indentationBefore(text string, index int) string {
	if index <= 0 {
		return ""
	}
	start := index
	for start > 0 && (text[start-1] == ' ' || text[start-1] == '\t') {
		start--
	}
	return text[start:index]
}

func indentLines(text string, indentation string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = indentation + line
	}
	return strings.Join(lines, "\n")
}
