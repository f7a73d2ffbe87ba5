package main

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

type GlobMatcher struct {
	globPattern glob.Glob
	inputString string
	// Plain names (no `/` or `*`) match any file or directory with that name, like .gitignore entries
	matchesAnyFileOrDirWithName bool
	patternRoot                 string
}

// CreateGlobMatchers compiles include/exclude patterns. Patterns are matched
// against paths relative to patternsRoot, always with forward slashes.
func CreateGlobMatchers(patterns []string, patternsRoot string) ([]GlobMatcher, error) {
	globMatchers := []GlobMatcher{}
	patternRootNorm := NormalizePathForInternal(patternsRoot)
	if patternRootNorm == "." {
		patternRootNorm = ""
	}
	if patternRootNorm != "" && !strings.HasSuffix(patternRootNorm, "/") {
		patternRootNorm = patternRootNorm + "/"
	}

	for _, pattern := range patterns {
		if err := validatePattern(pattern); err != nil {
			return nil, err
		}
		matchesAnyWithName := !strings.Contains(pattern, "/") && !strings.Contains(pattern, "*")

		if strings.HasSuffix(pattern, "/") && !strings.Contains(pattern, "*") {
			// directory entry matches the whole directory recursively
			pattern = "**" + pattern + "**"
		}

		patternNorm := NormalizeGlobPattern(pattern)
		compiled, err := glob.Compile(patternNorm, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
		}

		globMatchers = append(globMatchers, GlobMatcher{
			globPattern:                 compiled,
			inputString:                 patternNorm,
			patternRoot:                 patternRootNorm,
			matchesAnyFileOrDirWithName: matchesAnyWithName,
		})

		// `**/` needs at least one directory with a '/' separator: `**/*.js` does
		// not match `app.js` and `src/**/*.js` does not match `src/app.js`
		for _, variant := range zeroDirVariants(patternNorm) {
			compiledVariant, err := glob.Compile(variant, '/')
			if err != nil {
				return nil, fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
			}
			globMatchers = append(globMatchers, GlobMatcher{
				globPattern: compiledVariant,
				inputString: variant,
				patternRoot: patternRootNorm,
			})
		}
	}
	return globMatchers, nil
}

func zeroDirVariants(pattern string) []string {
	variants := []string{}
	if strings.HasPrefix(pattern, "**/") {
		variants = append(variants, strings.Replace(pattern, "**/", "", 1))
	}
	if strings.Contains(pattern, "/**/") {
		variants = append(variants, strings.Replace(pattern, "/**/", "/", 1))
	}
	return variants
}

// MustCreateGlobMatchers is CreateGlobMatchers for patterns known at compile time.
func MustCreateGlobMatchers(patterns []string, patternsRoot string) []GlobMatcher {
	matchers, err := CreateGlobMatchers(patterns, patternsRoot)
	if err != nil {
		panic(err)
	}
	return matchers
}

func MatchesAnyGlobMatcher(filePath string, matchers []GlobMatcher) bool {
	fileInternal := NormalizePathForInternal(filePath)
	for _, matcher := range matchers {
		fileWithoutPrefix := strings.TrimPrefix(fileInternal, matcher.patternRoot)
		fileWithoutPrefix = strings.TrimPrefix(fileWithoutPrefix, "./")
		if matcher.globPattern.Match(fileWithoutPrefix) {
			return true
		}
		if !matcher.matchesAnyFileOrDirWithName {
			continue
		}
		if fileWithoutPrefix == matcher.inputString || strings.HasSuffix(fileWithoutPrefix, "/"+matcher.inputString) {
			return true
		}
		if strings.Contains(fileWithoutPrefix, "/"+matcher.inputString+"/") || strings.HasPrefix(fileWithoutPrefix, matcher.inputString+"/") {
			return true
		}
	}
	return false
}

// validatePattern rejects patterns anchored with "./" or "../"; patterns are
// always relative to the folder they are configured for.
func validatePattern(pattern string) error {
	if len(pattern) >= 2 && pattern[0] == '.' && (pattern[1] == '/' || pattern[1] == '\\') {
		return fmt.Errorf("pattern '%s' starts with './' or '.\\', which is not allowed. Use paths that starts with file or directory name", pattern)
	}
	if len(pattern) >= 3 && pattern[0] == '.' && pattern[1] == '.' && (pattern[2] == '/' || pattern[2] == '\\') {
		return fmt.Errorf("pattern '%s' starts with '../' or '..\\', which is not allowed. Use paths that starts with file or directory name", pattern)
	}
	return nil
}
