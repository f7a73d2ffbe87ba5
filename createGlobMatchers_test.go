package main

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestGlobMatching(t *testing.T) {
	tests := []struct {
		name     string
		root     string
		pattern  string
		filePath string
		matches  bool
	}{
		{"directory with trailing slash in root dir", "/fs/root/", ".git/", "/fs/root/.git/HEAD", true},
		{"directory without slash in root dir", "/fs/root/", "node_modules", "/fs/root/node_modules/lit/index.js", true},
		{"directory without slash in sub dir", "/fs/root/", "node_modules", "/fs/root/pkg/node_modules/lit/index.js", true},
		{"directory with trailing slash in sub dir", "/fs/root/", "build/", "/fs/root/sub/build/app.js", true},
		{"file name in root dir", "/fs/root/", "package.json", "/fs/root/package.json", true},
		{"file name in sub dir", "/fs/root/", "package.json", "/fs/root/sub/package.json", true},
		{"directory wildcard in root dir", "/fs/root/", "**/*.js", "/fs/root/app.js", true},
		{"directory wildcard in sub dir", "/fs/root/", "**/*.js", "/fs/root/src/lib/app.js", true},
		{"inner directory wildcard with no directory", "/fs/root/", "src/**/*.js", "/fs/root/src/app.js", true},
		{"inner directory wildcard with nested directory", "/fs/root/", "src/**/*.js", "/fs/root/src/a/b/app.js", true},
		{"relative path with dot prefix", ".", "*.html", "./index.html", true},
		{"relative root", "", "src/*.js", "src/app.js", true},
		{"single star does not cross directories", "/fs/root/", "*.html", "/fs/root/pages/about.html", false},
		{"nested dir/file pattern without wildcards", "/fs/root/", "bin/file", "/fs/root/data/bin/file", false},
		{"part of the name", "/fs/root/", "logs", "/fs/root/data/my-logs", false},
		{"other extension", "/fs/root/", "**/*.js", "/fs/root/src/styles.css", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			globMatchers, err := CreateGlobMatchers([]string{tt.pattern}, tt.root)
			assert.NilError(t, err)

			assert.Equal(t, MatchesAnyGlobMatcher(tt.filePath, globMatchers), tt.matches)
		})
	}
}

func TestGlobMatchingAnyOfMany(t *testing.T) {
	globMatchers, err := CreateGlobMatchers([]string{"*.html", "**/*.js"}, "src")

	assert.NilError(t, err)
	assert.Assert(t, MatchesAnyGlobMatcher("src/index.html", globMatchers))
	assert.Assert(t, MatchesAnyGlobMatcher("src/lib/util.js", globMatchers))
	assert.Assert(t, !MatchesAnyGlobMatcher("src/lib/util.ts", globMatchers))
	assert.Assert(t, !MatchesAnyGlobMatcher("src/img/logo.png", globMatchers))
}

func TestNoGlobMatchersMatchNothing(t *testing.T) {
	globMatchers, err := CreateGlobMatchers(nil, "/fs/root")

	assert.NilError(t, err)
	assert.Assert(t, !MatchesAnyGlobMatcher("/fs/root/app.js", globMatchers))
}

func TestCreateGlobMatchersErrors(t *testing.T) {
	_, err := CreateGlobMatchers([]string{"./src/**"}, "/fs/root")
	assert.ErrorContains(t, err, "starts with './'")

	_, err = CreateGlobMatchers([]string{"../shared/*.js"}, "/fs/root")
	assert.ErrorContains(t, err, "starts with '../'")

	_, err = CreateGlobMatchers([]string{"src/[a-"}, "/fs/root")
	assert.ErrorContains(t, err, "invalid glob pattern")
}
