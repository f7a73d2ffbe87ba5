package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/tidwall/jsonc"
)

type PackageJson struct {
	Name            string            `json:"name"`
	Version         string            `json:"version"`
	Module          string            `json:"module"`
	Main            string            `json:"main"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

func ReadPackageJson(filePath string) (PackageJson, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return PackageJson{}, err
	}
	var pkg PackageJson
	if err := json.Unmarshal(jsonc.ToJSON(content), &pkg); err != nil {
		return PackageJson{}, fmt.Errorf("failed to parse %s: %w", filePath, err)
	}
	return pkg, nil
}

// EntryFile is the file a bare import of the package resolves to in the
// browser: "module", then "main", then index.js.
func (p PackageJson) EntryFile() string {
	entry := p.Module
	if entry == "" {
		entry = p.Main
	}
	if entry == "" {
		entry = "index.js"
	}
	return strings.TrimPrefix(entry, "./")
}

// GetNodeModuleName returns the package part of a bare specifier:
// "lit/decorators.js" -> "lit", "@scope/pkg/x" -> "@scope/pkg".
func GetNodeModuleName(request string) string {
	splitCount := 2
	if strings.HasPrefix(request, "@") {
		splitCount = 3
	}
	parts := strings.SplitN(request, "/", splitCount)
	if len(parts) < splitCount-1 {
		return request
	}
	return strings.Join(parts[:splitCount-1], "/")
}

// VersionSatisfies checks an installed version against a declared range.
// Ranges that are not semver (tags, git or file references) return an error.
func VersionSatisfies(rangeStr string, installed string) (bool, error) {
	if rangeStr == "" || rangeStr == "*" || rangeStr == "latest" {
		return true, nil
	}
	constraint, err := semver.NewConstraint(rangeStr)
	if err != nil {
		return false, err
	}
	version, err := semver.NewVersion(installed)
	if err != nil {
		return false, err
	}
	return constraint.Check(version), nil
}
