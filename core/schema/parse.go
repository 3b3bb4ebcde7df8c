package schema

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseFile parses record type definitions from a YAML file.
func ParseFile(path string) ([]*RecordType, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", path, err)
	}

	types, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return types, nil
}

// Parse parses record type definitions from YAML bytes.
// A document stream may hold several definitions separated by "---".
func Parse(data []byte) ([]*RecordType, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var types []*RecordType
	for {
		var def Definition
		err := dec.Decode(&def)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
		if def.Name == "" && len(def.Fields) == 0 {
			continue
		}

		rt, err := def.Build()
		if err != nil {
			return nil, fmt.Errorf("validate type %q: %w", def.Name, err)
		}
		types = append(types, rt)
	}

	if len(types) == 0 {
		return nil, fmt.Errorf("no record type definitions found")
	}
	return types, nil
}

// ParseDir parses all definitions from a directory, including subdirectories.
// Files are read in lexical order so results are stable.
func ParseDir(dir string) ([]*RecordType, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if IsDefinitionFile(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	sort.Strings(paths)

	var types []*RecordType
	for _, path := range paths {
		parsed, err := ParseFile(path)
		if err != nil {
			return nil, err
		}
		types = append(types, parsed...)
	}

	return types, nil
}

// IsDefinitionFile reports whether path has a YAML extension.
func IsDefinitionFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// isValidIdentifier checks if a string is a valid identifier.
func isValidIdentifier(s string) bool {
	if s == "" {
		return false
	}

	for i, c := range s {
		if i == 0 {
			if !isLetter(c) && c != '_' {
				return false
			}
		} else {
			if !isLetter(c) && !isDigit(c) && c != '_' {
				return false
			}
		}
	}

	return true
}

func isLetter(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c rune) bool {
	return c >= '0' && c <= '9'
}
