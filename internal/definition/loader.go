// Package definition loads the per-entity YAML definitions, validates them,
// and serves them from a registry with atomic pointer swap.
package definition

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pitabwire/dastyar/model"
	"gopkg.in/yaml.v3"
)

// Loader scans directories for YAML entity definitions, parses them, and
// computes SHA-256 checksums.
type Loader struct{}

// NewLoader creates a new definition Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll recursively scans directories for *.yaml and *.yml files and parses
// each into an EntityDefinition.
func (l *Loader) LoadAll(directories []string) ([]model.EntityDefinition, error) {
	var defs []model.EntityDefinition

	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}

			def, err := l.LoadFile(path)
			if err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}
			defs = append(defs, def)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}

	return defs, nil
}

// LoadFile loads and parses a single definition file. The entity name is
// canonicalized so "preOrder" and "pre_order" load the same entity.
func (l *Loader) LoadFile(path string) (model.EntityDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.EntityDefinition{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return l.Parse(path, data)
}

// Parse decodes one definition document. path is recorded as SourceFile.
func (l *Loader) Parse(path string, data []byte) (model.EntityDefinition, error) {
	var def model.EntityDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return model.EntityDefinition{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	if et, ok := model.ParseEntityType(string(def.Entity)); ok {
		def.Entity = et
	}
	if def.Table == "" {
		def.Table = string(def.Entity)
	}
	def.Checksum = fmt.Sprintf("%x", sha256.Sum256(data))
	def.SourceFile = path

	return def, nil
}
