package classify

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

//go:embed categories.yaml
var embeddedTables []byte

// Mapping pairs an upstream label with its normalized category.
type Mapping struct {
	Raw      string
	Category Category
}

// PrefixRule maps any label starting with Prefix to Category.
type PrefixRule struct {
	Prefix   string   `yaml:"prefix"`
	Category Category `yaml:"category"`
}

// Table is one source's mapping data. Mappings keep file order, which decides
// which substring match wins.
type Table struct {
	Mappings []Mapping
	Prefixes []PrefixRule
	Default  Category
}

// Tables holds every source's table keyed by source name.
type Tables map[string]Table

type rawFile struct {
	Sources yaml.Node `yaml:"sources"`
}

type rawTable struct {
	Default  Category     `yaml:"default"`
	Prefixes []PrefixRule `yaml:"prefixes"`
	Mappings yaml.Node    `yaml:"mappings"`
}

// DefaultTables returns the tables compiled into the binary.
func DefaultTables() (Tables, error) {
	return LoadTables(bytes.NewReader(embeddedTables))
}

// LoadTables parses a category file. Unknown categories are rejected.
func LoadTables(r io.Reader) (Tables, error) {
	var file rawFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		if err == io.EOF {
			return Tables{}, nil
		}
		return nil, fmt.Errorf("decode category tables: %w", err)
	}
	tables := Tables{}
	if file.Sources.Kind == 0 {
		return tables, nil
	}
	if file.Sources.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("sources: expected a mapping at line %d", file.Sources.Line)
	}
	for i := 0; i+1 < len(file.Sources.Content); i += 2 {
		name := file.Sources.Content[i].Value
		table, err := decodeTable(file.Sources.Content[i+1])
		if err != nil {
			return nil, fmt.Errorf("sources.%s: %w", name, err)
		}
		tables[name] = table
	}
	return tables, nil
}

func decodeTable(node *yaml.Node) (Table, error) {
	var raw rawTable
	if err := node.Decode(&raw); err != nil {
		return Table{}, fmt.Errorf("decode table: %w", err)
	}
	table := Table{Default: raw.Default, Prefixes: raw.Prefixes}
	if table.Default != "" && !Valid(table.Default) {
		return Table{}, fmt.Errorf("default: unknown category %q", table.Default)
	}
	for _, rule := range table.Prefixes {
		if rule.Prefix == "" {
			return Table{}, fmt.Errorf("prefixes: empty prefix")
		}
		if !Valid(rule.Category) {
			return Table{}, fmt.Errorf("prefixes: unknown category %q", rule.Category)
		}
	}
	if raw.Mappings.Kind == 0 {
		return table, nil
	}
	if raw.Mappings.Kind != yaml.MappingNode {
		return Table{}, fmt.Errorf("mappings: expected a mapping at line %d", raw.Mappings.Line)
	}
	content := raw.Mappings.Content
	for i := 0; i+1 < len(content); i += 2 {
		key, value := content[i].Value, Category(content[i+1].Value)
		if key == "" {
			return Table{}, fmt.Errorf("mappings: empty label at line %d", content[i].Line)
		}
		if !Valid(value) {
			return Table{}, fmt.Errorf("mappings[%q]: unknown category %q", key, value)
		}
		table.Mappings = append(table.Mappings, Mapping{Raw: key, Category: value})
	}
	return table, nil
}
