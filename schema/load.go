package schema

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// document is the on-disk shape of the metadata emitted by the schema
// generation step.
type document struct {
	Models []modelDoc `yaml:"models"`
}

type modelDoc struct {
	Name   string     `yaml:"name"`
	Fields []fieldDoc `yaml:"fields"`
}

type fieldDoc struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Unique      bool   `yaml:"unique"`
	Relation    string `yaml:"relation"`
	Cardinality string `yaml:"cardinality"`
	From        string `yaml:"from"`
	To          string `yaml:"to"`
}

// Load reads a schema metadata document and builds a Registry from it.
func Load(r io.Reader) (*Registry, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("schema: decode metadata: %w", err)
	}
	models := make([]Model, 0, len(doc.Models))
	for _, md := range doc.Models {
		m := Model{Name: md.Name}
		for _, fd := range md.Fields {
			f, err := fd.field(md.Name)
			if err != nil {
				return nil, err
			}
			m.Fields = append(m.Fields, f)
		}
		models = append(models, m)
	}
	return New(models...)
}

// LoadFile reads the schema metadata document at path.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("schema: open metadata: %w", err)
	}
	defer f.Close()
	return Load(f)
}

func (fd fieldDoc) field(model string) (Field, error) {
	if fd.Name == "" {
		return Field{}, fmt.Errorf("schema: model %q declares a field without a name", model)
	}
	if fd.Relation == "" {
		if fd.Type == "" {
			return Field{}, fmt.Errorf("schema: field %q of model %q has neither a type nor a relation", fd.Name, model)
		}
		return Field{
			Name:   fd.Name,
			Kind:   KindScalar,
			Type:   fd.Type,
			Unique: fd.Unique,
		}, nil
	}
	card := Single
	switch fd.Cardinality {
	case "", "single", "one":
		card = Single
	case "many":
		card = Many
	default:
		return Field{}, fmt.Errorf("schema: field %q of model %q has invalid cardinality %q", fd.Name, model, fd.Cardinality)
	}
	return Field{
		Name:        fd.Name,
		Kind:        KindRelation,
		Ref:         fd.Relation,
		Cardinality: card,
		FromColumn:  fd.From,
		ToColumn:    fd.To,
	}, nil
}
