package kit

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed kit.schema.json
var schemaJSON string

const schemaURL = "https://uniquekits.dev/schemas/kit.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

// Decode builds a definition from one kit section. Field decode failures and
// schema violations are both reported; a field gets at most one kind of
// report so the decoder's message wins when both fire.
func Decode(id string, node *yaml.Node) (Definition, []Issue) {
	d, issues := decodeNode(id, node)
	reported := make(map[string]bool, len(issues))
	for _, is := range issues {
		reported[topField(is.Field)] = true
	}
	for _, is := range validate(d.ID, node) {
		if reported[topField(is.Field)] {
			continue
		}
		issues = append(issues, is)
	}
	return d, issues
}

// DecodeBytes decodes a single kit section stored as its own YAML document.
func DecodeBytes(id string, raw []byte) (Definition, []Issue) {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		d := New(id)
		return d, []Issue{{Kit: d.ID, Msg: "unreadable section: " + err.Error()}}
	}
	node := &doc
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		node = doc.Content[0]
	}
	return Decode(id, node)
}

func validate(id string, node *yaml.Node) []Issue {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	s, err := compiledSchema()
	if err != nil {
		return []Issue{{Kit: id, Msg: "kit schema unavailable: " + err.Error()}}
	}

	var raw any
	if err := node.Decode(&raw); err != nil {
		return nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return []Issue{{Kit: id, Msg: "section is not representable as JSON: " + err.Error()}}
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil
	}

	err = s.Validate(doc)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []Issue{{Kit: id, Msg: err.Error()}}
	}
	var out []Issue
	for _, leaf := range leafErrors(ve) {
		out = append(out, Issue{
			Kit:   id,
			Field: strings.ReplaceAll(strings.TrimPrefix(leaf.InstanceLocation, "/"), "/", "."),
			Msg:   leaf.Message,
		})
	}
	return out
}

func leafErrors(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var out []*jsonschema.ValidationError
	for _, c := range ve.Causes {
		out = append(out, leafErrors(c)...)
	}
	return out
}

// topField returns the first path segment of an issue field, so that
// "items[0]" and "items.0.amount" both collapse to "items".
func topField(field string) string {
	if i := strings.IndexAny(field, ".["); i >= 0 {
		return field[:i]
	}
	return field
}
