// Package schema validates fixture and materialized-view documents against
// JSON schemas compiled once from the embedded schemas/ directory.
package schema

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var files embed.FS

// ErrUnknownSchema is returned when no schema is registered for a collection.
var ErrUnknownSchema = errors.New("unknown schema")

// ValidationError lists every violation found in one document.
type ValidationError struct {
	Collection string
	Problems   []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s document invalid: %s", e.Collection, strings.Join(e.Problems, "; "))
}

// Validator validates documents against pre-loaded JSON schemas keyed by collection name.
type Validator struct {
	once    sync.Once
	schemas map[string]*gojsonschema.Schema
	err     error
}

func NewValidator() *Validator {
	return &Validator{}
}

func (v *Validator) load() {
	entries, err := files.ReadDir("schemas")
	if err != nil {
		v.err = fmt.Errorf("read schemas: %w", err)
		return
	}
	v.schemas = make(map[string]*gojsonschema.Schema, len(entries))
	for _, e := range entries {
		data, err := files.ReadFile(path.Join("schemas", e.Name()))
		if err != nil {
			v.err = fmt.Errorf("read schema %s: %w", e.Name(), err)
			return
		}
		s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
		if err != nil {
			v.err = fmt.Errorf("compile schema %s: %w", e.Name(), err)
			return
		}
		v.schemas[strings.TrimSuffix(e.Name(), ".json")] = s
	}
}

// Validate marshals doc to JSON and checks it against the collection's schema.
// Violations are reported as *ValidationError.
func (v *Validator) Validate(collection string, doc interface{}) error {
	v.once.Do(v.load)
	if v.err != nil {
		return v.err
	}
	s, ok := v.schemas[collection]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSchema, collection)
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s document: %w", collection, err)
	}
	res, err := s.Validate(gojsonschema.NewBytesLoader(b))
	if err != nil {
		return err
	}
	if !res.Valid() {
		problems := make([]string, 0, len(res.Errors()))
		for _, re := range res.Errors() {
			problems = append(problems, re.String())
		}
		return &ValidationError{Collection: collection, Problems: problems}
	}
	return nil
}
