package schema

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed meta.json
var metaSchemaJSON []byte

var (
	metaOnce   sync.Once
	metaSchema *jsonschema.Schema
	metaErr    error
)

func compiledMeta() (*jsonschema.Schema, error) {
	metaOnce.Do(func() {
		const url = "mem://habitat/meta.json"
		c := jsonschema.NewCompiler()
		if err := c.AddResource(url, bytes.NewReader(metaSchemaJSON)); err != nil {
			metaErr = err
			return
		}
		metaSchema, metaErr = c.Compile(url)
	})
	return metaSchema, metaErr
}

type fileDocument struct {
	Prompt *Prompt `json:"prompt" yaml:"prompt"`
	Fields []Field `json:"fields" yaml:"fields"`
}

// FileSource reads the schema from a JSON or YAML file on every call.
// Wrap it in a CachedSource to avoid re-reading.
type FileSource struct {
	Path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

func (s *FileSource) Current(ctx context.Context) (*ClassificationSchema, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrSchemaUnavailable, s.Path, err)
	}
	parsed, err := Parse(raw, filepath.Ext(s.Path))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSchemaUnavailable, s.Path, err)
	}
	return parsed, nil
}

// Parse decodes a schema document. ext selects YAML for ".yaml"/".yml";
// anything else is read as JSON. The document is checked against the
// embedded meta schema before conversion.
func Parse(raw []byte, ext string) (*ClassificationSchema, error) {
	var generic any
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		var node any
		if err := yaml.Unmarshal(raw, &node); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
		// Round-trip through JSON so the validator sees JSON types.
		asJSON, err := json.Marshal(node)
		if err != nil {
			return nil, fmt.Errorf("convert yaml: %w", err)
		}
		raw = asJSON
	}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}

	meta, err := compiledMeta()
	if err != nil {
		return nil, fmt.Errorf("compile meta schema: %w", err)
	}
	if err := meta.Validate(generic); err != nil {
		return nil, fmt.Errorf("invalid schema document: %w", err)
	}

	var doc fileDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	prompt := DefaultPrompt()
	if doc.Prompt != nil {
		if strings.TrimSpace(doc.Prompt.System) != "" {
			prompt.System = doc.Prompt.System
		}
		if strings.TrimSpace(doc.Prompt.Instructions) != "" {
			prompt.Instructions = doc.Prompt.Instructions
		}
		if strings.TrimSpace(doc.Prompt.Version) != "" {
			prompt.Version = doc.Prompt.Version
		}
	}
	return New(doc.Fields, prompt)
}
