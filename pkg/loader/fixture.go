package loader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/weave/pkg/contracts"
)

const fixtureSchemaURL = "https://weave.schemas.local/loader/fixture.schema.json"

const fixtureSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "contracts": {"type": "array", "items": {"$ref": "#/$defs/contract"}},
    "sources": {"type": "array", "items": {"$ref": "#/$defs/source"}}
  },
  "$defs": {
    "contract": {
      "type": "object",
      "required": ["id", "content_type", "init_state"],
      "oneOf": [{"required": ["source"]}, {"required": ["source_file"]}],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "owner": {"type": "string"},
        "source_id": {"type": "string"},
        "content_type": {"type": "string", "minLength": 1},
        "source": {"type": "string"},
        "source_file": {"type": "string"},
        "init_state": {},
        "height": {"type": "integer", "minimum": 0},
        "interactions": {"type": "array", "items": {"$ref": "#/$defs/interaction"}}
      }
    },
    "source": {
      "type": "object",
      "required": ["id", "content_type"],
      "oneOf": [{"required": ["source"]}, {"required": ["source_file"]}],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "content_type": {"type": "string", "minLength": 1},
        "source": {"type": "string"},
        "source_file": {"type": "string"}
      }
    },
    "interaction": {
      "type": "object",
      "required": ["id", "owner", "block"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "owner": {"type": "string"},
        "target": {"type": "string"},
        "quantity": {"type": "string"},
        "reward": {"type": "string"},
        "bundled_in": {"type": "string"},
        "input": {},
        "tags": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["name", "value"],
            "properties": {"name": {"type": "string"}, "value": {"type": "string"}}
          }
        },
        "block": {
          "type": "object",
          "required": ["height", "id"],
          "properties": {
            "height": {"type": "integer", "minimum": 0},
            "id": {"type": "string"},
            "timestamp": {"type": "integer"}
          }
        }
      }
    }
  }
}`

type fixtureDoc struct {
	Contracts []contractFixture `json:"contracts"`
	Sources   []sourceFixture   `json:"sources"`
}

type sourceFixture struct {
	ID          string `json:"id"`
	ContentType string `json:"content_type"`
	Source      string `json:"source"`
	SourceFile  string `json:"source_file"`
}

type contractFixture struct {
	sourceFixture
	Owner        string               `json:"owner"`
	SourceID     string               `json:"source_id"`
	InitState    json.RawMessage      `json:"init_state"`
	Height       uint64               `json:"height"`
	Interactions []interactionFixture `json:"interactions"`
}

type interactionFixture struct {
	contracts.Interaction
	// Input, when set, is encoded into the Input tag.
	Input json.RawMessage `json:"input"`
}

// Fixtures is a Memory loader filled from YAML or JSON fixture documents,
// each validated against the fixture schema before it is applied.
type Fixtures struct {
	*Memory
	schema *jsonschema.Schema
}

// NewFixtures compiles the fixture schema and returns an empty loader.
func NewFixtures() (*Fixtures, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(fixtureSchemaURL, strings.NewReader(fixtureSchema)); err != nil {
		return nil, fmt.Errorf("loader: fixture schema load failed: %w", err)
	}
	schema, err := c.Compile(fixtureSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("loader: fixture schema compile failed: %w", err)
	}
	return &Fixtures{Memory: NewMemory(), schema: schema}, nil
}

// LoadDir loads every .yaml, .yml and .json file in dir.
func (f *Fixtures) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("loader: read dir %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".yaml", ".yml", ".json":
		default:
			continue
		}
		if err := f.LoadFile(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("loader: load %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// LoadFile loads one fixture document. Relative source_file paths resolve
// against the document's directory.
func (f *Fixtures) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	return f.Load(data, filepath.Dir(path))
}

// Load validates and applies a fixture document.
func (f *Fixtures) Load(data []byte, baseDir string) error {
	raw, err := toJSON(data)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return fmt.Errorf("parse fixture: %w", err)
	}
	if err := f.schema.Validate(generic); err != nil {
		return fmt.Errorf("fixture schema validation failed: %w", err)
	}

	var doc fixtureDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse fixture: %w", err)
	}

	for _, s := range doc.Sources {
		ct, code, err := s.resolve(baseDir)
		if err != nil {
			return fmt.Errorf("source %s: %w", s.ID, err)
		}
		f.AddSource(&Source{ID: s.ID, ContentType: ct, Code: code})
	}
	for _, c := range doc.Contracts {
		ct, code, err := c.resolve(baseDir)
		if err != nil {
			return fmt.Errorf("contract %s: %w", c.ID, err)
		}
		f.AddContract(&contracts.ContractSource{
			ID:          c.ID,
			Owner:       c.Owner,
			SourceID:    c.SourceID,
			ContentType: ct,
			Source:      code,
			InitState:   c.InitState,
			Height:      c.Height,
		})
		txs := make([]contracts.Interaction, 0, len(c.Interactions))
		for _, tx := range c.Interactions {
			txs = append(txs, tx.interaction())
		}
		f.AddInteractions(c.ID, txs...)
	}
	return nil
}

func (s sourceFixture) resolve(baseDir string) (contracts.ContentType, []byte, error) {
	ct, err := contracts.ParseContentType(s.ContentType)
	if err != nil {
		return "", nil, err
	}
	if s.SourceFile == "" {
		return ct, []byte(s.Source), nil
	}
	path := s.SourceFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	code, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("read source file: %w", err)
	}
	return ct, code, nil
}

func (f interactionFixture) interaction() contracts.Interaction {
	tx := f.Interaction.Clone()
	if len(f.Input) > 0 {
		tags := []contracts.Tag{{Name: contracts.InputTag, Value: string(f.Input)}}
		for _, t := range tx.Tags {
			if t.Name != contracts.InputTag {
				tags = append(tags, t)
			}
		}
		tx.Tags = tags
	}
	return tx
}

// toJSON converts a YAML (or JSON) document to JSON bytes.
func toJSON(data []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("fixture is not representable as JSON: %w", err)
	}
	return raw, nil
}
