package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBase = "https://tidewar.ai/schemas/"

// Validator checks inbound JSON against the embedded schemas before it is
// decoded into a typed message. Safe for concurrent use.
type Validator struct {
	input   *jsonschema.Schema
	control *jsonschema.Schema
	match   *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	names := []string{"input.schema.json", "control.schema.json", "match.schema.json"}
	for _, name := range names {
		raw, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			return nil, err
		}
		if err := c.AddResource(schemaBase+name, bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("schema %s: %w", name, err)
		}
	}
	compiled := make([]*jsonschema.Schema, len(names))
	for i, name := range names {
		s, err := c.Compile(schemaBase + name)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", name, err)
		}
		compiled[i] = s
	}
	return &Validator{input: compiled[0], control: compiled[1], match: compiled[2]}, nil
}

// Schema returns the raw embedded schema, for serving to clients.
func Schema(name string) ([]byte, error) { return schemaFS.ReadFile("schemas/" + name) }

func (v *Validator) ValidateInput(raw []byte) (InputMsg, error) {
	var m InputMsg
	err := validateInto(v.input, raw, &m)
	return m, err
}

func (v *Validator) ValidateControl(raw []byte) (ControlMsg, error) {
	var m ControlMsg
	err := validateInto(v.control, raw, &m)
	return m, err
}

func (v *Validator) ValidateMatch(raw []byte) (MatchMsg, error) {
	var m MatchMsg
	err := validateInto(v.match, raw, &m)
	return m, err
}

func validateInto(s *jsonschema.Schema, raw []byte, out any) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return &Error{Code: ErrProtoBadRequest, Err: err}
	}
	if err := s.Validate(doc); err != nil {
		return &Error{Code: ErrBadRequest, Err: err}
	}
	if m, ok := doc.(map[string]any); ok {
		if v, _ := m["protocol_version"].(string); !Compatible(v) {
			return &Error{Code: ErrProtoVersion, Err: fmt.Errorf("unsupported protocol_version %q", v)}
		}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Code: ErrBadRequest, Err: err}
	}
	return nil
}

// Compatible reports whether a peer's protocol version shares our major
// version.
func Compatible(v string) bool {
	major, _, _ := strings.Cut(v, ".")
	ours, _, _ := strings.Cut(Version, ".")
	return major != "" && major == ours
}
