// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package cli

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/canonical/sqlparam"
)

// BindingFile is a query together with the values bound to its parameters
// and the expansion settings.
type BindingFile struct {
	Query      string    `yaml:"query"`
	Dialect    string    `yaml:"dialect,omitempty"`
	Combinator string    `yaml:"combinator,omitempty"`
	MaxParams  int       `yaml:"max_params,omitempty"`
	Bind       yaml.Node `yaml:"bind,omitempty"`
}

// Binding is one entry of the bind mapping. Key is a parameter name, or a
// position for positional parameters.
type Binding struct {
	Key   string
	Value sqlparam.Value
}

// LoadBindingFile reads and decodes the binding file at path.
func LoadBindingFile(path string) (*BindingFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseBindingFile(data)
}

// ParseBindingFile decodes a YAML binding file.
func ParseBindingFile(data []byte) (*BindingFile, error) {
	var bf BindingFile
	if err := yaml.Unmarshal(data, &bf); err != nil {
		return nil, fmt.Errorf("cannot decode binding file: %w", err)
	}
	if bf.Query == "" {
		return nil, fmt.Errorf("cannot decode binding file: no query")
	}
	return &bf, nil
}

// Config returns the expansion settings. fallback is the dialect used when
// the file names none, usually the driver name.
func (bf *BindingFile) Config(fallback string) (sqlparam.Config, error) {
	name := bf.Dialect
	if name == "" {
		name = fallback
	}
	d, err := sqlparam.ParseDialect(name)
	if err != nil {
		return sqlparam.Config{}, err
	}
	return sqlparam.Config{Dialect: d, Combinator: bf.Combinator, MaxParams: bf.MaxParams}, nil
}

// Bindings returns the bind entries in file order.
func (bf *BindingFile) Bindings() ([]Binding, error) {
	if bf.Bind.Kind == 0 {
		return nil, nil
	}
	if bf.Bind.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: bind must be a mapping", bf.Bind.Line)
	}
	var bs []Binding
	content := bf.Bind.Content
	for i := 0; i+1 < len(content); i += 2 {
		key, valNode := content[i], content[i+1]
		var raw any
		if err := valNode.Decode(&raw); err != nil {
			return nil, fmt.Errorf("line %d: %w", valNode.Line, err)
		}
		v, err := toValue(raw)
		if err != nil {
			return nil, fmt.Errorf("line %d: cannot bind %s: %w", valNode.Line, key.Value, err)
		}
		bs = append(bs, Binding{Key: key.Value, Value: v})
	}
	return bs, nil
}

func toValue(raw any) (sqlparam.Value, error) {
	switch raw := raw.(type) {
	case []any:
		for _, e := range raw {
			if !isScalar(e) {
				return sqlparam.Value{}, fmt.Errorf("nested %T in sequence", e)
			}
		}
		return sqlparam.Sequence(raw...), nil
	default:
		if !isScalar(raw) {
			return sqlparam.Value{}, fmt.Errorf("unsupported value %T", raw)
		}
		return sqlparam.Scalar(raw), nil
	}
}

func isScalar(v any) bool {
	switch v.(type) {
	case []any, map[string]any, map[any]any:
		return false
	}
	return true
}

// Statement parses the query and binds every entry of the bind mapping.
// Keys made of digits bind positional parameters. Parse errors are
// returned as is, binding errors are returned wrapped in a BindError.
func (bf *BindingFile) Statement() (*sqlparam.Statement, error) {
	stmt, err := sqlparam.Parse(bf.Query)
	if err != nil {
		return nil, err
	}
	bs, err := bf.Bindings()
	if err != nil {
		return nil, &BindError{Err: err}
	}
	for _, b := range bs {
		if n, convErr := strconv.Atoi(b.Key); convErr == nil {
			err = stmt.BindPositional(n, b.Value)
		} else {
			err = stmt.BindNamed(b.Key, b.Value)
		}
		if err != nil {
			return nil, &BindError{Err: err}
		}
	}
	return stmt, nil
}

// BindError is returned by BindingFile.Statement when a value cannot be
// bound.
type BindError struct {
	Err error
}

func (e *BindError) Error() string {
	return e.Err.Error()
}

func (e *BindError) Unwrap() error {
	return e.Err
}
