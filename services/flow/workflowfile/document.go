// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workflowfile reads workflow definitions from YAML files and turns
// them into the nodes and edges the dag package executes.
//
// A workflow file looks like:
//
//	name: merge-and-ship
//	nodes:
//	  - id: merge
//	    tool: concat
//	    inputs: [a.txt, b.txt]
//	    config:
//	      separator: "\n"
//	  - id: ship
//	    tool: bundle
//	    timeout: 30s
//	edges:
//	  - source: merge
//	    target: ship
//
// Input paths are relative to the file. Formats a node omits are taken from
// the tool catalog.
package workflowfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	// MaxDocumentSize is the largest workflow file accepted (1MB).
	MaxDocumentSize = 1 << 20

	// MaxInputFileSize is the largest input file read into memory (256MB).
	MaxInputFileSize = 256 << 20
)

var (
	// ErrInvalidDocument wraps YAML and struct validation failures.
	ErrInvalidDocument = errors.New("invalid workflow document")

	// ErrDocumentTooLarge is returned when a file exceeds MaxDocumentSize.
	ErrDocumentTooLarge = errors.New("workflow document too large")

	// ErrInputTooLarge is returned when an input exceeds MaxInputFileSize.
	ErrInputTooLarge = errors.New("input file too large")
)

// documentValidate is shared; validator.Validate caches struct metadata.
var documentValidate = validator.New()

// Document is the YAML form of a workflow.
type Document struct {
	Name  string     `yaml:"name" json:"name" validate:"required,max=128"`
	Nodes []NodeSpec `yaml:"nodes" json:"nodes" validate:"required,min=1,max=1000,dive"`
	Edges []EdgeSpec `yaml:"edges" json:"edges" validate:"max=10000,dive"`
}

// NodeSpec is one node of a Document.
type NodeSpec struct {
	ID              string         `yaml:"id" json:"id" validate:"required,max=128"`
	Tool            string         `yaml:"tool" json:"tool" validate:"required,max=128"`
	AcceptedFormats []string       `yaml:"accepted_formats,omitempty" json:"accepted_formats,omitempty" validate:"max=64,dive,required"`
	OutputFormat    string         `yaml:"output_format,omitempty" json:"output_format,omitempty"`
	Inputs          []string       `yaml:"inputs,omitempty" json:"inputs,omitempty" validate:"max=256,dive,required"`
	Config          map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
	Timeout         time.Duration  `yaml:"timeout,omitempty" json:"timeout,omitempty" validate:"gte=0"`
}

// EdgeSpec connects two nodes. ID is optional.
type EdgeSpec struct {
	ID     string `yaml:"id,omitempty" json:"id,omitempty"`
	Source string `yaml:"source" json:"source" validate:"required"`
	Target string `yaml:"target" json:"target" validate:"required"`
}

// Validate checks the struct tags of d.
func (d *Document) Validate() error {
	if err := documentValidate.Struct(d); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	return nil
}

// Parse decodes and validates a workflow document. Unknown keys are errors.
func Parse(data []byte) (*Document, error) {
	if len(data) > MaxDocumentSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrDocumentTooLarge, len(data), MaxDocumentSize)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidDocument)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ReadDocument reads and parses the workflow file at path.
func ReadDocument(path string) (*Document, error) {
	data, err := readLimited(path, MaxDocumentSize, ErrDocumentTooLarge)
	if err != nil {
		return nil, err
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Marshal renders d as YAML that Parse reads back unchanged. Strings
// containing newlines are double-quoted; block scalars lose a lone "\n".
func (d *Document) Marshal() ([]byte, error) {
	var root yaml.Node
	if err := root.Encode(d); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	quoteMultiline(&root)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&root); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return buf.Bytes(), nil
}

func quoteMultiline(n *yaml.Node) {
	if n.Kind == yaml.ScalarNode && n.ShortTag() == "!!str" && strings.Contains(n.Value, "\n") {
		n.Style = yaml.DoubleQuotedStyle
	}
	for _, child := range n.Content {
		quoteMultiline(child)
	}
}

func readLimited(path string, limit int64, tooLarge error) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() > limit {
		return nil, fmt.Errorf("%w: %s is %d bytes (max %d)", tooLarge, path, info.Size(), limit)
	}

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %s", tooLarge, path)
	}
	return data, nil
}
