package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Canonical schemas for structured model output. Validation happens locally
// so a provider that ignores format instructions fails fast instead of
// poisoning stored analysis results.

const chapterAnalysisSchema = `{
	"type": "object",
	"required": ["summary", "key_concepts", "themes"],
	"properties": {
		"summary": {"type": "string", "minLength": 1},
		"key_concepts": {"type": "array", "items": {"type": "string"}, "minItems": 1},
		"themes": {"type": "array", "items": {"type": "string"}},
		"important_quotes": {"type": "array", "items": {"type": "string"}}
	}
}`

const synthesisSchema = `{
	"type": "object",
	"required": ["summary", "key_themes", "concept_hierarchy"],
	"properties": {
		"summary": {"type": "string", "minLength": 1},
		"key_themes": {"type": "array", "items": {"type": "string"}, "minItems": 1},
		"concept_hierarchy": {"type": "array", "items": {"type": "string"}},
		"cross_chapter_themes": {"type": "array", "items": {"type": "string"}}
	}
}`

var (
	compiledChapterSchema   = mustCompileSchema("chapter_analysis.json", chapterAnalysisSchema)
	compiledSynthesisSchema = mustCompileSchema("synthesis.json", synthesisSchema)
)

func mustCompileSchema(name, schema string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, bytes.NewReader([]byte(schema))); err != nil {
		panic(fmt.Sprintf("llm: bad embedded schema %s: %v", name, err))
	}
	return c.MustCompile(name)
}

func validateAgainst(schema *jsonschema.Schema, raw json.RawMessage) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("not valid JSON: %w", err)
	}
	return schema.Validate(doc)
}

func validateChapterAnalysis(raw json.RawMessage) error {
	return validateAgainst(compiledChapterSchema, raw)
}

func validateSynthesis(raw json.RawMessage) error {
	return validateAgainst(compiledSynthesisSchema, raw)
}
