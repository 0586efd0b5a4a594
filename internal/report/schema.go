package report

// Schema is the JSON Schema (Draft 2020-12) for the batch analysis
// artifact produced by WriteJSON.
const Schema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://github.com/zjy-dev/covgate/commit-coverage.schema.json",
  "title": "Commit Coverage Report",
  "description": "Output schema for covgate analyze --json",
  "type": "object",
  "required": ["version", "commits", "summary"],
  "properties": {
    "version": {
      "type": "string",
      "description": "Artifact version (semver)"
    },
    "commits": {
      "type": "array",
      "items": { "$ref": "#/$defs/Commit" }
    },
    "summary": { "$ref": "#/$defs/Summary" }
  },
  "$defs": {
    "Commit": {
      "type": "object",
      "required": ["sha", "functions", "changed", "covered", "uncovered", "pure_moves"],
      "properties": {
        "sha": { "type": "string" },
        "author": { "type": "string" },
        "subject": { "type": "string" },
        "functions": {
          "type": "array",
          "items": { "$ref": "#/$defs/Function" }
        },
        "changed": { "type": "integer", "minimum": 0 },
        "covered": { "type": "integer", "minimum": 0 },
        "uncovered": { "type": "integer", "minimum": 0 },
        "pure_moves": { "type": "integer", "minimum": 0 }
      }
    },
    "Function": {
      "type": "object",
      "required": ["key", "qualified_name", "status"],
      "properties": {
        "key": {
          "type": "string",
          "description": "path:signature:start_line"
        },
        "qualified_name": { "type": "string" },
        "status": {
          "type": "string",
          "enum": ["covered", "uncovered", "pure-move"]
        },
        "tier": {
          "type": "string",
          "enum": ["exact", "pathless"]
        },
        "tests": {
          "type": "array",
          "items": { "type": "string" }
        },
        "fuzzy_candidates": {
          "type": "array",
          "items": { "type": "string" },
          "description": "Advisory near-matches, never counted as coverage"
        }
      }
    },
    "Summary": {
      "type": "object",
      "required": ["commits", "total_functions", "with_coverage", "without_coverage", "overall_coverage"],
      "properties": {
        "commits": { "type": "integer", "minimum": 0 },
        "total_functions": { "type": "integer", "minimum": 0 },
        "with_coverage": { "type": "integer", "minimum": 0 },
        "without_coverage": { "type": "integer", "minimum": 0 },
        "overall_coverage": { "type": "number", "minimum": 0, "maximum": 100 }
      }
    }
  }
}`
