package detect

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"logsentry/core"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const rulePackSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["rules"],
  "properties": {
    "rules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "severity", "conditions"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "enabled": {"type": "boolean"},
          "severity": {"type": "string", "enum": ["info", "low", "medium", "high", "critical"]},
          "condition_logic": {"type": "string", "enum": ["AND", "OR", "and", "or"]},
          "conditions": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["field", "operator"],
              "properties": {
                "field": {"type": "string", "minLength": 1},
                "operator": {"type": "string", "enum": ["eq", "neq", "gt", "lt", "gte", "lte", "contains", "regex", "in", "not_in"]}
              }
            }
          },
          "aggregation": {
            "type": "object",
            "required": ["threshold"],
            "properties": {
              "function": {"type": "string", "enum": ["count", "count_distinct", "sum"]},
              "field": {"type": "string"},
              "group_by": {"type": "array", "items": {"type": "string"}},
              "threshold": {"type": "number", "exclusiveMinimum": 0},
              "window": {"type": "string"}
            }
          }
        }
      }
    }
  }
}`

const signaturePackSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["signatures"],
  "properties": {
    "signatures": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["type", "pattern", "severity"],
        "properties": {
          "type": {"type": "string", "minLength": 1},
          "pattern": {"type": "string", "minLength": 1},
          "severity": {"type": "string", "enum": ["info", "low", "medium", "high", "critical"]},
          "description": {"type": "string"}
        }
      }
    }
  }
}`

// maxPackFileSize protects the loaders against memory exhaustion
const maxPackFileSize = 10 * 1024 * 1024

// RulePack is the on-disk format of a rule file
type RulePack struct {
	Rules []core.AlertRule `json:"rules" yaml:"rules"`
}

// SignaturePack is the on-disk format of a signature file
type SignaturePack struct {
	Signatures []core.Signature `json:"signatures" yaml:"signatures"`
}

// LoadRulePack reads a YAML or JSON rule file, validates it against the rule
// pack schema and creates each rule in the engine. Rules the engine rejects
// are logged and skipped unless strict is set, in which case the first
// rejection is returned. Returns the created rules.
func LoadRulePack(engine *RuleEngine, filename string, strict bool, logger *zap.SugaredLogger) ([]core.AlertRule, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	data, err := readPackFile(filename)
	if err != nil {
		return nil, err
	}
	if err := validatePack(data, filename, rulePackSchema); err != nil {
		return nil, fmt.Errorf("rule pack %s: %w", filename, err)
	}

	var pack RulePack
	if err := unmarshalPack(data, filename, &pack); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rules: %w", err)
	}

	created := make([]core.AlertRule, 0, len(pack.Rules))
	for i, rule := range pack.Rules {
		stored, err := engine.CreateRule(rule)
		if err != nil {
			if strict {
				return created, fmt.Errorf("rule %d (%s): %w", i, rule.Name, err)
			}
			logger.Errorw("Skipping invalid rule", "file", filename, "index", i, "name", rule.Name, "error", err)
			continue
		}
		created = append(created, stored)
	}

	logger.Infow("Loaded rule pack", "file", filename, "rules", len(created), "skipped", len(pack.Rules)-len(created))
	return created, nil
}

// ValidateRulePack checks a rule file against the schema and the engine's
// validation without storing anything. Returns one problem per rejected rule.
func ValidateRulePack(engine *RuleEngine, filename string) ([]string, error) {
	data, err := readPackFile(filename)
	if err != nil {
		return nil, err
	}
	if err := validatePack(data, filename, rulePackSchema); err != nil {
		return []string{err.Error()}, nil
	}
	var pack RulePack
	if err := unmarshalPack(data, filename, &pack); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rules: %w", err)
	}

	var problems []string
	for i, rule := range pack.Rules {
		if _, _, err := engine.compileRule(rule.Clone()); err != nil {
			problems = append(problems, fmt.Sprintf("rule %d (%s): %v", i, rule.Name, err))
		}
	}
	return problems, nil
}

// LoadSignatures reads a YAML or JSON signature pack
func LoadSignatures(filename string) ([]core.Signature, error) {
	data, err := readPackFile(filename)
	if err != nil {
		return nil, err
	}
	if err := validatePack(data, filename, signaturePackSchema); err != nil {
		return nil, fmt.Errorf("signature pack %s: %w", filename, err)
	}
	var pack SignaturePack
	if err := unmarshalPack(data, filename, &pack); err != nil {
		return nil, fmt.Errorf("failed to unmarshal signatures: %w", err)
	}
	return pack.Signatures, nil
}

func readPackFile(filename string) ([]byte, error) {
	info, err := os.Stat(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", filename, err)
	}
	if info.Size() > maxPackFileSize {
		return nil, fmt.Errorf("%s is too large (%d bytes, max %d)", filename, info.Size(), maxPackFileSize)
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filename, err)
	}
	return data, nil
}

func isYAML(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".yaml" || ext == ".yml"
}

func unmarshalPack(data []byte, filename string, out interface{}) error {
	if isYAML(filename) {
		return yaml.Unmarshal(data, out)
	}
	return json.Unmarshal(data, out)
}

// validatePack validates a YAML or JSON document against a JSON schema.
// YAML is decoded to generic values first so both formats share one schema.
func validatePack(data []byte, filename, schema string) error {
	var document gojsonschema.JSONLoader
	if isYAML(filename) {
		var generic interface{}
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return fmt.Errorf("invalid YAML: %w", err)
		}
		document = gojsonschema.NewGoLoader(generic)
	} else {
		document = gojsonschema.NewBytesLoader(data)
	}

	result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(schema), document)
	if err != nil {
		return fmt.Errorf("failed to validate against schema: %w", err)
	}
	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return core.NewValidationError("pack", errs...)
	}
	return nil
}
