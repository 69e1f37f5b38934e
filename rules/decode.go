package rules

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// DecodeFlows parses a JSON or YAML flow document. Accepted shapes are a list of
// flows, a mapping with a "flows" list, or a single flow mapping.
// Every rule starts from DefaultRule, so flags absent from the document keep
// their defaults instead of decoding as false. Missing IDs are generated and
// Order is renumbered from array position.
func DecodeFlows(data []byte) ([]*Flow, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse flow document: %w", err)
	}

	var items []any
	switch v := doc.(type) {
	case nil:
		return []*Flow{}, nil
	case []any:
		items = v
	case map[string]any:
		if list, ok := v["flows"]; ok {
			items, ok = list.([]any)
			if !ok {
				return nil, fmt.Errorf("\"flows\" must be a list, got %T", list)
			}
		} else {
			items = []any{v}
		}
	default:
		return nil, fmt.Errorf("unsupported flow document of type %T", doc)
	}

	flows := make([]*Flow, 0, len(items))
	for i, item := range items {
		flow, err := DecodeFlow(item)
		if err != nil {
			return nil, fmt.Errorf("flow %d: %w", i, err)
		}
		flows = append(flows, flow)
	}
	return flows, nil
}

// DecodeFlow decodes one loosely-typed flow mapping.
func DecodeFlow(raw any) (*Flow, error) {
	fields, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("flow must be a mapping, got %T", raw)
	}

	flow := &Flow{Enabled: true, Rules: []Rule{}}

	header := make(map[string]any, len(fields))
	for k, v := range fields {
		if k != "rules" {
			header[k] = v
		}
	}
	if err := weakDecode(header, flow); err != nil {
		return nil, err
	}

	if rawRules, ok := fields["rules"]; ok && rawRules != nil {
		list, ok := rawRules.([]any)
		if !ok {
			return nil, fmt.Errorf("\"rules\" must be a list, got %T", rawRules)
		}
		for i, item := range list {
			rule, err := DecodeRule(item)
			if err != nil {
				return nil, fmt.Errorf("rule %d: %w", i, err)
			}
			flow.Rules = append(flow.Rules, rule)
		}
	}

	if flow.ID == "" {
		flow.ID = uuid.NewString()
	}
	Renumber(flow)

	return flow, nil
}

// DecodeRule decodes one loosely-typed rule mapping on top of DefaultRule.
// A missing ID is generated.
func DecodeRule(raw any) (Rule, error) {
	rule := DefaultRule()
	if _, ok := raw.(map[string]any); !ok {
		return rule, fmt.Errorf("rule must be a mapping, got %T", raw)
	}
	if err := weakDecode(raw, &rule); err != nil {
		return rule, err
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	return rule, nil
}

// EncodeFlows renders flows as a YAML document accepted by DecodeFlows.
func EncodeFlows(flows []*Flow) ([]byte, error) {
	out, err := yaml.Marshal(map[string]any{"flows": flows})
	if err != nil {
		return nil, fmt.Errorf("failed to encode flows: %w", err)
	}
	return out, nil
}

func weakDecode(input any, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("failed to decode: %w", err)
	}
	return nil
}
