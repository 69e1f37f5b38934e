package rules

import (
	"testing"
)

// TestDecodeFlows_Defaults verifies that absent flags keep their documented defaults
func TestDecodeFlows_Defaults(t *testing.T) {
	doc := []byte(`
flows:
  - id: f1
    name: Emails
    rules:
      - id: r1
        pattern: '(\w+)@(\w+)'
        storeInFlow: true
        flowKey: emails
      - pattern: "x"
        replacement: "y"
        global: "false"
        order: 7
`)

	flows, err := DecodeFlows(doc)
	if err != nil {
		t.Fatalf("DecodeFlows() failed: %v", err)
	}
	if len(flows) != 1 {
		t.Fatalf("expected 1 flow, got %d", len(flows))
	}

	f := flows[0]
	if f.ID != "f1" || f.Name != "Emails" || !f.Enabled {
		t.Errorf("flow header = %+v", f)
	}
	if len(f.Rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(f.Rules))
	}

	r1 := f.Rules[0]
	if !r1.Enabled || !r1.Global || r1.CaseSensitive || r1.ExtractOnly {
		t.Errorf("rule defaults not applied: %+v", r1)
	}
	if !r1.StoreInFlow || r1.FlowKey != "emails" {
		t.Errorf("explicit fields lost: %+v", r1)
	}

	r2 := f.Rules[1]
	if r2.ID == "" {
		t.Error("missing rule id should be generated")
	}
	if r2.Global {
		t.Error("weakly typed \"false\" should decode to false")
	}
	if r2.Order != 1 {
		t.Errorf("order = %d, want array position 1", r2.Order)
	}
}

// TestDecodeFlows_Shapes verifies the accepted document shapes, including JSON
func TestDecodeFlows_Shapes(t *testing.T) {
	testCases := []struct {
		name  string
		doc   string
		count int
	}{
		{"List", `[{"name": "a"}, {"name": "b"}]`, 2},
		{"Wrapped", `{"flows": [{"name": "a"}]}`, 1},
		{"Single", `{"name": "a", "rules": [{"pattern": "x"}]}`, 1},
		{"Empty", ``, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			flows, err := DecodeFlows([]byte(tc.doc))
			if err != nil {
				t.Fatalf("DecodeFlows() failed: %v", err)
			}
			if len(flows) != tc.count {
				t.Errorf("decoded %d flows, want %d", len(flows), tc.count)
			}
			for _, f := range flows {
				if f.ID == "" {
					t.Error("missing flow id should be generated")
				}
			}
		})
	}
}

// TestDecodeFlows_Errors verifies malformed documents are rejected
func TestDecodeFlows_Errors(t *testing.T) {
	for _, doc := range []string{
		`"just a string"`,
		`{"flows": "nope"}`,
		`[{"name": "a", "rules": "nope"}]`,
		`[{"name": "a", "rules": [{"enabled": "maybe"}]}]`,
		`[1, 2]`,
		`{unclosed`,
	} {
		if _, err := DecodeFlows([]byte(doc)); err == nil {
			t.Errorf("DecodeFlows(%s) should fail", doc)
		}
	}
}

// TestEncodeFlows_RoundTrip verifies encoded flows decode to the same rules
func TestEncodeFlows_RoundTrip(t *testing.T) {
	in := validFlow()
	in.Rules[1].CaseSensitive = true
	Renumber(in)

	data, err := EncodeFlows([]*Flow{in})
	if err != nil {
		t.Fatalf("EncodeFlows() failed: %v", err)
	}
	out, err := DecodeFlows(data)
	if err != nil {
		t.Fatalf("DecodeFlows() failed: %v", err)
	}

	if len(out) != 1 || len(out[0].Rules) != len(in.Rules) {
		t.Fatalf("round trip lost flows or rules: %+v", out)
	}
	for i := range in.Rules {
		if out[0].Rules[i] != in.Rules[i] {
			t.Errorf("rule %d = %+v, want %+v", i, out[0].Rules[i], in.Rules[i])
		}
	}
}

// TestDecodeRule verifies single rule decoding keeps defaults and rejects non-mappings
func TestDecodeRule(t *testing.T) {
	r, err := DecodeRule(map[string]any{"pattern": "x", "caseSensitive": 1})
	if err != nil {
		t.Fatalf("DecodeRule() failed: %v", err)
	}
	if !r.Enabled || !r.Global || !r.CaseSensitive || r.ID == "" {
		t.Errorf("DecodeRule() = %+v", r)
	}

	if _, err := DecodeRule([]any{"x"}); err == nil {
		t.Error("DecodeRule() should reject a list")
	}
}
