package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const flowsDoc = `flows:
  - id: emails
    name: Emails
    rules:
      - id: capture
        pattern: '\w+@\w+\.com'
        replacement: '<email>'
        storeInFlow: true
        flowKey: emails
      - id: footer
        pattern: '$'
        replacement: "\n-- first: ${{emails[0]}}"
        global: false
  - id: shout
    name: Shout
    rules:
      - id: upper
        pattern: hello
        replacement: HELLO
`

func writeFlows(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flows.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRunCmd(t *testing.T) {
	path := writeFlows(t, flowsDoc)

	out, err := execute(t, "mail bob@x.com", "run", "-f", path)
	require.NoError(t, err)
	assert.Equal(t, "mail <email>\n-- first: bob@x.com", out)
}

func TestRunCmd_SelectsFlowByNameOrID(t *testing.T) {
	path := writeFlows(t, flowsDoc)

	for _, ref := range []string{"shout", "Shout", "SHOUT"} {
		out, err := execute(t, "hello world", "run", "-f", path, "--flow", ref)
		require.NoError(t, err, ref)
		assert.Equal(t, "HELLO world", out, ref)
	}

	_, err := execute(t, "hello", "run", "-f", path, "--flow", "missing")
	assert.ErrorContains(t, err, `flow "missing" not found`)
}

func TestRunCmd_ReadsFile(t *testing.T) {
	path := writeFlows(t, flowsDoc)
	input := filepath.Join(t.TempDir(), "in.txt")
	require.NoError(t, os.WriteFile(input, []byte("hello there"), 0o644))

	out, err := execute(t, "", "run", "-f", path, "--flow", "shout", input)
	require.NoError(t, err)
	assert.Equal(t, "HELLO there", out)
}

func TestRunCmd_StructuredOutput(t *testing.T) {
	path := writeFlows(t, flowsDoc)

	out, err := execute(t, "a@b.com c@d.com", "run", "-f", path, "--format", "json")
	require.NoError(t, err)
	var doc resultDocument
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, []string{"a@b.com", "c@d.com"}, doc.Captures["emails"])
	require.Len(t, doc.Rules, 2)
	assert.Equal(t, 2, doc.Rules[0].Matches)

	out, err = execute(t, "a@b.com", "run", "-f", path, "--format", "yaml")
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	assert.Equal(t, []string{"a@b.com"}, doc.Captures["emails"])

	_, err = execute(t, "x", "run", "-f", path, "--format", "xml")
	assert.ErrorContains(t, err, "unknown format")
}

func TestRunCmd_Errors(t *testing.T) {
	_, err := execute(t, "x", "run")
	assert.ErrorContains(t, err, "flow document is required")

	_, err = execute(t, "x", "run", "-f", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read flows")

	disabled := writeFlows(t, "flows:\n  - name: off\n    enabled: false\n")
	_, err = execute(t, "x", "run", "-f", disabled)
	assert.ErrorContains(t, err, "no enabled flow")
}

func TestHighlightCmd(t *testing.T) {
	path := writeFlows(t, flowsDoc)

	out, err := execute(t, "hi bob@x.com", "highlight", "-f", path, "--no-color")
	require.NoError(t, err)
	assert.Equal(t, "hi [bob@x.com]\n", out)

	out, err = execute(t, "hi bob@x.com", "highlight", "-f", path, "--list")
	require.NoError(t, err)
	assert.Equal(t, "capture\t3\t12\t\"bob@x.com\"\n", out)
}

func TestValidateCmd(t *testing.T) {
	out, err := execute(t, "", "validate", "-f", writeFlows(t, flowsDoc))
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Emails (2 rules)")
	assert.Contains(t, out, "✓ Shout (1 rules)")

	broken := `flows:
  - name: broken
    rules:
      - id: bad
        pattern: "(unclosed"
  - name: badkey
    rules:
      - pattern: x
        condition: "text =="
  - name: hyphenkey
    rules:
      - pattern: x
        storeInFlow: true
        flowKey: "user-emails"
`
	out, err = execute(t, "", "validate", "-f", writeFlows(t, broken))
	assert.ErrorContains(t, err, "2 of 3 flows have problems")
	assert.Contains(t, out, "rule bad:")
	assert.Contains(t, out, "✗ badkey")
	assert.Contains(t, out, "✓ hyphenkey (1 rules)")
}

func TestRootCmd_NoSubcommand(t *testing.T) {
	_, err := execute(t, "")
	assert.ErrorContains(t, err, "no command specified")
}
