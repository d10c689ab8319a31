package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type decision struct {
	Thought string `json:"thought"`
	Reply   string `json:"reply"`
}

func TestExtractJSON_PlainObject(t *testing.T) {
	d, err := ExtractJSON[decision](`{"thought":"check grid","reply":"one moment"}`)
	require.NoError(t, err)
	assert.Equal(t, "check grid", d.Thought)
}

func TestExtractJSON_MarkdownFence(t *testing.T) {
	d, err := ExtractJSON[decision]("```json\n{\"thought\":\"t\",\"reply\":\"r\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "r", d.Reply)
}

func TestExtractJSON_ConversationalPreamble(t *testing.T) {
	d, err := ExtractJSON[decision](`Sure! Here is the plan: {"thought":"t","reply":"好的"} Let me know.`)
	require.NoError(t, err)
	assert.Equal(t, "好的", d.Reply)
}

func TestExtractJSON_TrailingProseAfterObject(t *testing.T) {
	d, err := ExtractJSON[decision](`{"thought":"t","reply":"done"} Hope this helps!`)
	require.NoError(t, err)
	assert.Equal(t, "done", d.Reply)
}

func TestExtractJSON_RawNewlineInsideString(t *testing.T) {
	d, err := ExtractJSON[decision]("{\"thought\":\"line one\nline two\",\"reply\":\"r\"}")
	require.NoError(t, err)
	assert.Contains(t, d.Thought, "line one")
	assert.Contains(t, d.Thought, "line two")
}

func TestExtractJSON_TrailingComma(t *testing.T) {
	d, err := ExtractJSON[decision](`{"thought":"t","reply":"r",}`)
	require.NoError(t, err)
	assert.Equal(t, "t", d.Thought)
}

func TestExtractJSON_ControlCharacters(t *testing.T) {
	d, err := ExtractJSON[decision]("{\"thought\":\"a\x08b\",\"reply\":\"r\"}")
	require.NoError(t, err)
	assert.Equal(t, "r", d.Reply)
}

func TestExtractJSON_Failures(t *testing.T) {
	_, err := ExtractJSON[decision]("")
	assert.Error(t, err)

	_, err = ExtractJSON[decision]("no json here at all")
	assert.Error(t, err)

	_, err = ExtractJSON[decision]("{broken")
	assert.Error(t, err)
}
