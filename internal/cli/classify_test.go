package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/eventsync/internal/category"
)

func TestClassify_Text(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"english", []string{"Jazz night"}, "music (rule: multi/music)"},
		{"estonian with description", []string{"Hamlet", "Tallinna Linnateatri etendus"}, "theatre (rule: multi/theatre)"},
		{"no match", []string{"Something"}, "other (rule: default)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			cmd := NewClassifyCommand(&RootOptions{Format: "text"})
			cmd.SetOut(buf)
			cmd.SetArgs(tt.args)

			require.NoError(t, cmd.Execute())
			assert.Equal(t, tt.want+"\n", buf.String())
		})
	}
}

func TestClassify_JSON(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewClassifyCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"Концерт симфонического оркестра"})

	require.NoError(t, cmd.Execute())

	var resp struct {
		Status string         `json:"status"`
		Data   ClassifyResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "music", resp.Data.Category)
	assert.Equal(t, "multi/music", resp.Data.Rule)
}

func TestClassify_Rules(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewClassifyCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--rules"})

	require.NoError(t, cmd.Execute())

	var resp struct {
		Data []RuleInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	rules := category.DefaultRules()
	require.Len(t, resp.Data, len(rules))
	assert.Equal(t, 1, resp.Data[0].Order)
	assert.Equal(t, rules[0].Name, resp.Data[0].Name)
}

func TestClassify_MissingName(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewClassifyCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "Error [E003]")
}
