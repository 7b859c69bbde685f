package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInputs(t *testing.T) {
	tests := []struct {
		name     string
		pairs    []string
		expected map[string]string
		wantErr  bool
	}{
		{name: "none", pairs: nil, expected: map[string]string{}},
		{name: "single", pairs: []string{"env=staging"}, expected: map[string]string{"env": "staging"}},
		{name: "value keeps equals", pairs: []string{"query=a=b"}, expected: map[string]string{"query": "a=b"}},
		{name: "empty value", pairs: []string{"note="}, expected: map[string]string{"note": ""}},
		{name: "key is trimmed", pairs: []string{" host =db1"}, expected: map[string]string{"host": "db1"}},
		{name: "later wins", pairs: []string{"env=dev", "env=prod"}, expected: map[string]string{"env": "prod"}},
		{name: "missing equals", pairs: []string{"staging"}, wantErr: true},
		{name: "empty key", pairs: []string{"=staging"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseInputs(tt.pairs)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "expected key=value")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestSOPStartConfigFromFlags(t *testing.T) {
	defaults := NewSOPStartConfig()
	cmd := &cobra.Command{Use: "start"}
	cmd.Flags().StringArrayP("input", "i", defaults.Inputs, "")
	cmd.Flags().Bool("json", defaults.JSON, "")
	require.NoError(t, cmd.ParseFlags([]string{"-i", "env=prod", "--input", "tags=a,b", "--json"}))

	config := getSOPStartConfigFromFlags(cmd)
	assert.Equal(t, []string{"env=prod", "tags=a,b"}, config.Inputs)
	assert.True(t, config.JSON)
}

func TestSOPRunsConfigFromFlags(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected *SOPRunsConfig
	}{
		{name: "defaults", expected: &SOPRunsConfig{Limit: 20}},
		{
			name:     "filters",
			args:     []string{"--sop", "deploy", "--status", "failed", "--limit", "0", "--json"},
			expected: &SOPRunsConfig{SOP: "deploy", Status: "failed", Limit: 0, JSON: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defaults := NewSOPRunsConfig()
			cmd := &cobra.Command{Use: "runs"}
			cmd.Flags().String("sop", defaults.SOP, "")
			cmd.Flags().String("status", defaults.Status, "")
			cmd.Flags().Int("limit", defaults.Limit, "")
			cmd.Flags().Bool("json", defaults.JSON, "")
			require.NoError(t, cmd.ParseFlags(tt.args))

			assert.Equal(t, tt.expected, getSOPRunsConfigFromFlags(cmd))
		})
	}
}

func TestSOPActionConfigFromFlags(t *testing.T) {
	newCmd := func() *cobra.Command {
		defaults := NewSOPActionConfig()
		cmd := &cobra.Command{Use: "approve"}
		cmd.Flags().String("by", defaults.By, "")
		cmd.Flags().String("note", defaults.Note, "")
		cmd.Flags().Bool("json", defaults.JSON, "")
		return cmd
	}

	t.Run("explicit actor", func(t *testing.T) {
		cmd := newCmd()
		require.NoError(t, cmd.ParseFlags([]string{"--by", "alice", "--note", "ticket 42"}))

		config := getSOPActionConfigFromFlags(cmd)
		assert.Equal(t, "alice", config.By)
		assert.Equal(t, "ticket 42", config.Note)
		assert.False(t, config.JSON)
	})

	t.Run("empty actor keeps the current user", func(t *testing.T) {
		cmd := newCmd()
		require.NoError(t, cmd.ParseFlags([]string{"--by", ""}))

		assert.Equal(t, currentUser(), getSOPActionConfigFromFlags(cmd).By)
	})
}
