package main

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/jingkaihe/skillbox/pkg/email"
	"github.com/jingkaihe/skillbox/pkg/imagegen"
	"github.com/jingkaihe/skillbox/pkg/pdf"
	"github.com/jingkaihe/skillbox/pkg/sop"
)

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"missing openai key", imagegen.ErrMissingAPIKey, exitUsage},
		{"wrapped smtp credentials", errors.Wrap(email.ErrMissingCredentials, "sender"), exitUsage},
		{"pdf editor missing", pdf.ErrEditorUnavailable, exitUsage},
		{"invalid sop inputs", &sop.ValidationError{Err: errors.New(`missing required input "env"`)}, exitUsage},
		{"other failure", errors.New("connection refused"), exitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, exitCodeFor(tt.err))
		})
	}
}

func TestReadInput(t *testing.T) {
	got, err := readInput([]string{"hello", "world"})
	assert.NoError(t, err)
	assert.Equal(t, "hello world", got)
}
