package pdf

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillbox/pkg/logger"
)

// EditTimeout bounds a single nano-pdf invocation.
const EditTimeout = 120 * time.Second

// ErrEditorUnavailable is returned when the nano-pdf CLI is not installed.
var ErrEditorUnavailable = errors.New("nano-pdf CLI not found (install with: pip install nano-pdf)")

// InstructionKind classifies an edit instruction.
type InstructionKind string

const (
	InstructionReplace InstructionKind = "replace"
	InstructionChange  InstructionKind = "change"
	InstructionTitle   InstructionKind = "title"
	InstructionDate    InstructionKind = "date"
	InstructionComplex InstructionKind = "complex"
)

// Instruction is a parsed edit instruction. Old is empty for title and date
// updates.
type Instruction struct {
	Kind InstructionKind `json:"kind"`
	Old  string          `json:"old,omitempty"`
	New  string          `json:"new,omitempty"`
	Text string          `json:"text"`
}

var (
	replaceRe = regexp.MustCompile(`(?i)replace ['"]([^'"]+)['"] with ['"]([^'"]+)['"]`)
	titleRe   = regexp.MustCompile(`(?i)change (?:the )?title to ['"]([^'"]+)['"]`)
	changeRe  = regexp.MustCompile(`(?i)change ['"]?([^'"]+?)['"]? to ['"]?([^'"]+?)['"]?\s*$`)
	dateRe    = regexp.MustCompile(`(?i)update (?:the )?date to ['"]?([^'"]+?)['"]?\s*$`)
)

// ParseInstruction recognizes the simple text edits; anything else is
// complex.
func ParseInstruction(text string) Instruction {
	text = strings.TrimSpace(text)
	in := Instruction{Kind: InstructionComplex, Text: text}

	if m := replaceRe.FindStringSubmatch(text); m != nil {
		in.Kind, in.Old, in.New = InstructionReplace, m[1], m[2]
		return in
	}
	if m := titleRe.FindStringSubmatch(text); m != nil {
		in.Kind, in.New = InstructionTitle, m[1]
		return in
	}
	if m := changeRe.FindStringSubmatch(text); m != nil {
		in.Kind, in.Old, in.New = InstructionChange, strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
		return in
	}
	if m := dateRe.FindStringSubmatch(text); m != nil {
		in.Kind, in.New = InstructionDate, m[1]
		return in
	}
	return in
}

// Editor runs nano-pdf.
type Editor struct {
	Binary  string
	Timeout time.Duration
}

// Edit applies instruction to page of in and writes the result to out.
func (e Editor) Edit(ctx context.Context, in, page, instruction, out string) (string, error) {
	if _, err := os.Stat(in); err != nil {
		return "", errors.Errorf("file not found: %s", in)
	}
	if strings.TrimSpace(instruction) == "" {
		return "", errors.New("instruction is required")
	}

	binary := e.Binary
	if binary == "" {
		binary = "nano-pdf"
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return "", ErrEditorUnavailable
	}

	timeout := e.Timeout
	if timeout == 0 {
		timeout = EditTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, path, "edit", in, page, instruction, "--output", out)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log := logger.G(ctx).WithField("file", in).WithField("page", page)
	log.WithField("kind", ParseInstruction(instruction).Kind).Debug("running nano-pdf")
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", errors.Errorf("nano-pdf timed out after %s", timeout)
		}
		return "", errors.Wrapf(err, "nano-pdf error: %s", strings.TrimSpace(stderr.String()))
	}
	log.WithField("output", out).Info("edited PDF")
	return strings.TrimSpace(stdout.String()), nil
}
