// Package onepassword wraps the 1Password `op` CLI.
package onepassword

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillbox/pkg/logger"
)

// DefaultTimeout bounds a single op invocation.
const DefaultTimeout = 30 * time.Second

// ErrNotInstalled is returned when the op binary is not on PATH.
var ErrNotInstalled = errors.New("1Password CLI (op) not found in PATH")

// Runner executes op with the given arguments and returns stdout.
type Runner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// ExecRunner runs the real op binary.
type ExecRunner struct {
	Binary  string
	Timeout time.Duration
}

// Run implements Runner.
func (r ExecRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	binary := r.Binary
	if binary == "" {
		binary = "op"
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, ErrNotInstalled
	}

	timeout := r.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.G(ctx).WithField("args", args[:min(2, len(args))]).Debug("running op")
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.Errorf("op %s timed out after %s", strings.Join(args[:min(2, len(args))], " "), timeout)
		}
		return nil, errors.Wrapf(err, "op failed: %s", strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Account is the signed-in identity reported by `op whoami`.
type Account struct {
	URL         string `json:"url"`
	Email       string `json:"email"`
	UserUUID    string `json:"user_uuid"`
	AccountUUID string `json:"account_uuid"`
}

// Vault is a 1Password vault.
type Vault struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ItemSummary is one row of `op item list`.
type ItemSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Category  string    `json:"category"`
	Vault     Vault     `json:"vault"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Field is a single item field.
type Field struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Type      string `json:"type"`
	Purpose   string `json:"purpose,omitempty"`
	Value     string `json:"value,omitempty"`
	Reference string `json:"reference,omitempty"`
}

// Concealed reports whether the field holds a secret.
func (f Field) Concealed() bool {
	return f.Type == "CONCEALED" || f.Purpose == "PASSWORD"
}

// Item is a full item as returned by `op item get`.
type Item struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Category string  `json:"category"`
	Vault    Vault   `json:"vault"`
	Fields   []Field `json:"fields"`
}

// Field returns the first field whose label or id matches name, case-insensitively.
func (i *Item) Field(name string) (Field, bool) {
	for _, f := range i.Fields {
		if strings.EqualFold(f.Label, name) || strings.EqualFold(f.ID, name) {
			return f, true
		}
	}
	return Field{}, false
}

// Client issues op commands through a Runner.
type Client struct {
	runner Runner
}

// NewClient creates a client. A nil runner uses ExecRunner.
func NewClient(runner Runner) *Client {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Client{runner: runner}
}

func (c *Client) runJSON(ctx context.Context, out any, args ...string) error {
	data, err := c.runner.Run(ctx, append(args, "--format", "json")...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "failed to parse op %s output", args[0])
	}
	return nil
}

// Whoami returns the signed-in account.
func (c *Client) Whoami(ctx context.Context) (*Account, error) {
	var acct Account
	if err := c.runJSON(ctx, &acct, "whoami"); err != nil {
		return nil, err
	}
	return &acct, nil
}

// ListVaults returns the vaults visible to the account.
func (c *Client) ListVaults(ctx context.Context) ([]Vault, error) {
	var vaults []Vault
	if err := c.runJSON(ctx, &vaults, "vault", "list"); err != nil {
		return nil, err
	}
	return vaults, nil
}

// ListItems lists items, optionally restricted to one vault.
func (c *Client) ListItems(ctx context.Context, vault string) ([]ItemSummary, error) {
	args := []string{"item", "list"}
	if vault != "" {
		args = append(args, "--vault", vault)
	}

	var items []ItemSummary
	if err := c.runJSON(ctx, &items, args...); err != nil {
		return nil, err
	}
	return items, nil
}

// GetItem fetches one item with its fields.
func (c *Client) GetItem(ctx context.Context, item, vault string) (*Item, error) {
	if strings.TrimSpace(item) == "" {
		return nil, errors.New("item name or id is required")
	}
	args := []string{"item", "get", item}
	if vault != "" {
		args = append(args, "--vault", vault)
	}

	var it Item
	if err := c.runJSON(ctx, &it, args...); err != nil {
		return nil, err
	}
	return &it, nil
}

// ValidateReference checks the op://vault/item[/section]/field form.
func ValidateReference(ref string) error {
	rest, ok := strings.CutPrefix(ref, "op://")
	if !ok {
		return errors.Errorf("secret reference %q must start with op://", ref)
	}
	parts := strings.Split(rest, "/")
	if len(parts) < 3 || len(parts) > 4 {
		return errors.Errorf("secret reference %q must look like op://vault/item/field", ref)
	}
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return errors.Errorf("secret reference %q has an empty segment", ref)
		}
	}
	return nil
}

// Read resolves a secret reference to its value.
func (c *Client) Read(ctx context.Context, ref string) (string, error) {
	if err := ValidateReference(ref); err != nil {
		return "", err
	}
	out, err := c.runner.Run(ctx, "read", ref, "--no-newline")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Mask hides all but the last four characters of a secret.
func Mask(secret string) string {
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return strings.Repeat("*", len(secret)-4) + secret[len(secret)-4:]
}
