// Package vault stores named secrets in a single age-encrypted file.
//
// The file decrypts to a JSON document of name → entry. Every mutation
// rewrites the whole file under a lockedfile mutex, so concurrent skillbox
// processes never interleave updates.
package vault

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"filippo.io/age"
	"github.com/pkg/errors"
	"github.com/rogpeppe/go-internal/lockedfile"
)

// PassphraseEnv holds the vault passphrase when no identity file is used.
const PassphraseEnv = "SKILLBOX_VAULT_PASSPHRASE"

var (
	// ErrNotFound is returned by Get and Delete for unknown names.
	ErrNotFound = errors.New("secret not found")
	// ErrNoKey is returned when neither a passphrase nor an identity is configured.
	ErrNoKey = errors.New("no vault key: set " + PassphraseEnv + " or pass an identity file")
)

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Entry is one stored secret.
type Entry struct {
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

type document struct {
	Version int              `json:"version"`
	Secrets map[string]Entry `json:"secrets"`
}

// Vault reads and writes the encrypted secrets file.
type Vault struct {
	path       string
	recipients []age.Recipient
	identities []age.Identity
	now        func() time.Time
}

// Option configures a Vault.
type Option func(*Vault) error

// WithPassphrase encrypts with an scrypt passphrase. workFactor is the scrypt
// log2 cost; zero keeps age's default.
func WithPassphrase(passphrase string, workFactor int) Option {
	return func(v *Vault) error {
		if passphrase == "" {
			return errors.New("passphrase is empty")
		}
		r, err := age.NewScryptRecipient(passphrase)
		if err != nil {
			return errors.Wrap(err, "failed to create scrypt recipient")
		}
		if workFactor > 0 {
			r.SetWorkFactor(workFactor)
		}
		id, err := age.NewScryptIdentity(passphrase)
		if err != nil {
			return errors.Wrap(err, "failed to create scrypt identity")
		}
		v.recipients = []age.Recipient{r}
		v.identities = []age.Identity{id}
		return nil
	}
}

// WithIdentityFile encrypts to the X25519 identity stored at path.
func WithIdentityFile(path string) Option {
	return func(v *Vault) error {
		id, err := LoadIdentity(path)
		if err != nil {
			return err
		}
		v.recipients = []age.Recipient{id.Recipient()}
		v.identities = []age.Identity{id}
		return nil
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(v *Vault) error {
		v.now = now
		return nil
	}
}

// New opens the vault at path. Exactly one key option must be supplied.
func New(path string, opts ...Option) (*Vault, error) {
	v := &Vault{path: path, now: time.Now}
	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, err
		}
	}
	if len(v.identities) == 0 {
		return nil, ErrNoKey
	}
	return v, nil
}

// Open picks the key the way the CLI does: identityFile when set, otherwise
// the passphrase from the environment.
func Open(path, identityFile string) (*Vault, error) {
	if identityFile != "" {
		return New(path, WithIdentityFile(identityFile))
	}
	if pass := os.Getenv(PassphraseEnv); pass != "" {
		return New(path, WithPassphrase(pass, 0))
	}
	return nil, ErrNoKey
}

// GenerateIdentity writes a new X25519 identity to path with 0600 permissions
// and returns its public recipient. An existing file is left untouched.
func GenerateIdentity(path string) (string, error) {
	if _, err := os.Stat(path); err == nil {
		id, err := LoadIdentity(path)
		if err != nil {
			return "", err
		}
		return id.Recipient().String(), nil
	}

	id, err := age.GenerateX25519Identity()
	if err != nil {
		return "", errors.Wrap(err, "failed to generate identity")
	}
	content := fmt.Sprintf("# created by skillbox\n# public key: %s\n%s\n", id.Recipient(), id)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", errors.Wrap(err, "failed to create key directory")
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return "", errors.Wrap(err, "failed to write identity")
	}
	return id.Recipient().String(), nil
}

// LoadIdentity reads the first X25519 identity from path.
func LoadIdentity(path string) (*age.X25519Identity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open identity file")
	}
	defer f.Close()

	ids, err := age.ParseIdentities(f)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse identity file")
	}
	for _, id := range ids {
		if x, ok := id.(*age.X25519Identity); ok {
			return x, nil
		}
	}
	return nil, errors.Errorf("no X25519 identity in %s", path)
}

// Set stores value under name, replacing any previous value.
func (v *Vault) Set(name, value string) error {
	if !nameRe.MatchString(name) {
		return errors.Errorf("invalid secret name %q", name)
	}
	return v.update(func(doc *document) error {
		doc.Secrets[name] = Entry{Value: value, UpdatedAt: v.now().UTC()}
		return nil
	})
}

// Get returns the value stored under name.
func (v *Vault) Get(name string) (string, error) {
	doc, err := v.load()
	if err != nil {
		return "", err
	}
	e, ok := doc.Secrets[name]
	if !ok {
		return "", errors.Wrapf(ErrNotFound, "%s", name)
	}
	return e.Value, nil
}

// Delete removes name from the vault.
func (v *Vault) Delete(name string) error {
	return v.update(func(doc *document) error {
		if _, ok := doc.Secrets[name]; !ok {
			return errors.Wrapf(ErrNotFound, "%s", name)
		}
		delete(doc.Secrets, name)
		return nil
	})
}

// List returns the stored names, sorted, with their update times.
func (v *Vault) List() ([]string, map[string]time.Time, error) {
	doc, err := v.load()
	if err != nil {
		return nil, nil, err
	}
	names := make([]string, 0, len(doc.Secrets))
	updated := make(map[string]time.Time, len(doc.Secrets))
	for name, e := range doc.Secrets {
		names = append(names, name)
		updated[name] = e.UpdatedAt
	}
	sort.Strings(names)
	return names, updated, nil
}

func (v *Vault) update(fn func(*document) error) error {
	unlock, err := lockedfile.MutexAt(v.path + ".lock").Lock()
	if err != nil {
		return errors.Wrap(err, "failed to lock vault")
	}
	defer unlock()

	doc, err := v.load()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return v.save(doc)
}

func (v *Vault) load() (*document, error) {
	doc := &document{Version: 1, Secrets: map[string]Entry{}}

	ciphertext, err := os.ReadFile(v.path)
	if os.IsNotExist(err) {
		return doc, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read vault")
	}

	r, err := age.Decrypt(bytes.NewReader(ciphertext), v.identities...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decrypt vault (wrong key?)")
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read decrypted vault")
	}
	if err := json.Unmarshal(plain, doc); err != nil {
		return nil, errors.Wrap(err, "vault contents are corrupt")
	}
	if doc.Secrets == nil {
		doc.Secrets = map[string]Entry{}
	}
	return doc, nil
}

func (v *Vault) save(doc *document) error {
	plain, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to encode vault")
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, v.recipients...)
	if err != nil {
		return errors.Wrap(err, "failed to start encryption")
	}
	if _, err := w.Write(plain); err != nil {
		return errors.Wrap(err, "failed to encrypt vault")
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, "failed to finish encryption")
	}

	if err := os.MkdirAll(filepath.Dir(v.path), 0o700); err != nil {
		return errors.Wrap(err, "failed to create vault directory")
	}
	tmp := v.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return errors.Wrap(err, "failed to write vault")
	}
	if err := os.Rename(tmp, v.path); err != nil {
		return errors.Wrap(err, "failed to replace vault")
	}
	return nil
}
