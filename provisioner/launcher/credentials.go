package launcher

import (
	"errors"
	"fmt"
	"os"
	"path"
	"regexp"
	"strings"

	"golang.org/x/crypto/ssh"
)

var ErrCredentialNotFound = errors.New("credential not found")

type Credential struct {
	Username string
	Signer   ssh.Signer
}

// Credentials resolves the credentials id carried by a template.
type Credentials interface {
	Lookup(id string) (Credential, error)
}

var credentialIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// FileCredentials reads private keys from a directory: <Root>/<id> holds the PEM key
// and the optional <Root>/<id>.username overrides DefaultUsername.
type FileCredentials struct {
	Root            string
	DefaultUsername string
}

// FileCredentials implements Credentials
var _ Credentials = (*FileCredentials)(nil)

func (c *FileCredentials) Lookup(id string) (Credential, error) {
	if !credentialIDRegex.MatchString(id) {
		return Credential{}, fmt.Errorf("invalid credentials id '%s'", id)
	}

	key, err := os.ReadFile(path.Join(c.Root, id))
	if errors.Is(err, os.ErrNotExist) {
		return Credential{}, fmt.Errorf("%w: %s", ErrCredentialNotFound, id)
	} else if err != nil {
		return Credential{}, fmt.Errorf("failed to read credential '%s': %w", id, err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return Credential{}, fmt.Errorf("failed to parse private key of credential '%s': %w", id, err)
	}

	username := c.DefaultUsername
	if buf, err := os.ReadFile(path.Join(c.Root, id+".username")); err == nil {
		username = strings.TrimSpace(string(buf))
	} else if !errors.Is(err, os.ErrNotExist) {
		return Credential{}, fmt.Errorf("failed to read username of credential '%s': %w", id, err)
	}
	if username == "" {
		return Credential{}, fmt.Errorf("no username for credential '%s'", id)
	}

	return Credential{Username: username, Signer: signer}, nil
}
