// Package auth provides the password-file Authenticator and a permissive
// Authorizer, the concrete realizations of the broker's injected
// Authenticator/Authorizer interfaces (spec.md §6).
package auth

import (
	"bufio"
	"os"
	"strings"
	"sync"

	h "github.com/riftmq/broker/pkg/hash"
)

// PasswordFile authenticates CONNECT credentials against a line-oriented
// `username:SHA256-hex(password)` file, loaded once at startup (spec.md
// §6, §8). Comments begin with `#`; blank lines are ignored.
type PasswordFile struct {
	mu     sync.RWMutex
	digest map[string]string // username -> SHA256-hex digest
}

// NewPasswordFile loads path into a PasswordFile. A missing path is not
// an error: it yields an authenticator that rejects every credential,
// matching "anonymous only" deployments that omit password_file.
func NewPasswordFile(path string) (*PasswordFile, error) {
	pf := &PasswordFile{digest: make(map[string]string)}
	if path == "" {
		return pf, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return pf, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		user, digest, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		pf.digest[user] = digest
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return pf, nil
}

// CheckValid implements broker.Authenticator.
func (pf *PasswordFile) CheckValid(clientID, username string, password []byte) bool {
	pf.mu.RLock()
	digest, ok := pf.digest[username]
	pf.mu.RUnlock()
	if !ok {
		return false
	}
	return h.VerifyPasswd(digest, string(password))
}

// AllowAllAuthorizer grants every read and write (spec.md §6 names the
// Authorizer contract but leaves ACL policy out of scope beyond it; a
// deployment wanting real ACLs implements its own Authorizer).
type AllowAllAuthorizer struct{}

func (AllowAllAuthorizer) CanRead(topicFilter, username, clientID string) bool { return true }
func (AllowAllAuthorizer) CanWrite(topic, username, clientID string) bool      { return true }
