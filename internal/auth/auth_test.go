package auth

import (
	"os"
	"path/filepath"
	"testing"

	h "github.com/riftmq/broker/pkg/hash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePasswordFile(t *testing.T, lines ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "passwd")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNewPasswordFileEmptyPathRejectsEverything(t *testing.T) {
	pf, err := NewPasswordFile("")
	require.NoError(t, err)
	assert.False(t, pf.CheckValid("c1", "alice", []byte("anything")))
}

func TestNewPasswordFileMissingPathRejectsEverything(t *testing.T) {
	pf, err := NewPasswordFile(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.False(t, pf.CheckValid("c1", "alice", []byte("secret")))
}

func TestPasswordFileLoadsAndVerifies(t *testing.T) {
	path := writePasswordFile(t,
		"# a comment",
		"",
		"alice:"+h.HashPasswd("wonderland"),
		"bob:"+h.HashPasswd("builder"),
	)

	pf, err := NewPasswordFile(path)
	require.NoError(t, err)

	assert.True(t, pf.CheckValid("c1", "alice", []byte("wonderland")))
	assert.True(t, pf.CheckValid("c2", "bob", []byte("builder")))
	assert.False(t, pf.CheckValid("c1", "alice", []byte("wrong")))
	assert.False(t, pf.CheckValid("c3", "nobody", []byte("anything")))
}

func TestPasswordFileSkipsMalformedLines(t *testing.T) {
	path := writePasswordFile(t,
		"not-a-valid-line-without-colon",
		"alice:"+h.HashPasswd("wonderland"),
	)

	pf, err := NewPasswordFile(path)
	require.NoError(t, err)
	assert.True(t, pf.CheckValid("c1", "alice", []byte("wonderland")))
}

func TestAllowAllAuthorizerGrantsEverything(t *testing.T) {
	var authz AllowAllAuthorizer
	assert.True(t, authz.CanRead("a/b", "alice", "c1"))
	assert.True(t, authz.CanWrite("a/b", "alice", "c1"))
}
