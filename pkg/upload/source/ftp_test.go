package source

import (
	"testing"

	"github.com/jlaffaye/ftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFTPTarget(t *testing.T) {
	cases := []struct {
		name    string
		loc     string
		addr    string
		path    string
		wantErr bool
	}{
		{"explicit port", "ftp://ftp.example.com:2121/pub/docs", "ftp.example.com:2121", "pub/docs", false},
		{"default port appended", "ftp://ftp.example.com/pub", "ftp.example.com:21", "pub", false},
		{"root path", "ftp://ftp.example.com", "ftp.example.com:21", "", false},
		{"wrong scheme", "http://example.com/pub", "", "", true},
		{"missing host", "ftp:///pub", "", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			addr, remotePath, err := ftpTarget(tc.loc)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.addr, addr)
			assert.Equal(t, tc.path, remotePath)
		})
	}
}

func TestFTPPoolKeyPerCredential(t *testing.T) {
	addr := "ftp.example.com:21"
	anon := ftpPoolKey(addr, Credentials{})
	alice := ftpPoolKey(addr, Credentials{Username: "alice", Password: "s3cret"})
	bob := ftpPoolKey(addr, Credentials{Username: "bob", Password: "s3cret"})

	assert.NotEqual(t, anon, alice)
	assert.NotEqual(t, alice, bob)
	assert.Equal(t, alice, ftpPoolKey(addr, Credentials{Username: "alice", Password: "other"}),
		"same identity pools together regardless of secret value")
	assert.NotEqual(t, alice, ftpPoolKey("other.example.com:21", Credentials{Username: "alice", Password: "s3cret"}))
}

func TestFTPIdlePool(t *testing.T) {
	a := NewFTPAdapter()
	key := ftpPoolKey("ftp.example.com:21", Credentials{Username: "alice"})

	assert.Nil(t, a.popIdle(key))

	c1 := &ftp.ServerConn{}
	c2 := &ftp.ServerConn{}
	a.checkin(key, c1, false)
	a.checkin(key, c2, false)

	// Exclusive checkout: each conn handed out once, most recent first.
	assert.Same(t, c2, a.popIdle(key))
	assert.Same(t, c1, a.popIdle(key))
	assert.Nil(t, a.popIdle(key))

	// Other keys never see this pool.
	a.checkin(key, c1, false)
	assert.Nil(t, a.popIdle(ftpPoolKey("ftp.example.com:21", Credentials{Username: "bob"})))
	assert.Same(t, c1, a.popIdle(key))

	// nil checkin is a no-op.
	a.checkin(key, nil, false)
	assert.Nil(t, a.popIdle(key))
}
