// Package testutil holds helpers shared by hostdeck tests.
package testutil

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"

	xssh "golang.org/x/crypto/ssh"
)

// Credentials accepted by SSHServer.
const (
	SSHUser     = "tester"
	SSHPassword = "secret"
)

// ExecHandler runs one exec request and returns its exit status.
type ExecHandler func(cmd string, stdin io.Reader, stdout, stderr io.Writer) int

// SSHServer is an in-process SSH server that hands exec requests to a handler.
type SSHServer struct {
	Addr string

	hostKey  xssh.Signer
	listener net.Listener
	handler  ExecHandler

	mu         sync.Mutex
	authorized []byte
	commands   []string
	conns      int
}

// NewSSHServer starts a server on 127.0.0.1 and stops it when the test ends.
func NewSSHServer(t *testing.T, handler ExecHandler) *SSHServer {
	t.Helper()
	SkipIfNoNetwork(t)

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	hostKey, err := xssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	srv := &SSHServer{
		Addr:     listener.Addr().String(),
		hostKey:  hostKey,
		listener: listener,
		handler:  handler,
	}

	config := &xssh.ServerConfig{
		PasswordCallback: func(c xssh.ConnMetadata, pass []byte) (*xssh.Permissions, error) {
			if c.User() == SSHUser && string(pass) == SSHPassword {
				return nil, nil
			}
			return nil, errors.New("bad password")
		},
		PublicKeyCallback: func(c xssh.ConnMetadata, key xssh.PublicKey) (*xssh.Permissions, error) {
			srv.mu.Lock()
			defer srv.mu.Unlock()
			if c.User() == SSHUser && srv.authorized != nil && bytes.Equal(key.Marshal(), srv.authorized) {
				return nil, nil
			}
			return nil, errors.New("unknown key")
		},
	}
	config.AddHostKey(hostKey)

	go func() {
		for {
			nc, err := listener.Accept()
			if err != nil {
				return
			}
			go srv.serveConn(nc, config)
		}
	}()

	t.Cleanup(func() { _ = listener.Close() })
	return srv
}

// Host returns the listen host.
func (s *SSHServer) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr)
	return host
}

// Port returns the listen port.
func (s *SSHServer) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// HostKey returns the server's public host key.
func (s *SSHServer) HostKey() xssh.PublicKey {
	return s.hostKey.PublicKey()
}

// Authorize allows public key auth with key for SSHUser.
func (s *SSHServer) Authorize(key xssh.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorized = key.Marshal()
}

// Commands returns every exec command received so far.
func (s *SSHServer) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Connections returns how many client handshakes completed.
func (s *SSHServer) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

func (s *SSHServer) serveConn(nc net.Conn, config *xssh.ServerConfig) {
	defer nc.Close()

	_, chans, reqs, err := xssh.NewServerConn(nc, config)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns++
	s.mu.Unlock()
	go xssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(xssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			continue
		}
		go s.serveSession(ch, requests)
	}
}

func (s *SSHServer) serveSession(ch xssh.Channel, requests <-chan *xssh.Request) {
	defer ch.Close()

	for req := range requests {
		if req.Type != "exec" {
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
			continue
		}

		var payload struct{ Command string }
		if err := xssh.Unmarshal(req.Payload, &payload); err != nil {
			_ = req.Reply(false, nil)
			return
		}
		_ = req.Reply(true, nil)
		go xssh.DiscardRequests(requests)

		s.mu.Lock()
		s.commands = append(s.commands, payload.Command)
		s.mu.Unlock()

		code := s.handler(payload.Command, ch, ch, ch.Stderr())
		_, _ = ch.SendRequest("exit-status", false, xssh.Marshal(struct{ Status uint32 }{uint32(code)}))
		return
	}
}

// ShellHandler runs each command through /bin/sh on the local machine.
func ShellHandler(ctx context.Context) ExecHandler {
	return func(cmd string, stdin io.Reader, stdout, stderr io.Writer) int {
		c := exec.CommandContext(ctx, "/bin/sh", "-c", cmd)
		c.Stdin = stdin
		c.Stdout = stdout
		c.Stderr = stderr
		if err := c.Run(); err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				return exitErr.ExitCode()
			}
			fmt.Fprintln(stderr, err)
			return 127
		}
		return 0
	}
}

// Reply is a canned response for ScriptHandler.
type Reply struct {
	Stdout string
	Stderr string
	Code   int
}

// ScriptHandler answers commands from a fixed table. Unknown commands exit 127.
func ScriptHandler(script map[string]Reply) ExecHandler {
	return func(cmd string, _ io.Reader, stdout, stderr io.Writer) int {
		reply, ok := script[cmd]
		if !ok {
			fmt.Fprintf(stderr, "sh: %s: command not found\n", cmd)
			return 127
		}
		_, _ = io.WriteString(stdout, reply.Stdout)
		_, _ = io.WriteString(stderr, reply.Stderr)
		return reply.Code
	}
}

// WriteKey writes an OpenSSH ed25519 private key to dir and returns its path
// and public half. A non-empty passphrase encrypts the key.
func WriteKey(t *testing.T, dir, passphrase string) (string, xssh.PublicKey) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	var block *pem.Block
	if passphrase == "" {
		block, err = xssh.MarshalPrivateKey(priv, "hostdeck-test")
	} else {
		block, err = xssh.MarshalPrivateKeyWithPassphrase(priv, "hostdeck-test", []byte(passphrase))
	}
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}

	path := filepath.Join(dir, "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}

	sshPub, err := xssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	return path, sshPub
}
