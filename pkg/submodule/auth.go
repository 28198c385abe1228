// SPDX-License-Identifier: MPL-2.0

package submodule

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
)

// authProvider picks an authentication method once per invocation: SSH keys
// from the usual locations first, then token-based HTTPS auth from the
// environment. Public repositories work with neither.
type authProvider struct {
	sshAuth  transport.AuthMethod
	httpAuth transport.AuthMethod
}

func newAuthProvider() *authProvider {
	return &authProvider{
		sshAuth:  trySSHAuth(),
		httpAuth: tryHTTPAuth(),
	}
}

// For returns the auth method matching the remote's transport, nil when none
// applies (local paths, public HTTPS).
func (a *authProvider) For(remote string) transport.AuthMethod {
	switch {
	case strings.HasPrefix(remote, "git@"), strings.HasPrefix(remote, "ssh://"):
		return a.sshAuth
	case strings.HasPrefix(remote, "https://"), strings.HasPrefix(remote, "http://"):
		return a.httpAuth
	default:
		// Local path remote
		return nil
	}
}

// trySSHAuth attempts to configure SSH authentication from common key
// locations.
func trySSHAuth() transport.AuthMethod {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil
	}

	keyPaths := []string{
		filepath.Join(homeDir, ".ssh", "id_ed25519"),
		filepath.Join(homeDir, ".ssh", "id_rsa"),
		filepath.Join(homeDir, ".ssh", "id_ecdsa"),
	}

	for _, keyPath := range keyPaths {
		if _, err := os.Stat(keyPath); err == nil {
			auth, err := ssh.NewPublicKeysFromFile("git", keyPath, "")
			if err == nil {
				return auth
			}
		}
	}

	return nil
}

// tryHTTPAuth attempts to configure HTTP authentication via environment
// variables.
func tryHTTPAuth() transport.AuthMethod {
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		return &http.BasicAuth{
			Username: "x-access-token",
			Password: token,
		}
	}

	if token := os.Getenv("GITLAB_TOKEN"); token != "" {
		return &http.BasicAuth{
			Username: "gitlab-ci-token",
			Password: token,
		}
	}

	if token := os.Getenv("GIT_TOKEN"); token != "" {
		return &http.BasicAuth{
			Username: "git",
			Password: token,
		}
	}

	return nil
}
