// Package gitadapter clones and cleans up source trees ahead of the build
// step, using go-git directly rather than shelling out to a git binary.
package gitadapter

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"forge/internal/domain"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"golang.org/x/crypto/ssh"
)

// CloneResult is what the orchestrator's clone step records onto the
// deployment before moving on to detection.
type CloneResult struct {
	Path          string
	CommitHash    string
	CommitMessage string
	CommitAuthor  string
	Branch        string
}

// AuthToken carries the credentials accepted by Clone; an empty AuthToken
// attempts an unauthenticated clone.
type AuthToken struct {
	Token       string // used as HTTP basic-auth password with a placeholder username
	Username    string
	Password    string
	SSHKeyPath  string
	SSHPassphrase string
}

// Adapter is the GitAdapter contract from the core spec: shallow clone
// with depth 1 by default, optional rootDirectory resolution, and
// best-effort cleanup even on failure.
type Adapter struct {
	maxRetries int
	retryDelay time.Duration
}

// New builds a GitAdapter with the retry policy spec.md assigns clone:
// up to 2 retries on transient network failures.
func New() *Adapter {
	return &Adapter{maxRetries: 2, retryDelay: 500 * time.Millisecond}
}

// Clone shallow-clones repoURL at branch into workDir, returning commit
// metadata. If rootDirectory is non-empty, the
// returned Path points at that subdirectory within the clone.
func (a *Adapter) Clone(ctx context.Context, repoURL, branch, workDir string, auth AuthToken, rootDirectory string) (*CloneResult, error) {
	authMethod, err := resolveAuth(repoURL, auth)
	if err != nil {
		return nil, domain.NewStepError(domain.ErrCloneAuthFailed, "resolving credentials", err)
	}

	var repo *git.Repository
	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, domain.NewStepError(domain.ErrCancelled, "context cancelled during retry", ctx.Err())
			case <-time.After(a.retryDelay):
			}
		}

		cloneOpts := &git.CloneOptions{
			URL:           repoURL,
			Auth:          authMethod,
			Depth:         1,
			SingleBranch:  true,
			ReferenceName: plumbing.NewBranchReferenceName(branch),
		}
		if branch == "" {
			cloneOpts.ReferenceName = ""
		}

		repo, lastErr = git.PlainCloneContext(ctx, workDir, false, cloneOpts)
		if lastErr == nil {
			break
		}
		if isAuthError(lastErr) {
			return nil, domain.NewStepError(domain.ErrCloneAuthFailed, "clone authentication rejected", lastErr)
		}
		if !isTransient(lastErr) {
			break
		}
	}
	if lastErr != nil {
		if ctx.Err() != nil {
			return nil, domain.NewStepError(domain.ErrCancelled, fmt.Sprintf("clone %s", repoURL), ctx.Err())
		}
		return nil, domain.NewStepError(domain.ErrCloneFailed, fmt.Sprintf("clone %s", repoURL), lastErr)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, domain.NewStepError(domain.ErrCloneFailed, "resolving HEAD", err)
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, domain.NewStepError(domain.ErrCloneFailed, "resolving commit", err)
	}

	resultPath := workDir
	if rootDirectory != "" {
		resultPath = workDir + string(os.PathSeparator) + strings.TrimPrefix(rootDirectory, "/")
	}

	return &CloneResult{
		Path:          resultPath,
		CommitHash:    head.Hash().String(),
		CommitMessage: strings.TrimSpace(commit.Message),
		CommitAuthor:  commit.Author.Name,
		Branch:        branch,
	}, nil
}

// Cleanup removes the working tree; it is safe to call even when Clone
// failed partway through, and never returns an error for a missing path.
func (a *Adapter) Cleanup(workDir string) error {
	if err := os.RemoveAll(workDir); err != nil {
		return fmt.Errorf("cleanup working tree %s: %w", workDir, err)
	}
	return nil
}

func resolveAuth(repoURL string, auth AuthToken) (transport.AuthMethod, error) {
	if strings.HasPrefix(repoURL, "git@") || strings.HasPrefix(repoURL, "ssh://") {
		if auth.SSHKeyPath == "" {
			return nil, nil
		}
		key, err := os.ReadFile(auth.SSHKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read SSH key: %w", err)
		}
		var signer ssh.Signer
		if auth.SSHPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(auth.SSHPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(key)
		}
		if err != nil {
			return nil, fmt.Errorf("parse SSH key: %w", err)
		}
		return &gitssh.PublicKeys{
			User:   "git",
			Signer: signer,
			HostKeyCallbackHelper: gitssh.HostKeyCallbackHelper{
				HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			},
		}, nil
	}

	switch {
	case auth.Token != "":
		return &githttp.BasicAuth{Username: "x-access-token", Password: auth.Token}, nil
	case auth.Username != "" && auth.Password != "":
		return &githttp.BasicAuth{Username: auth.Username, Password: auth.Password}, nil
	default:
		return nil, nil
	}
}

func isAuthError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "authentication") || strings.Contains(msg, "401") || strings.Contains(msg, "403")
}

func isTransient(err error) bool {
	msg := err.Error()
	for _, marker := range []string{"timeout", "connection reset", "temporary failure", "i/o timeout", "EOF"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
