// Package gitinfo reads the commit and remote identity baked into bundles
package gitinfo

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-git/go-git/v5"
)

// shortHashLen matches `git rev-parse --short`
const shortHashLen = 7

// Info identifies the source revision of a build
type Info struct {
	Hash   string
	Remote string
}

// Lookup reads HEAD and the origin remote of the repository containing dir.
// A directory outside any repository yields an empty Info.
func Lookup(dir string) (Info, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return Info{}, nil
		}

		return Info{}, fmt.Errorf("failed to open repository: %w", err)
	}

	var info Info

	head, err := repo.Head()
	if err == nil {
		info.Hash = head.Hash().String()[:shortHashLen]
	}

	remote, err := repo.Remote("origin")
	if err == nil && len(remote.Config().URLs) > 0 {
		info.Remote = RemoteSlug(remote.Config().URLs[0])
	}

	return info, nil
}

// RemoteSlug reduces a remote URL to "owner/repo".
// Handles https, ssh and scp-like (git@host:owner/repo.git) forms.
func RemoteSlug(remote string) string {
	remote = strings.TrimSpace(remote)

	var p string
	if u, err := url.Parse(remote); err == nil && u.Scheme != "" && u.Host != "" {
		p = u.Path
	} else if i := strings.Index(remote, ":"); i >= 0 {
		p = remote[i+1:]
	} else {
		p = remote
	}

	p = strings.TrimSuffix(strings.Trim(p, "/"), ".git")

	parts := strings.Split(p, "/")
	if len(parts) >= 2 {
		return strings.Join(parts[len(parts)-2:], "/")
	}

	return p
}
