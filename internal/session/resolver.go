package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"trackq/internal/runstore"
)

const DefaultPrefix = "session_"

var ErrAmbiguousOrMissingSession = errors.New("ambiguous or missing session")

// Listing is the set of directories directly under the output root.
type Listing map[string]time.Time

// List returns the directories under root with their modification times.
// A missing root lists as empty.
func List(root string) (Listing, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if runstore.IsNotExist(err) {
			return Listing{}, nil
		}
		return nil, fmt.Errorf("list output root %s: %w", root, err)
	}
	out := make(Listing, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out[e.Name()] = info.ModTime()
	}
	return out, nil
}

// Resolver maps tracker runs to the session directories they produced. It
// keeps the set of names already attributed during one batch so that no
// directory is handed to two records.
type Resolver struct {
	root    string
	prefix  string
	claimed map[string]bool
	seen    map[string]int
}

func NewResolver(root, prefix string) *Resolver {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Resolver{
		root:    root,
		prefix:  prefix,
		claimed: map[string]bool{},
		seen:    map[string]int{},
	}
}

// ExpectedName is the directory name the tracker creates for a first run of
// video.
func (r *Resolver) ExpectedName(video string) string {
	return r.prefix + video
}

// Resolve compares the current listing of the output root with before and
// returns the one new session directory. Exactly one new directory must
// appear and it must not be claimed yet.
func (r *Resolver) Resolve(before Listing, video string) (string, error) {
	after, err := List(r.root)
	if err != nil {
		return "", err
	}
	fresh := make([]string, 0, 1)
	for name := range after {
		if _, existed := before[name]; existed {
			continue
		}
		fresh = append(fresh, name)
	}
	slices.Sort(fresh)

	switch {
	case len(fresh) == 0:
		return "", fmt.Errorf("%w: no new directory under %s for video %q", ErrAmbiguousOrMissingSession, r.root, video)
	case len(fresh) > 1:
		return "", fmt.Errorf("%w: %d new directories under %s for video %q: %s",
			ErrAmbiguousOrMissingSession, len(fresh), r.root, video, strings.Join(fresh, ", "))
	case r.claimed[fresh[0]]:
		return "", fmt.Errorf("%w: session %s already attributed in this run", ErrAmbiguousOrMissingSession, fresh[0])
	}
	r.claim(fresh[0], video)
	return filepath.Join(r.root, fresh[0]), nil
}

// Predict returns the session directory a real run would most likely
// produce, without touching the filesystem. The n-th repeat of a video in
// one batch gets the suffix _n.
func (r *Resolver) Predict(video string) (string, error) {
	video = strings.TrimSpace(video)
	if video == "" {
		return "", fmt.Errorf("%w: record has no video name", ErrAmbiguousOrMissingSession)
	}
	name := r.ExpectedName(video)
	if n := r.seen[video]; n > 0 {
		name += "_" + strconv.Itoa(n)
	}
	if r.claimed[name] {
		return "", fmt.Errorf("%w: predicted session %s already claimed", ErrAmbiguousOrMissingSession, name)
	}
	r.claim(name, video)
	return filepath.Join(r.root, name), nil
}

func (r *Resolver) claim(name, video string) {
	r.claimed[name] = true
	r.seen[video]++
}
