// Package store persists the directory service state on the filesystem.
// The directory layout is the single source of truth; every operation
// derives its answer from the tree and no in-memory cache exists to
// diverge from it:
//
//	USERS/<UID>/<UID>_pass.txt
//	USERS/<UID>/<UID>_login.txt
//	GROUPS/<GID>/<GID>_name.txt
//	GROUPS/<GID>/<UID>.txt
//	GROUPS/<GID>/MSG/<MID>/A U T H O R.txt
//	GROUPS/<GID>/MSG/<MID>/T E X T.txt
//	GROUPS/<GID>/MSG/<MID>/F N A M E.txt
//	GROUPS/<GID>/MSG/<MID>/<Fname>
//
// The file names with embedded spaces are part of the persisted-state
// contract; a server restarted on an existing tree must find its state.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/infodancer/groupd/internal/proto"
)

const (
	usersDir  = "USERS"
	groupsDir = "GROUPS"
	msgDir    = "MSG"

	authorFile = "A U T H O R.txt"
	textFile   = "T E X T.txt"
	fnameFile  = "F N A M E.txt"
)

// Store is a handle on one filesystem-rooted state tree. Concurrent use by
// multiple goroutines is safe: identifier allocation is the only mutation
// that needs serializing, everything else is create/remove of independent
// paths.
type Store struct {
	root string

	// gidMu serializes group-identifier allocation (scan then mkdir).
	gidMu sync.Mutex

	// midMu serializes message-identifier allocation per group (count
	// then mkdir). Index is the numeric GID.
	midMu [proto.MaxGroups + 1]sync.Mutex
}

// Open creates a Store rooted at dir, creating the USERS and GROUPS
// directories if missing. An existing tree is picked up as-is.
func Open(dir string) (*Store, error) {
	s := &Store{root: dir}
	for _, d := range []string{dir, filepath.Join(dir, usersDir), filepath.Join(dir, groupsDir)} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}
	return s, nil
}

// Root returns the directory the store was opened on.
func (s *Store) Root() string { return s.root }

func (s *Store) userDir(uid proto.UID) string {
	return filepath.Join(s.root, usersDir, string(uid))
}

func (s *Store) passPath(uid proto.UID) string {
	return filepath.Join(s.userDir(uid), string(uid)+"_pass.txt")
}

func (s *Store) loginPath(uid proto.UID) string {
	return filepath.Join(s.userDir(uid), string(uid)+"_login.txt")
}

func (s *Store) groupDir(gid proto.GID) string {
	return filepath.Join(s.root, groupsDir, string(gid))
}

func (s *Store) groupNamePath(gid proto.GID) string {
	return filepath.Join(s.groupDir(gid), string(gid)+"_name.txt")
}

func (s *Store) subPath(gid proto.GID, uid proto.UID) string {
	return filepath.Join(s.groupDir(gid), string(uid)+".txt")
}

func (s *Store) msgRoot(gid proto.GID) string {
	return filepath.Join(s.groupDir(gid), msgDir)
}

func (s *Store) msgPath(gid proto.GID, mid proto.MID) string {
	return filepath.Join(s.msgRoot(gid), string(mid))
}

// writeFile creates path with content, failing if a partial write would
// leave a corrupt record behind.
func writeFile(path string, content []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// exists reports whether path names an existing file or directory.
func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
