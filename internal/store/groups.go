package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/infodancer/groupd/internal/proto"
)

// GroupInfo is one row of a group listing.
type GroupInfo struct {
	GID   proto.GID
	Name  proto.GName
	Last  proto.MID // zero-padded message count; "0000" for an empty group
	Count int
}

// GroupExists reports whether the group's name record is present.
func (s *Store) GroupExists(gid proto.GID) bool {
	return exists(s.groupNamePath(gid))
}

// GroupName reads the stored name of a group.
func (s *Store) GroupName(gid proto.GID) (proto.GName, error) {
	b, err := os.ReadFile(s.groupNamePath(gid))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("reading group name: %w", err)
	}
	name, err := proto.ParseGName(string(b))
	if err != nil {
		return "", fmt.Errorf("stored group name: %w", err)
	}
	return name, nil
}

// IsSubscribed reports whether the user's subscription marker exists in
// the group.
func (s *Store) IsSubscribed(uid proto.UID, gid proto.GID) bool {
	return exists(s.subPath(gid, uid))
}

// CreateGroup allocates the smallest free GID, creates the group tree, and
// subscribes the creating user. The allocation scan and mkdir run under
// the global GID mutex so concurrent creations cannot collide. On any
// sub-step failure the partially created tree is rolled back. Returns
// ErrFull when all 99 identifiers are taken.
func (s *Store) CreateGroup(uid proto.UID, name proto.GName) (proto.GID, error) {
	s.gidMu.Lock()
	defer s.gidMu.Unlock()

	var gid proto.GID
	for n := 1; n <= proto.MaxGroups; n++ {
		cand := proto.FormatGID(n)
		if !exists(s.groupDir(cand)) {
			gid = cand
			break
		}
	}
	if gid == "" {
		return "", ErrFull
	}

	dir := s.groupDir(gid)
	if err := os.Mkdir(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating group directory: %w", err)
	}
	rollback := func() { os.RemoveAll(dir) }

	if err := writeFile(s.groupNamePath(gid), []byte(name)); err != nil {
		rollback()
		return "", fmt.Errorf("writing group name: %w", err)
	}
	if err := writeFile(s.subPath(gid, uid), []byte(uid)); err != nil {
		rollback()
		return "", fmt.Errorf("writing subscriber marker: %w", err)
	}
	if err := os.Mkdir(s.msgRoot(gid), 0o700); err != nil {
		rollback()
		return "", fmt.Errorf("creating message directory: %w", err)
	}
	return gid, nil
}

// Subscribe adds the user's subscription marker to an existing group. The
// supplied name must match the stored group name byte-exact
// (ErrNameMismatch otherwise). Subscribing twice succeeds.
func (s *Store) Subscribe(uid proto.UID, gid proto.GID, name proto.GName) error {
	stored, err := s.GroupName(gid)
	if err != nil {
		return err
	}
	if stored != name {
		return ErrNameMismatch
	}
	if err := writeFile(s.subPath(gid, uid), []byte(uid)); err != nil {
		return fmt.Errorf("writing subscriber marker: %w", err)
	}
	return nil
}

// Unsubscribe removes the user's subscription marker. A missing marker
// returns ErrNotSubscribed; a missing group returns ErrNotFound.
func (s *Store) Unsubscribe(uid proto.UID, gid proto.GID) error {
	if !s.GroupExists(gid) {
		return ErrNotFound
	}
	if err := os.Remove(s.subPath(gid, uid)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotSubscribed
		}
		return fmt.Errorf("removing subscriber marker: %w", err)
	}
	return nil
}

// Subscribers returns the UIDs subscribed to the group, sorted.
func (s *Store) Subscribers(gid proto.GID) ([]proto.UID, error) {
	entries, err := os.ReadDir(s.groupDir(gid))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading group directory: %w", err)
	}
	var uids []proto.UID
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		// Subscriber markers are <UID>.txt; skip the name record.
		if len(name) != proto.UIDLen+4 || name[proto.UIDLen:] != ".txt" {
			continue
		}
		uid, err := proto.ParseUID(name[:proto.UIDLen])
		if err != nil {
			continue
		}
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

// ListGroups enumerates groups in ascending numeric GID order. With a
// non-empty uid only the user's subscriptions are returned. Each row
// carries the stored name and the zero-padded message count.
func (s *Store) ListGroups(uid proto.UID) ([]GroupInfo, error) {
	gids, err := s.listGIDs()
	if err != nil {
		return nil, err
	}
	var out []GroupInfo
	for _, gid := range gids {
		if uid != "" && !s.IsSubscribed(uid, gid) {
			continue
		}
		name, err := s.GroupName(gid)
		if err != nil {
			// A group directory without a readable name record is not a
			// group; skip it rather than fail the whole listing.
			continue
		}
		count, err := s.MessageCount(gid)
		if err != nil {
			return nil, err
		}
		out = append(out, GroupInfo{GID: gid, Name: name, Last: proto.FormatMID(count), Count: count})
	}
	return out, nil
}

// listGIDs returns the existing group identifiers sorted numerically.
// Directory entries arrive in OS order, so the sort is required.
func (s *Store) listGIDs() ([]proto.GID, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, groupsDir))
	if err != nil {
		return nil, fmt.Errorf("reading groups directory: %w", err)
	}
	var gids []proto.GID
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		gid, err := proto.ParseGID(e.Name())
		if err != nil {
			continue
		}
		gids = append(gids, gid)
	}
	sort.Slice(gids, func(i, j int) bool { return gids[i].Num() < gids[j].Num() })
	return gids, nil
}
