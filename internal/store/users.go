package store

import (
	"bytes"
	"fmt"
	"os"

	"github.com/infodancer/groupd/internal/proto"
)

// UserExists reports whether a user directory is present.
func (s *Store) UserExists(uid proto.UID) bool {
	return exists(s.userDir(uid))
}

// UserLoggedIn reports whether the user's login marker is present.
// Logins do not expire server-side.
func (s *Store) UserLoggedIn(uid proto.UID) bool {
	return exists(s.loginPath(uid))
}

// CheckPassword byte-compares pass against the stored password file.
// Returns ErrNotFound when the user does not exist and ErrWrongPassword on
// a mismatch or a stored record of the wrong length; any other read
// failure is returned wrapped.
func (s *Store) CheckPassword(uid proto.UID, pass string) error {
	stored, err := os.ReadFile(s.passPath(uid))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("reading password: %w", err)
	}
	if len(stored) != proto.PassLen || !bytes.Equal(stored, []byte(pass)) {
		return ErrWrongPassword
	}
	return nil
}

// CreateUser registers a new user: its directory plus the password record.
// Returns ErrDuplicate when the user already exists; on a partial failure
// the user directory is rolled back.
func (s *Store) CreateUser(uid proto.UID, pass string) error {
	dir := s.userDir(uid)
	if err := os.Mkdir(dir, 0o700); err != nil {
		if os.IsExist(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("creating user directory: %w", err)
	}
	if err := writeFile(s.passPath(uid), []byte(pass)); err != nil {
		os.RemoveAll(dir)
		return fmt.Errorf("writing password: %w", err)
	}
	return nil
}

// DeleteUser removes the user and cascades: password and login marker go
// with the directory, and every subscription marker under GROUPS is
// deleted. Past messages authored by the user are retained. Returns
// ErrNotFound when the user does not exist.
func (s *Store) DeleteUser(uid proto.UID) error {
	if !s.UserExists(uid) {
		return ErrNotFound
	}
	if err := os.RemoveAll(s.userDir(uid)); err != nil {
		return fmt.Errorf("removing user: %w", err)
	}
	gids, err := s.listGIDs()
	if err != nil {
		return err
	}
	for _, gid := range gids {
		if err := os.Remove(s.subPath(gid, uid)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing subscription: %w", err)
		}
	}
	return nil
}

// SetLogin creates the user's login marker. Setting an already-set marker
// succeeds.
func (s *Store) SetLogin(uid proto.UID) error {
	if !s.UserExists(uid) {
		return ErrNotFound
	}
	if err := writeFile(s.loginPath(uid), nil); err != nil {
		return fmt.Errorf("writing login marker: %w", err)
	}
	return nil
}

// ClearLogin removes the user's login marker. Returns ErrNotLoggedIn when
// no marker was present.
func (s *Store) ClearLogin(uid proto.UID) error {
	if err := os.Remove(s.loginPath(uid)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotLoggedIn
		}
		return fmt.Errorf("removing login marker: %w", err)
	}
	return nil
}
