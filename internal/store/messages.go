package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/infodancer/groupd/internal/proto"
)

// Message is one stored message as read back for a retrieve window.
type Message struct {
	MID    proto.MID
	Author proto.UID
	Text   []byte

	// Attachment metadata; Fname is empty when the message has none.
	Fname proto.Fname
	Fsize int64
	// FilePath locates the attachment body for streaming.
	FilePath string
}

// HasAttachment reports whether the message carries a file.
func (m *Message) HasAttachment() bool { return m.Fname != "" }

// MessageCount counts the messages in a group by enumerating MSG entries
// whose names are valid MIDs. Message identifiers are dense, so the count
// is also the highest assigned MID.
func (s *Store) MessageCount(gid proto.GID) (int, error) {
	entries, err := os.ReadDir(s.msgRoot(gid))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("reading message directory: %w", err)
	}
	count := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := proto.ParseMID(e.Name()); err == nil {
			count++
		}
	}
	return count, nil
}

// PendingMessage is a message append in flight. The message directory
// exists (and is counted) from Begin onward; content files land before
// Commit returns. Abort rolls the whole directory back.
type PendingMessage struct {
	store *Store
	gid   proto.GID
	mid   proto.MID
	dir   string
	done  bool
}

// BeginMessage allocates the next MID and creates the message directory
// with its author and text records. Allocation (count then mkdir) runs
// under the group's mutex so concurrent posts cannot collide; the mkdir is
// the commit point after which the message is counted. Readers tolerate
// the window before the content files land.
func (s *Store) BeginMessage(gid proto.GID, uid proto.UID, text []byte) (*PendingMessage, error) {
	if !s.GroupExists(gid) {
		return nil, ErrNotFound
	}

	mu := &s.midMu[gid.Num()]
	mu.Lock()
	count, err := s.MessageCount(gid)
	if err != nil {
		mu.Unlock()
		return nil, err
	}
	mid := proto.FormatMID(count + 1)
	dir := s.msgPath(gid, mid)
	if err := os.Mkdir(dir, 0o700); err != nil {
		mu.Unlock()
		return nil, fmt.Errorf("creating message directory: %w", err)
	}
	mu.Unlock()

	p := &PendingMessage{store: s, gid: gid, mid: mid, dir: dir}
	if err := writeFile(filepath.Join(dir, authorFile), []byte(uid)); err != nil {
		p.Abort()
		return nil, fmt.Errorf("writing author: %w", err)
	}
	if err := writeFile(filepath.Join(dir, textFile), text); err != nil {
		p.Abort()
		return nil, fmt.Errorf("writing text: %w", err)
	}
	return p, nil
}

// MID returns the identifier allocated for this message.
func (p *PendingMessage) MID() proto.MID { return p.mid }

// CreateAttachment opens the attachment body file for writing and records
// the filename. The caller streams the declared number of bytes into the
// returned file and closes it before Commit.
func (p *PendingMessage) CreateAttachment(fname proto.Fname) (*os.File, error) {
	f, err := os.OpenFile(filepath.Join(p.dir, string(fname)), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("creating attachment: %w", err)
	}
	if err := writeFile(filepath.Join(p.dir, fnameFile), []byte(fname)); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing filename record: %w", err)
	}
	return f, nil
}

// Commit finalizes the append and returns the assigned MID.
func (p *PendingMessage) Commit() (proto.MID, error) {
	p.done = true
	return p.mid, nil
}

// Abort removes the partially created message directory. Safe to call
// after Commit, where it does nothing.
func (p *PendingMessage) Abort() {
	if p.done {
		return
	}
	p.done = true
	os.RemoveAll(p.dir)
}

// AppendMessage stores a text-only message and returns its MID.
func (s *Store) AppendMessage(gid proto.GID, uid proto.UID, text []byte) (proto.MID, error) {
	p, err := s.BeginMessage(gid, uid, text)
	if err != nil {
		return "", err
	}
	return p.Commit()
}

// ReadMessageRange reads up to 20 messages starting at startMID. A message
// directory whose author or text record cannot be read is skipped:
// incomplete messages are omitted, not errors. Attachment bodies are not
// loaded; Message.FilePath locates them for streaming.
func (s *Store) ReadMessageRange(gid proto.GID, startMID proto.MID) ([]Message, error) {
	count, err := s.MessageCount(gid)
	if err != nil {
		return nil, err
	}
	start := startMID.Num()
	n := count - start + 1
	if n > 20 {
		n = 20
	}
	if n <= 0 {
		return nil, nil
	}

	out := make([]Message, 0, n)
	for i := 0; i < n; i++ {
		mid := proto.FormatMID(start + i)
		msg, err := s.readMessage(gid, mid)
		if err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func (s *Store) readMessage(gid proto.GID, mid proto.MID) (Message, error) {
	dir := s.msgPath(gid, mid)

	author, err := os.ReadFile(filepath.Join(dir, authorFile))
	if err != nil {
		return Message{}, err
	}
	uid, err := proto.ParseUID(string(author))
	if err != nil {
		return Message{}, err
	}
	text, err := os.ReadFile(filepath.Join(dir, textFile))
	if err != nil {
		return Message{}, err
	}
	if !proto.ValidText(text) {
		return Message{}, fmt.Errorf("stored text out of bounds")
	}

	msg := Message{MID: mid, Author: uid, Text: text}

	fname, err := os.ReadFile(filepath.Join(dir, fnameFile))
	if err != nil {
		if os.IsNotExist(err) {
			return msg, nil
		}
		return Message{}, err
	}
	fn, err := proto.ParseFname(string(fname))
	if err != nil {
		return Message{}, err
	}
	path := filepath.Join(dir, string(fn))
	fi, err := os.Stat(path)
	if err != nil {
		return Message{}, err
	}
	msg.Fname = fn
	msg.Fsize = fi.Size()
	msg.FilePath = path
	return msg, nil
}
