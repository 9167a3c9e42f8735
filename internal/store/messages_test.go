package store

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/infodancer/groupd/internal/proto"
)

func newGroupStore(t *testing.T) (*Store, proto.GID) {
	t.Helper()
	s := newTestStore(t)
	if err := s.CreateUser("10000", "abcdefgh"); err != nil {
		t.Fatal(err)
	}
	gid, err := s.CreateGroup("10000", "demo")
	if err != nil {
		t.Fatal(err)
	}
	return s, gid
}

func TestAppendMessage(t *testing.T) {
	s, gid := newGroupStore(t)

	mid, err := s.AppendMessage(gid, "10000", []byte("hello"))
	if err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	if mid != "0001" {
		t.Errorf("first MID = %q, want 0001", mid)
	}

	dir := filepath.Join(s.Root(), "GROUPS", string(gid), "MSG", "0001")
	author, err := os.ReadFile(filepath.Join(dir, "A U T H O R.txt"))
	if err != nil || string(author) != "10000" {
		t.Errorf("author record = %q, %v", author, err)
	}
	text, err := os.ReadFile(filepath.Join(dir, "T E X T.txt"))
	if err != nil || string(text) != "hello" {
		t.Errorf("text record = %q, %v", text, err)
	}

	mid, err = s.AppendMessage(gid, "10000", []byte("again"))
	if err != nil || mid != "0002" {
		t.Errorf("second MID = %q, %v", mid, err)
	}

	count, err := s.MessageCount(gid)
	if err != nil || count != 2 {
		t.Errorf("MessageCount() = %d, %v", count, err)
	}
}

func TestAppendMessageWithAttachment(t *testing.T) {
	s, gid := newGroupStore(t)

	body := bytes.Repeat([]byte{0x01, 0x00, 0xfe}, 50)
	p, err := s.BeginMessage(gid, "10000", []byte("with file"))
	if err != nil {
		t.Fatalf("BeginMessage() error = %v", err)
	}
	f, err := p.CreateAttachment("a.txt")
	if err != nil {
		t.Fatalf("CreateAttachment() error = %v", err)
	}
	if _, err := f.Write(body); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	mid, err := p.Commit()
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	msgs, err := s.ReadMessageRange(gid, mid)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages", len(msgs))
	}
	m := msgs[0]
	if m.Fname != "a.txt" || m.Fsize != int64(len(body)) {
		t.Errorf("attachment meta = %q %d", m.Fname, m.Fsize)
	}
	got, err := os.ReadFile(m.FilePath)
	if err != nil || !bytes.Equal(got, body) {
		t.Error("attachment bytes corrupted")
	}
}

func TestAbortRemovesMessage(t *testing.T) {
	s, gid := newGroupStore(t)

	p, err := s.BeginMessage(gid, "10000", []byte("doomed"))
	if err != nil {
		t.Fatal(err)
	}
	p.Abort()

	count, err := s.MessageCount(gid)
	if err != nil || count != 0 {
		t.Errorf("MessageCount() after abort = %d, %v", count, err)
	}

	// The freed identifier is reused by the next post.
	mid, err := s.AppendMessage(gid, "10000", []byte("kept"))
	if err != nil || mid != "0001" {
		t.Errorf("MID after abort = %q, %v", mid, err)
	}
}

func TestReadMessageRangeWindow(t *testing.T) {
	s, gid := newGroupStore(t)
	for i := 1; i <= 25; i++ {
		if _, err := s.AppendMessage(gid, "10000", []byte(fmt.Sprintf("message %d", i))); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name      string
		start     proto.MID
		wantCount int
		wantFirst proto.MID
	}{
		{name: "from start capped at 20", start: "0001", wantCount: 20, wantFirst: "0001"},
		{name: "tail window", start: "0020", wantCount: 6, wantFirst: "0020"},
		{name: "last message", start: "0025", wantCount: 1, wantFirst: "0025"},
		{name: "past the end", start: "0026", wantCount: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, err := s.ReadMessageRange(gid, tt.start)
			if err != nil {
				t.Fatalf("ReadMessageRange() error = %v", err)
			}
			if len(msgs) != tt.wantCount {
				t.Fatalf("got %d messages, want %d", len(msgs), tt.wantCount)
			}
			if tt.wantCount > 0 && msgs[0].MID != tt.wantFirst {
				t.Errorf("first MID = %q, want %q", msgs[0].MID, tt.wantFirst)
			}
		})
	}
}

// A message directory missing its content files is counted (the mkdir is
// the commit point) but omitted from reads.
func TestReadMessageRangeSkipsIncomplete(t *testing.T) {
	s, gid := newGroupStore(t)
	if _, err := s.AppendMessage(gid, "10000", []byte("one")); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(s.Root(), "GROUPS", string(gid), "MSG", "0002"), 0o700); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AppendMessage(gid, "10000", []byte("three")); err != nil {
		t.Fatal(err)
	}

	count, err := s.MessageCount(gid)
	if err != nil || count != 3 {
		t.Fatalf("MessageCount() = %d, %v", count, err)
	}

	msgs, err := s.ReadMessageRange(gid, "0001")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].MID != "0001" || msgs[1].MID != "0003" {
		t.Errorf("MIDs = %q %q", msgs[0].MID, msgs[1].MID)
	}
}

// Message identifiers stay dense under concurrent posting.
func TestConcurrentAppendDensity(t *testing.T) {
	s, gid := newGroupStore(t)

	const posts = 30
	var wg sync.WaitGroup
	for i := 0; i < posts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.AppendMessage(gid, "10000", []byte("racing")); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	count, err := s.MessageCount(gid)
	if err != nil {
		t.Fatal(err)
	}
	if count != posts {
		t.Fatalf("MessageCount() = %d, want %d", count, posts)
	}
	for i := 1; i <= posts; i++ {
		dir := filepath.Join(s.Root(), "GROUPS", string(gid), "MSG", string(proto.FormatMID(i)))
		if !exists(filepath.Join(dir, "A U T H O R.txt")) || !exists(filepath.Join(dir, "T E X T.txt")) {
			t.Errorf("message %04d incomplete", i)
		}
	}
}
