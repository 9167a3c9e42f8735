package server

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/infodancer/groupd/internal/store"
)

// transact drives one stream transaction over an in-memory pipe and
// returns everything the server wrote before closing.
func transact(t *testing.T, srv *Server, request []byte) []byte {
	t.Helper()
	serverEnd, clientEnd := net.Pipe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.handleConn(serverEnd)
	}()
	// Pipe writes are synchronous and a rejecting handler stops reading
	// early, so the request is fed from its own goroutine.
	go func() {
		_, _ = clientEnd.Write(request)
	}()

	reply, err := io.ReadAll(clientEnd)
	if err != nil {
		t.Fatalf("reading reply: %v", err)
	}
	clientEnd.Close()
	<-done
	return reply
}

// postingUser returns a server with user 10000 logged in and subscribed
// to group 01.
func postingUser(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	srv, st := newTestServer(t)
	if err := st.CreateUser("10000", "abcdefgh"); err != nil {
		t.Fatal(err)
	}
	if err := st.SetLogin("10000"); err != nil {
		t.Fatal(err)
	}
	if _, err := st.CreateGroup("10000", "demo"); err != nil {
		t.Fatal(err)
	}
	return srv, st
}

func TestUnknownStreamTag(t *testing.T) {
	srv, _ := newTestServer(t)
	if got := transact(t, srv, []byte("XYZ whatever\n")); string(got) != "ERR\n" {
		t.Errorf("reply = %q, want ERR", got)
	}
}

func TestUlist(t *testing.T) {
	srv, st := postingUser(t)
	if err := st.CreateUser("20000", "abcdefgh"); err != nil {
		t.Fatal(err)
	}
	if err := st.Subscribe("20000", "01", "demo"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		request string
		want    string
	}{
		{name: "ok", request: "ULS 01\n", want: "RUL OK demo 10000 20000\n"},
		{name: "unknown group", request: "ULS 55\n", want: "RUL NOK\n"},
		{name: "bad gid", request: "ULS 1x\n", want: "RUL NOK\n"},
		{name: "sentinel gid", request: "ULS 00\n", want: "RUL NOK\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := transact(t, srv, []byte(tt.request)); string(got) != tt.want {
				t.Errorf("reply = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPostTextOnly(t *testing.T) {
	srv, st := postingUser(t)

	got := transact(t, srv, []byte("PST 10000 01 5 hello\n"))
	if string(got) != "RPT 0001\n" {
		t.Fatalf("reply = %q", got)
	}

	msgs, err := st.ReadMessageRange("01", "0001")
	if err != nil || len(msgs) != 1 {
		t.Fatalf("stored messages: %v, %v", msgs, err)
	}
	if string(msgs[0].Text) != "hello" || msgs[0].Author != "10000" {
		t.Errorf("stored message = %+v", msgs[0])
	}
}

func TestPostTextWithSpaces(t *testing.T) {
	srv, st := postingUser(t)

	// The text is framed by its length, not by separators.
	got := transact(t, srv, []byte("PST 10000 01 11 hello there\n"))
	if string(got) != "RPT 0001\n" {
		t.Fatalf("reply = %q", got)
	}
	msgs, _ := st.ReadMessageRange("01", "0001")
	if len(msgs) != 1 || string(msgs[0].Text) != "hello there" {
		t.Errorf("stored text = %q", msgs[0].Text)
	}
}

func TestPostWithAttachment(t *testing.T) {
	srv, st := postingUser(t)

	body := bytes.Repeat([]byte{0x42, 0x00, 0x0a}, 33)
	request := append([]byte(fmt.Sprintf("PST 10000 01 2 hi a.txt %d ", len(body))), body...)
	request = append(request, '\n')

	got := transact(t, srv, request)
	if string(got) != "RPT 0001\n" {
		t.Fatalf("reply = %q", got)
	}

	msgs, err := st.ReadMessageRange("01", "0001")
	if err != nil || len(msgs) != 1 {
		t.Fatalf("stored messages: %v, %v", msgs, err)
	}
	m := msgs[0]
	if m.Fname != "a.txt" || m.Fsize != int64(len(body)) {
		t.Errorf("attachment meta = %q %d", m.Fname, m.Fsize)
	}
	stored, err := os.ReadFile(m.FilePath)
	if err != nil || !bytes.Equal(stored, body) {
		t.Error("attachment bytes corrupted")
	}
	fname, err := os.ReadFile(filepath.Join(st.Root(), "GROUPS", "01", "MSG", "0001", "F N A M E.txt"))
	if err != nil || string(fname) != "a.txt" {
		t.Errorf("filename record = %q, %v", fname, err)
	}
}

func TestPostRejections(t *testing.T) {
	srv, st := postingUser(t)
	if err := st.CreateUser("20000", "abcdefgh"); err != nil {
		t.Fatal(err)
	}
	if err := st.CreateUser("30000", "abcdefgh"); err != nil {
		t.Fatal(err)
	}
	if err := st.SetLogin("30000"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		request string
	}{
		{name: "bad uid", request: "PST 1x000 01 5 hello\n"},
		{name: "bad gid", request: "PST 10000 00 5 hello\n"},
		{name: "zero tsize", request: "PST 10000 01 0 \n"},
		{name: "unknown user", request: "PST 99999 01 5 hello\n"},
		{name: "not logged in", request: "PST 20000 01 5 hello\n"},
		{name: "not subscribed", request: "PST 30000 01 5 hello\n"},
		{name: "unknown group", request: "PST 10000 44 5 hello\n"},
		{name: "bad terminator", request: "PST 10000 01 5 helloX"},
		{name: "bad fname", request: "PST 10000 01 5 hello bad..name 3 xyz\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := transact(t, srv, []byte(tt.request)); string(got) != "RPT NOK\n" {
				t.Errorf("reply = %q, want RPT NOK", got)
			}
		})
	}

	// Nothing was committed along the way.
	count, err := st.MessageCount("01")
	if err != nil || count != 0 {
		t.Errorf("MessageCount() = %d, %v", count, err)
	}
}

// A peer that vanishes mid-attachment leaves no partial message behind.
func TestPostDisconnectRollsBack(t *testing.T) {
	srv, st := postingUser(t)

	serverEnd, clientEnd := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.handleConn(serverEnd)
	}()

	// Declare a 100-byte attachment but hang up after 10.
	if _, err := clientEnd.Write([]byte("PST 10000 01 2 hi a.txt 100 0123456789")); err != nil {
		t.Fatal(err)
	}
	clientEnd.Close()
	<-done

	count, err := st.MessageCount("01")
	if err != nil || count != 0 {
		t.Errorf("MessageCount() after disconnect = %d, %v", count, err)
	}
}

func TestRetrieve(t *testing.T) {
	srv, _ := postingUser(t)

	if got := transact(t, srv, []byte("RTV 10000 01 0001\n")); string(got) != "RRT EOF\n" {
		t.Fatalf("empty group reply = %q", got)
	}

	if string(transact(t, srv, []byte("PST 10000 01 5 hello\n"))) != "RPT 0001\n" {
		t.Fatal("post failed")
	}

	got := transact(t, srv, []byte("RTV 10000 01 0001\n"))
	if string(got) != "RRT OK 1 0001 10000 5 hello\n" {
		t.Errorf("reply = %q", got)
	}

	if got := transact(t, srv, []byte("RTV 10000 01 0002\n")); string(got) != "RRT EOF\n" {
		t.Errorf("past-end reply = %q", got)
	}

	if got := transact(t, srv, []byte("RTV 99999 01 0001\n")); string(got) != "RRT NOK\n" {
		t.Errorf("unknown user reply = %q", got)
	}
}

func TestRetrieveWithAttachment(t *testing.T) {
	srv, _ := postingUser(t)

	if string(transact(t, srv, []byte("PST 10000 01 5 hello\n"))) != "RPT 0001\n" {
		t.Fatal("post failed")
	}
	if string(transact(t, srv, []byte("PST 10000 01 2 hi a.txt 3 xyz\n"))) != "RPT 0002\n" {
		t.Fatal("post with attachment failed")
	}

	got := transact(t, srv, []byte("RTV 10000 01 0001\n"))
	want := "RRT OK 2 0001 10000 5 hello 0002 10000 2 hi / a.txt 3 xyz\n"
	if string(got) != want {
		t.Errorf("reply = %q, want %q", got, want)
	}
}

func TestRetrieveWindowCap(t *testing.T) {
	srv, st := postingUser(t)
	for i := 0; i < 25; i++ {
		if _, err := st.AppendMessage("01", "10000", []byte("x")); err != nil {
			t.Fatal(err)
		}
	}

	got := transact(t, srv, []byte("RTV 10000 01 0001\n"))
	var n int
	if _, err := fmt.Sscanf(string(got), "RRT OK %d", &n); err != nil {
		t.Fatalf("reply prefix = %q", got[:minInt(len(got), 16)])
	}
	if n != 20 {
		t.Errorf("window = %d, want 20", n)
	}

	got = transact(t, srv, []byte("RTV 10000 01 0021\n"))
	if _, err := fmt.Sscanf(string(got), "RRT OK %d", &n); err != nil || n != 5 {
		t.Errorf("tail window reply = %q", got)
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Binary attachment bytes survive the round trip unmodified, including
// newlines and separators.
func TestPostRetrieveFidelity(t *testing.T) {
	srv, _ := postingUser(t)

	body := []byte("line\nwith / tricky 123 \n bytes\x00\xff")
	request := append([]byte(fmt.Sprintf("PST 10000 01 7 payload b.bin %d ", len(body))), body...)
	request = append(request, '\n')
	if string(transact(t, srv, request)) != "RPT 0001\n" {
		t.Fatal("post failed")
	}

	got := transact(t, srv, []byte("RTV 10000 01 0001\n"))
	want := append([]byte(fmt.Sprintf("RRT OK 1 0001 10000 7 payload / b.bin %d ", len(body))), body...)
	want = append(want, '\n')
	if !bytes.Equal(got, want) {
		t.Errorf("reply = %q, want %q", got, want)
	}
}
