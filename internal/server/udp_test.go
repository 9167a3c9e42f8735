package server

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/infodancer/groupd/internal/config"
	"github.com/infodancer/groupd/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	cfg := config.Default()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	srv, err := New(Config{
		Cfg:    &cfg,
		Store:  st,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("creating server: %v", err)
	}
	return srv, st
}

func datagram(t *testing.T, srv *Server, request string) string {
	t.Helper()
	reply, _, _ := srv.handleDatagram([]byte(request))
	return string(reply)
}

// registered creates a user ready to issue requests.
func registered(t *testing.T, srv *Server, uid, pass string) {
	t.Helper()
	if got := datagram(t, srv, "REG "+uid+" "+pass+"\n"); got != "RRG OK\n" {
		t.Fatalf("REG = %q", got)
	}
}

func loggedIn(t *testing.T, srv *Server, uid, pass string) {
	t.Helper()
	registered(t, srv, uid, pass)
	if got := datagram(t, srv, "LOG "+uid+" "+pass+"\n"); got != "RLO OK\n" {
		t.Fatalf("LOG = %q", got)
	}
}

func TestRegister(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name    string
		request string
		want    string
	}{
		{name: "ok", request: "REG 10000 abcdefgh\n", want: "RRG OK\n"},
		{name: "duplicate", request: "REG 10000 abcdefgh\n", want: "RRG DUP\n"},
		{name: "short uid", request: "REG 1 abcdefgh\n", want: "ERR\n"},
		{name: "bad pass", request: "REG 20000 short\n", want: "ERR\n"},
		{name: "missing fields", request: "REG 20000\n", want: "ERR\n"},
		{name: "extra fields", request: "REG 20000 abcdefgh x\n", want: "ERR\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := datagram(t, srv, tt.request); got != tt.want {
				t.Errorf("reply = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoginLogout(t *testing.T) {
	srv, st := newTestServer(t)
	registered(t, srv, "10000", "abcdefgh")

	if got := datagram(t, srv, "LOG 10000 badpass00\n"); got != "ERR\n" {
		// 9 characters: fails the validator before any lookup
		t.Errorf("overlong password reply = %q", got)
	}
	if got := datagram(t, srv, "LOG 10000 badpass0\n"); got != "RLO NOK\n" {
		t.Errorf("wrong password reply = %q", got)
	}
	if got := datagram(t, srv, "LOG 99999 abcdefgh\n"); got != "RLO NOK\n" {
		t.Errorf("unknown user reply = %q", got)
	}

	if got := datagram(t, srv, "LOG 10000 abcdefgh\n"); got != "RLO OK\n" {
		t.Fatalf("login reply = %q", got)
	}
	if !st.UserLoggedIn("10000") {
		t.Error("login marker not set")
	}

	if got := datagram(t, srv, "OUT 10000 abcdefgh\n"); got != "ROU OK\n" {
		t.Errorf("logout reply = %q", got)
	}
	if st.UserLoggedIn("10000") {
		t.Error("login marker not cleared")
	}
	if got := datagram(t, srv, "OUT 10000 abcdefgh\n"); got != "ROU NOK\n" {
		t.Errorf("second logout reply = %q", got)
	}
}

func TestUnregister(t *testing.T) {
	srv, st := newTestServer(t)
	loggedIn(t, srv, "10000", "abcdefgh")
	if got := datagram(t, srv, "GSR 10000 00 demo\n"); got != "RGS NEW 01\n" {
		t.Fatalf("GSR = %q", got)
	}

	if got := datagram(t, srv, "UNR 10000 badpass0\n"); got != "RUN NOK\n" {
		t.Errorf("wrong password reply = %q", got)
	}
	if got := datagram(t, srv, "UNR 10000 abcdefgh\n"); got != "RUN OK\n" {
		t.Errorf("unregister reply = %q", got)
	}
	if st.UserExists("10000") {
		t.Error("user still present")
	}
	if st.IsSubscribed("10000", "01") {
		t.Error("subscription not cascaded")
	}

	// Deleting a deleted user fails: there is no user left to check.
	if got := datagram(t, srv, "UNR 10000 abcdefgh\n"); got != "RUN NOK\n" {
		t.Errorf("repeated unregister reply = %q", got)
	}
}

func TestGroupListing(t *testing.T) {
	srv, _ := newTestServer(t)

	if got := datagram(t, srv, "GLS\n"); got != "RGL 0\n" {
		t.Fatalf("empty listing = %q", got)
	}
	if got := datagram(t, srv, "GLS x\n"); got != "ERR\n" {
		t.Errorf("GLS with argument = %q", got)
	}

	loggedIn(t, srv, "10000", "abcdefgh")
	if got := datagram(t, srv, "GSR 10000 00 demo\n"); got != "RGS NEW 01\n" {
		t.Fatalf("GSR = %q", got)
	}
	if got := datagram(t, srv, "GLS\n"); got != "RGL 1 01 demo 0000\n" {
		t.Errorf("listing = %q", got)
	}
}

func TestSubscribe(t *testing.T) {
	srv, _ := newTestServer(t)
	loggedIn(t, srv, "10000", "abcdefgh")
	registered(t, srv, "20000", "abcdefgh")

	if got := datagram(t, srv, "GSR 10000 00 demo\n"); got != "RGS NEW 01\n" {
		t.Fatalf("create = %q", got)
	}

	tests := []struct {
		name    string
		request string
		want    string
	}{
		{name: "unknown user", request: "GSR 99999 01 demo\n", want: "RGS E_USR\n"},
		{name: "bad gid", request: "GSR 10000 1 demo\n", want: "RGS E_GRP\n"},
		{name: "bad gname", request: "GSR 10000 01 bad.name\n", want: "RGS E_GNAME\n"},
		{name: "not logged in", request: "GSR 20000 01 demo\n", want: "RGS NOK\n"},
		{name: "nonexistent group", request: "GSR 10000 55 demo\n", want: "RGS E_GRP\n"},
		{name: "name mismatch", request: "GSR 10000 01 other\n", want: "RGS E_GNAME\n"},
		{name: "ok", request: "GSR 10000 01 demo\n", want: "RGS OK\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := datagram(t, srv, tt.request); got != tt.want {
				t.Errorf("reply = %q, want %q", got, tt.want)
			}
		})
	}

	// A second create takes the next free identifier.
	if got := datagram(t, srv, "GSR 10000 00 another\n"); got != "RGS NEW 02\n" {
		t.Errorf("second create = %q", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	srv, st := newTestServer(t)
	loggedIn(t, srv, "10000", "abcdefgh")
	registered(t, srv, "20000", "abcdefgh")
	if got := datagram(t, srv, "GSR 10000 00 demo\n"); got != "RGS NEW 01\n" {
		t.Fatalf("GSR = %q", got)
	}

	tests := []struct {
		name    string
		request string
		want    string
	}{
		{name: "unknown user", request: "GUR 99999 01\n", want: "RGU E_USR\n"},
		{name: "bad gid", request: "GUR 10000 1\n", want: "RGU E_GRP\n"},
		{name: "unknown group", request: "GUR 10000 55\n", want: "RGU E_GRP\n"},
		{name: "not logged in", request: "GUR 20000 01\n", want: "RGU NOK\n"},
		{name: "ok", request: "GUR 10000 01\n", want: "RGU OK\n"},
		{name: "idempotent", request: "GUR 10000 01\n", want: "RGU OK\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := datagram(t, srv, tt.request); got != tt.want {
				t.Errorf("reply = %q, want %q", got, tt.want)
			}
		})
	}

	if st.IsSubscribed("10000", "01") {
		t.Error("subscription marker still present")
	}
}

func TestMyGroups(t *testing.T) {
	srv, _ := newTestServer(t)
	loggedIn(t, srv, "10000", "abcdefgh")
	loggedIn(t, srv, "20000", "abcdefgh")

	if got := datagram(t, srv, "GSR 10000 00 mine\n"); got != "RGS NEW 01\n" {
		t.Fatal(got)
	}
	if got := datagram(t, srv, "GSR 20000 00 theirs\n"); got != "RGS NEW 02\n" {
		t.Fatal(got)
	}

	if got := datagram(t, srv, "GLM 10000\n"); got != "RGM 1 01 mine 0000\n" {
		t.Errorf("GLM = %q", got)
	}
	if got := datagram(t, srv, "GLM 99999\n"); got != "RGM E_USR\n" {
		t.Errorf("unknown user GLM = %q", got)
	}
	if got := datagram(t, srv, "OUT 20000 abcdefgh\n"); got != "ROU OK\n" {
		t.Fatal(got)
	}
	if got := datagram(t, srv, "GLM 20000\n"); got != "RGM E_USR\n" {
		t.Errorf("logged-out GLM = %q", got)
	}
}

func TestUnknownAndMalformed(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name    string
		request string
	}{
		{name: "unknown tag", request: "XYZ 10000\n"},
		{name: "unterminated", request: "GLS"},
		{name: "empty", request: ""},
		{name: "double space", request: "REG 10000  abcdefgh\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := datagram(t, srv, tt.request); got != "ERR\n" {
				t.Errorf("reply = %q, want ERR", got)
			}
		})
	}
}

// Every reply is a single line: tag or ERR first, newline last, no
// doubled or trailing spaces.
func TestReplyFraming(t *testing.T) {
	srv, _ := newTestServer(t)
	loggedIn(t, srv, "10000", "abcdefgh")

	requests := []string{
		"REG 10000 abcdefgh\n",
		"GLS\n",
		"GSR 10000 00 demo\n",
		"GLS\n",
		"GLM 10000\n",
		"GUR 10000 01\n",
		"OUT 10000 abcdefgh\n",
		"bogus\n",
	}
	for _, req := range requests {
		reply := datagram(t, srv, req)
		if !strings.HasSuffix(reply, "\n") {
			t.Errorf("reply %q lacks newline", reply)
		}
		body := strings.TrimSuffix(reply, "\n")
		if strings.Contains(body, "  ") || strings.HasSuffix(body, " ") || strings.HasPrefix(body, " ") {
			t.Errorf("reply %q has bad spacing", reply)
		}
	}
}
