// Package repl implements the interactive user client: a line-oriented
// command interpreter over the wire client. Local state (the logged-in
// identity and the selected group) lives here; local argument and state
// errors are reported on stderr and never reach the wire.
package repl

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"

	"github.com/infodancer/groupd/internal/client"
	"github.com/infodancer/groupd/internal/proto"
)

// REPL drives one interactive session.
type REPL struct {
	client *client.Client

	// session state
	uid  string
	pass string
	gid  string
}

// New creates a REPL over the given client.
func New(c *client.Client) *REPL {
	return &REPL{client: c}
}

// Run reads and executes commands until exit or EOF.
func (r *REPL) Run() error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	for {
		input, err := line.Prompt("> ")
		if err == liner.ErrPromptAborted {
			continue
		}
		if err == io.EOF {
			fmt.Println()
			return nil
		}
		if err != nil {
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if r.dispatch(input) {
			return nil
		}
	}
}

// dispatch executes one command line and reports whether the session
// should end.
func (r *REPL) dispatch(input string) bool {
	cmd, rest, _ := strings.Cut(input, " ")
	args := strings.Fields(rest)

	switch cmd {
	case "exit":
		if r.uid != "" {
			fmt.Fprintln(os.Stderr, "still logged in; logout first.")
			return false
		}
		return true
	case "reg":
		r.register(args)
	case "unregister", "unr":
		r.unregister(args)
	case "login":
		r.login(args)
	case "logout":
		r.logout()
	case "showuid", "su":
		r.showUID()
	case "groups", "gl":
		r.groups()
	case "subscribe", "s":
		r.subscribe(args)
	case "unsubscribe", "u":
		r.unsubscribe(args)
	case "my_groups", "mgl":
		r.myGroups()
	case "select", "sag":
		r.selectGroup(args)
	case "showgid", "sg":
		r.showGID()
	case "ulist", "ul":
		r.ulist()
	case "post":
		r.post(rest)
	case "retrieve", "r":
		r.retrieve(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
	}
	return false
}

func (r *REPL) fail(err error) {
	fmt.Fprintf(os.Stderr, "communication with server failed: %v\n", err)
}

func credentials(args []string) (string, string, bool) {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: UID pass")
		return "", "", false
	}
	if _, err := proto.ParseUID(args[0]); err != nil {
		fmt.Fprintln(os.Stderr, "UID must be 5 digits.")
		return "", "", false
	}
	if _, err := proto.ParsePass(args[1]); err != nil {
		fmt.Fprintln(os.Stderr, "password must be 8 alphanumeric characters.")
		return "", "", false
	}
	return args[0], args[1], true
}

func (r *REPL) register(args []string) {
	uid, pass, ok := credentials(args)
	if !ok {
		return
	}
	status, err := r.client.Register(uid, pass)
	if err != nil {
		r.fail(err)
		return
	}
	switch status {
	case proto.StatusOK:
		fmt.Printf("registered user %s successfully.\n", uid)
	case proto.StatusDUP:
		fmt.Fprintf(os.Stderr, "user %s is already registered.\n", uid)
	default:
		fmt.Fprintln(os.Stderr, "registration failed.")
	}
}

func (r *REPL) unregister(args []string) {
	uid, pass, ok := credentials(args)
	if !ok {
		return
	}
	if r.uid == uid {
		fmt.Fprintln(os.Stderr, "cannot unregister while logged in; logout first.")
		return
	}
	status, err := r.client.Unregister(uid, pass)
	if err != nil {
		r.fail(err)
		return
	}
	if status == proto.StatusOK {
		fmt.Printf("unregistered user %s successfully.\n", uid)
	} else {
		fmt.Fprintln(os.Stderr, "unregistration failed.")
	}
}

func (r *REPL) login(args []string) {
	if r.uid != "" {
		fmt.Fprintf(os.Stderr, "already logged in as %s; logout first.\n", r.uid)
		return
	}
	uid, pass, ok := credentials(args)
	if !ok {
		return
	}
	status, err := r.client.Login(uid, pass)
	if err != nil {
		r.fail(err)
		return
	}
	if status == proto.StatusOK {
		r.uid, r.pass = uid, pass
		fmt.Printf("logged in as %s successfully.\n", uid)
	} else {
		fmt.Fprintln(os.Stderr, "login failed.")
	}
}

func (r *REPL) logout() {
	if !r.requireLogin("logout") {
		return
	}
	status, err := r.client.Logout(r.uid, r.pass)
	if err != nil {
		r.fail(err)
		return
	}
	if status == proto.StatusOK {
		fmt.Printf("logged out of %s successfully.\n", r.uid)
		r.uid, r.pass, r.gid = "", "", ""
	} else {
		fmt.Fprintln(os.Stderr, "logout failed.")
	}
}

func (r *REPL) showUID() {
	if !r.requireLogin("showuid") {
		return
	}
	fmt.Printf("logged in as %s.\n", r.uid)
}

func (r *REPL) groups() {
	rows, status, err := r.client.Groups()
	if err != nil {
		r.fail(err)
		return
	}
	if status != proto.StatusOK {
		fmt.Fprintln(os.Stderr, "listing groups failed.")
		return
	}
	printGroups(rows)
}

func (r *REPL) myGroups() {
	if !r.requireLogin("my_groups") {
		return
	}
	rows, status, err := r.client.MyGroups(r.uid)
	if err != nil {
		r.fail(err)
		return
	}
	if status != proto.StatusOK {
		fmt.Fprintln(os.Stderr, "listing subscribed groups failed.")
		return
	}
	printGroups(rows)
}

func printGroups(rows []client.GroupRow) {
	if len(rows) == 0 {
		fmt.Println("no groups.")
		return
	}
	for _, g := range rows {
		fmt.Printf("%s %s %s\n", g.GID, g.Name, g.Last)
	}
}

func (r *REPL) subscribe(args []string) {
	if !r.requireLogin("subscribe") {
		return
	}
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: subscribe GID GName (GID 0 creates a group)")
		return
	}
	gid := args[0]
	// The create shorthand "0" goes out as the 00 sentinel.
	if gid == "0" {
		gid = "00"
	}
	if _, err := proto.ParseGIDSel(gid); err != nil {
		fmt.Fprintln(os.Stderr, "GID must be 2 digits.")
		return
	}
	if _, err := proto.ParseGName(args[1]); err != nil {
		fmt.Fprintln(os.Stderr, "invalid group name.")
		return
	}
	status, newGID, err := r.client.Subscribe(r.uid, gid, args[1])
	if err != nil {
		r.fail(err)
		return
	}
	switch status {
	case proto.StatusOK:
		fmt.Printf("subscribed to group %s successfully.\n", gid)
	case proto.StatusNEW:
		fmt.Printf("created and subscribed to group %s (%s).\n", newGID, args[1])
	case proto.StatusEFull:
		fmt.Fprintln(os.Stderr, "no more groups can be created.")
	default:
		fmt.Fprintln(os.Stderr, "subscribe failed.")
	}
}

func (r *REPL) unsubscribe(args []string) {
	if !r.requireLogin("unsubscribe") {
		return
	}
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: unsubscribe GID")
		return
	}
	if _, err := proto.ParseGID(args[0]); err != nil {
		fmt.Fprintln(os.Stderr, "GID must be 2 digits.")
		return
	}
	status, err := r.client.Unsubscribe(r.uid, args[0])
	if err != nil {
		r.fail(err)
		return
	}
	if status == proto.StatusOK {
		fmt.Printf("unsubscribed from group %s successfully.\n", args[0])
		if r.gid == args[0] {
			r.gid = ""
		}
	} else {
		fmt.Fprintln(os.Stderr, "unsubscribe failed.")
	}
}

func (r *REPL) selectGroup(args []string) {
	if !r.requireLogin("select") {
		return
	}
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: select GID")
		return
	}
	if _, err := proto.ParseGID(args[0]); err != nil {
		fmt.Fprintln(os.Stderr, "GID must be 2 digits.")
		return
	}
	r.gid = args[0]
	fmt.Printf("selected group %s successfully.\n", r.gid)
}

func (r *REPL) showGID() {
	if !r.requireSelected("showgid") {
		return
	}
	fmt.Printf("selected group is %s.\n", r.gid)
}

func (r *REPL) ulist() {
	if !r.requireSelected("ulist") {
		return
	}
	status, name, uids, err := r.client.Ulist(r.gid)
	if err != nil {
		r.fail(err)
		return
	}
	if status != proto.StatusOK {
		fmt.Fprintln(os.Stderr, "listing subscribers failed.")
		return
	}
	fmt.Printf("subscribers of %s (%s):\n", r.gid, name)
	for _, uid := range uids {
		fmt.Println(uid)
	}
}

// post "text" [Fname]
func (r *REPL) post(rest string) {
	if !r.requireSelected("post") {
		return
	}
	text, fname, ok := parsePostArgs(rest)
	if !ok {
		return
	}
	status, err := r.client.Post(r.uid, r.gid, text, fname)
	if err != nil {
		r.fail(err)
		return
	}
	if _, err := proto.ParseMID(status); err == nil {
		fmt.Printf("posted message %s successfully.\n", status)
	} else {
		fmt.Fprintln(os.Stderr, "post failed.")
	}
}

func parsePostArgs(rest string) (text, fname string, ok bool) {
	rest = strings.TrimSpace(rest)
	if len(rest) < 2 || rest[0] != '"' {
		fmt.Fprintln(os.Stderr, `usage: post "text" [Fname]`)
		return "", "", false
	}
	end := strings.IndexByte(rest[1:], '"')
	if end < 0 {
		fmt.Fprintln(os.Stderr, `usage: post "text" [Fname]`)
		return "", "", false
	}
	text = rest[1 : 1+end]
	if !proto.ValidText([]byte(text)) {
		fmt.Fprintln(os.Stderr, "text must be 1 to 240 bytes.")
		return "", "", false
	}
	tail := strings.TrimSpace(rest[2+end:])
	if tail != "" {
		if _, err := proto.ParseFname(tail); err != nil {
			fmt.Fprintln(os.Stderr, "invalid attachment filename.")
			return "", "", false
		}
		fname = tail
	}
	return text, fname, true
}

func (r *REPL) retrieve(args []string) {
	if !r.requireSelected("retrieve") {
		return
	}
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: retrieve MID")
		return
	}
	mid := args[0]
	// Short MIDs are accepted and padded.
	if len(mid) < proto.MIDLen && mid != "" {
		mid = strings.Repeat("0", proto.MIDLen-len(mid)) + mid
	}
	if _, err := proto.ParseMID(mid); err != nil {
		fmt.Fprintln(os.Stderr, "MID must be up to 4 digits.")
		return
	}
	msgs, status, err := r.client.Retrieve(r.uid, r.gid, mid)
	if err != nil {
		r.fail(err)
		return
	}
	switch status {
	case proto.StatusEOF:
		fmt.Println("no messages to retrieve.")
	case proto.StatusOK:
		fmt.Printf("retrieved %d message(s):\n", len(msgs))
		for _, m := range msgs {
			fmt.Printf("%s %s: %q\n", m.MID, m.Author, m.Text)
			if m.Fname != "" {
				fmt.Printf("  saved %s (%d bytes) to %s\n", m.Fname, m.Fsize, m.SavedPath)
			}
		}
	default:
		fmt.Fprintln(os.Stderr, "retrieve failed.")
	}
}

func (r *REPL) requireLogin(cmd string) bool {
	if r.uid == "" {
		fmt.Fprintf(os.Stderr, "not logged in; cannot %s.\n", cmd)
		return false
	}
	return true
}

func (r *REPL) requireSelected(cmd string) bool {
	if !r.requireLogin(cmd) {
		return false
	}
	if r.gid == "" {
		fmt.Fprintf(os.Stderr, "no group selected to be able to %s.\n", cmd)
		return false
	}
	return true
}
