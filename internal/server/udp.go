package server

import (
	"errors"
	"strconv"
	"strings"

	"github.com/infodancer/groupd/internal/proto"
	"github.com/infodancer/groupd/internal/store"
)

// handleDatagram decodes one UDP request and produces its reply, plus the
// command tag and reply status for logging and metrics. Malformed frames
// and unknown tags get the bare "ERR\n" reply. A recognized command also
// gets "ERR\n" when its field count is wrong, when a field fails
// validation without a dedicated status (E_USR, E_GRP, E_GNAME), or when
// a listing cannot be read; every other reply carries the paired answer
// tag.
func (s *Server) handleDatagram(data []byte) (reply []byte, cmd, status string) {
	tag, fields, err := proto.DecodeLine(data)
	if err != nil {
		return errLine(), "malformed", proto.StatusErr
	}

	switch tag {
	case proto.TagRegister:
		return s.register(fields)
	case proto.TagUnregister:
		return s.unregister(fields)
	case proto.TagLogin:
		return s.login(fields)
	case proto.TagLogout:
		return s.logout(fields)
	case proto.TagGroups:
		return s.listAll(fields)
	case proto.TagSubscribe:
		return s.subscribe(fields)
	case proto.TagUnsubscribe:
		return s.unsubscribe(fields)
	case proto.TagMyGroups:
		return s.myGroups(fields)
	default:
		return errLine(), tag, proto.StatusErr
	}
}

func errLine() []byte {
	return []byte(proto.StatusErr + "\n")
}

func statusLine(tag, status string) []byte {
	return proto.EncodeLine(tag, status)
}

// register handles REG UID pass → RRG {OK,DUP,NOK}.
func (s *Server) register(fields []string) ([]byte, string, string) {
	cmd := proto.TagRegister
	if len(fields) != 2 {
		return errLine(), cmd, proto.StatusErr
	}
	uid, err := proto.ParseUID(fields[0])
	if err != nil {
		return errLine(), cmd, proto.StatusErr
	}
	pass, err := proto.ParsePass(fields[1])
	if err != nil {
		return errLine(), cmd, proto.StatusErr
	}

	switch err := s.store.CreateUser(uid, pass); {
	case err == nil:
		return statusLine(proto.TagRegisterAns, proto.StatusOK), cmd, proto.StatusOK
	case errors.Is(err, store.ErrDuplicate):
		return statusLine(proto.TagRegisterAns, proto.StatusDUP), cmd, proto.StatusDUP
	default:
		s.logger.Error("register failed", "uid", string(uid), "error", err.Error())
		return statusLine(proto.TagRegisterAns, proto.StatusNOK), cmd, proto.StatusNOK
	}
}

// unregister handles UNR UID pass → RUN {OK,NOK}. Deletion cascades over
// the login marker and every subscription. A logged-in user may
// unregister; the refusal is a client-side rule.
func (s *Server) unregister(fields []string) ([]byte, string, string) {
	cmd := proto.TagUnregister
	uid, pass, ok := parseCredentials(fields)
	if !ok {
		return errLine(), cmd, proto.StatusErr
	}
	if err := s.store.CheckPassword(uid, pass); err != nil {
		return statusLine(proto.TagUnregisterAns, proto.StatusNOK), cmd, proto.StatusNOK
	}
	if err := s.store.DeleteUser(uid); err != nil {
		s.logger.Error("unregister failed", "uid", string(uid), "error", err.Error())
		return statusLine(proto.TagUnregisterAns, proto.StatusNOK), cmd, proto.StatusNOK
	}
	return statusLine(proto.TagUnregisterAns, proto.StatusOK), cmd, proto.StatusOK
}

// login handles LOG UID pass → RLO {OK,NOK}.
func (s *Server) login(fields []string) ([]byte, string, string) {
	cmd := proto.TagLogin
	uid, pass, ok := parseCredentials(fields)
	if !ok {
		return errLine(), cmd, proto.StatusErr
	}
	if err := s.store.CheckPassword(uid, pass); err != nil {
		return statusLine(proto.TagLoginAns, proto.StatusNOK), cmd, proto.StatusNOK
	}
	if err := s.store.SetLogin(uid); err != nil {
		s.logger.Error("login failed", "uid", string(uid), "error", err.Error())
		return statusLine(proto.TagLoginAns, proto.StatusNOK), cmd, proto.StatusNOK
	}
	return statusLine(proto.TagLoginAns, proto.StatusOK), cmd, proto.StatusOK
}

// logout handles OUT UID pass → ROU {OK,NOK}.
func (s *Server) logout(fields []string) ([]byte, string, string) {
	cmd := proto.TagLogout
	uid, pass, ok := parseCredentials(fields)
	if !ok {
		return errLine(), cmd, proto.StatusErr
	}
	if err := s.store.CheckPassword(uid, pass); err != nil {
		return statusLine(proto.TagLogoutAns, proto.StatusNOK), cmd, proto.StatusNOK
	}
	if err := s.store.ClearLogin(uid); err != nil {
		return statusLine(proto.TagLogoutAns, proto.StatusNOK), cmd, proto.StatusNOK
	}
	return statusLine(proto.TagLogoutAns, proto.StatusOK), cmd, proto.StatusOK
}

// listAll handles GLS → RGL N[ GID GName MID]*.
func (s *Server) listAll(fields []string) ([]byte, string, string) {
	cmd := proto.TagGroups
	if len(fields) != 0 {
		return errLine(), cmd, proto.StatusErr
	}
	groups, err := s.store.ListGroups("")
	if err != nil {
		s.logger.Error("listing groups failed", "error", err.Error())
		return errLine(), cmd, proto.StatusErr
	}
	return listingReply(proto.TagGroupsAns, groups), cmd, proto.StatusOK
}

// myGroups handles GLM UID → RGM N[ GID GName MID]*, restricted to the
// user's subscriptions. The user must exist and be logged in.
func (s *Server) myGroups(fields []string) ([]byte, string, string) {
	cmd := proto.TagMyGroups
	if len(fields) != 1 {
		return errLine(), cmd, proto.StatusErr
	}
	uid, err := proto.ParseUID(fields[0])
	if err != nil {
		return statusLine(proto.TagMyGroupsAns, proto.StatusEUsr), cmd, proto.StatusEUsr
	}
	if !s.store.UserExists(uid) || !s.store.UserLoggedIn(uid) {
		return statusLine(proto.TagMyGroupsAns, proto.StatusEUsr), cmd, proto.StatusEUsr
	}
	groups, err := s.store.ListGroups(uid)
	if err != nil {
		s.logger.Error("listing subscriptions failed", "uid", string(uid), "error", err.Error())
		return errLine(), cmd, proto.StatusErr
	}
	return listingReply(proto.TagMyGroupsAns, groups), cmd, proto.StatusOK
}

// subscribe handles GSR UID GID GName → RGS. GID 00 creates a new group
// and subscribes the creator; any other GID subscribes to an existing
// group, which requires the user to be logged in. Validators run in field
// order and the first failure picks the error status.
func (s *Server) subscribe(fields []string) ([]byte, string, string) {
	cmd := proto.TagSubscribe
	ans := proto.TagSubscribeAns
	if len(fields) != 3 {
		return errLine(), cmd, proto.StatusErr
	}
	uid, err := proto.ParseUID(fields[0])
	if err != nil || !s.store.UserExists(uid) {
		return statusLine(ans, proto.StatusEUsr), cmd, proto.StatusEUsr
	}
	gid, err := proto.ParseGIDSel(fields[1])
	if err != nil {
		return statusLine(ans, proto.StatusEGrp), cmd, proto.StatusEGrp
	}
	gname, err := proto.ParseGName(fields[2])
	if err != nil {
		return statusLine(ans, proto.StatusEGname), cmd, proto.StatusEGname
	}

	if gid == proto.CreateGID {
		newGID, err := s.store.CreateGroup(uid, gname)
		switch {
		case err == nil:
			reply := proto.EncodeLine(ans, proto.StatusNEW, string(newGID))
			return reply, cmd, proto.StatusNEW
		case errors.Is(err, store.ErrFull):
			return statusLine(ans, proto.StatusEFull), cmd, proto.StatusEFull
		default:
			s.logger.Error("group creation failed", "uid", string(uid), "error", err.Error())
			return statusLine(ans, proto.StatusNOK), cmd, proto.StatusNOK
		}
	}

	if !s.store.UserLoggedIn(uid) {
		return statusLine(ans, proto.StatusNOK), cmd, proto.StatusNOK
	}
	switch err := s.store.Subscribe(uid, gid, gname); {
	case err == nil:
		return statusLine(ans, proto.StatusOK), cmd, proto.StatusOK
	case errors.Is(err, store.ErrNotFound):
		return statusLine(ans, proto.StatusEGrp), cmd, proto.StatusEGrp
	case errors.Is(err, store.ErrNameMismatch):
		return statusLine(ans, proto.StatusEGname), cmd, proto.StatusEGname
	default:
		s.logger.Error("subscribe failed", "uid", string(uid), "gid", string(gid), "error", err.Error())
		return statusLine(ans, proto.StatusNOK), cmd, proto.StatusNOK
	}
}

// unsubscribe handles GUR UID GID → RGU. Removing a subscription that does
// not exist succeeds: the marker is gone either way.
func (s *Server) unsubscribe(fields []string) ([]byte, string, string) {
	cmd := proto.TagUnsubscribe
	ans := proto.TagUnsubscribeAns
	if len(fields) != 2 {
		return errLine(), cmd, proto.StatusErr
	}
	uid, err := proto.ParseUID(fields[0])
	if err != nil || !s.store.UserExists(uid) {
		return statusLine(ans, proto.StatusEUsr), cmd, proto.StatusEUsr
	}
	gid, err := proto.ParseGID(fields[1])
	if err != nil {
		return statusLine(ans, proto.StatusEGrp), cmd, proto.StatusEGrp
	}
	if !s.store.UserLoggedIn(uid) {
		return statusLine(ans, proto.StatusNOK), cmd, proto.StatusNOK
	}
	switch err := s.store.Unsubscribe(uid, gid); {
	case err == nil, errors.Is(err, store.ErrNotSubscribed):
		return statusLine(ans, proto.StatusOK), cmd, proto.StatusOK
	case errors.Is(err, store.ErrNotFound):
		return statusLine(ans, proto.StatusEGrp), cmd, proto.StatusEGrp
	default:
		s.logger.Error("unsubscribe failed", "uid", string(uid), "gid", string(gid), "error", err.Error())
		return statusLine(ans, proto.StatusNOK), cmd, proto.StatusNOK
	}
}

// parseCredentials validates the common "UID pass" field pair.
func parseCredentials(fields []string) (proto.UID, string, bool) {
	if len(fields) != 2 {
		return "", "", false
	}
	uid, err := proto.ParseUID(fields[0])
	if err != nil {
		return "", "", false
	}
	pass, err := proto.ParsePass(fields[1])
	if err != nil {
		return "", "", false
	}
	return uid, pass, true
}

// listingReply builds "TAG N[ GID GName MID]*\n".
func listingReply(tag string, groups []store.GroupInfo) []byte {
	var sb strings.Builder
	sb.WriteString(tag)
	sb.WriteByte(' ')
	sb.WriteString(strconv.Itoa(len(groups)))
	for _, g := range groups {
		sb.WriteByte(' ')
		sb.WriteString(string(g.GID))
		sb.WriteByte(' ')
		sb.WriteString(string(g.Name))
		sb.WriteByte(' ')
		sb.WriteString(string(g.Last))
	}
	sb.WriteByte('\n')
	return []byte(sb.String())
}
