package server

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"

	"github.com/infodancer/groupd/internal/proto"
	"github.com/infodancer/groupd/internal/store"
)

// handleConn runs one stream transaction: read the fixed 4-byte command
// head, hand the rest of the stream to the matching handler, flush the
// reply, close. Any I/O error aborts the worker; a partially stored post
// is rolled back before exit.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	s.collector.ConnectionOpened()
	defer s.collector.ConnectionClosed()

	fr := proto.NewFieldReader(conn)
	w := bufio.NewWriter(conn)

	head, err := fr.ReadFixed(proto.HeadLen)
	if err != nil {
		return
	}
	tag := string(head[:3])
	if head[3] != proto.SepSpace {
		tag = string(head)
	}

	var status string
	switch tag {
	case proto.TagUlist:
		status, err = s.ulist(fr, w)
	case proto.TagPost:
		status, err = s.post(fr, w)
	case proto.TagRetrieve:
		status, err = s.retrieve(fr, w)
	default:
		_, _ = w.Write(errLine())
		_ = w.Flush()
		s.collector.CommandProcessed(tag, proto.StatusErr)
		s.logRequest("tcp", conn.RemoteAddr().String(), tag, proto.StatusErr)
		return
	}
	if err != nil {
		// Truncated transaction: the peer sees the closed connection.
		s.logger.Debug("stream transaction aborted",
			slog.String("command", tag),
			slog.String("addr", conn.RemoteAddr().String()),
			slog.String("error", err.Error()))
		return
	}
	if err := w.Flush(); err != nil {
		return
	}
	s.collector.CommandProcessed(tag, status)
	s.logRequest("tcp", conn.RemoteAddr().String(), tag, status)
}

// nok writes "TAG NOK\n" and reports the status.
func nok(w *bufio.Writer, tag string) (string, error) {
	_, err := w.Write(statusLine(tag, proto.StatusNOK))
	return proto.StatusNOK, err
}

// ulist answers ULS GID with RUL OK GName[ UID]* or RUL NOK.
func (s *Server) ulist(fr *proto.FieldReader, w *bufio.Writer) (string, error) {
	word, sep, err := fr.ReadWord(proto.GIDLen)
	if err != nil || sep != proto.SepNewline {
		return nok(w, proto.TagUlistAns)
	}
	gid, err := proto.ParseGID(word)
	if err != nil || !s.store.GroupExists(gid) {
		return nok(w, proto.TagUlistAns)
	}

	name, err := s.store.GroupName(gid)
	if err != nil {
		return nok(w, proto.TagUlistAns)
	}
	uids, err := s.store.Subscribers(gid)
	if err != nil {
		return nok(w, proto.TagUlistAns)
	}

	if _, err := fmt.Fprintf(w, "%s %s %s", proto.TagUlistAns, proto.StatusOK, name); err != nil {
		return "", err
	}
	for _, uid := range uids {
		if _, err := fmt.Fprintf(w, " %s", uid); err != nil {
			return "", err
		}
	}
	if err := w.WriteByte('\n'); err != nil {
		return "", err
	}
	return proto.StatusOK, nil
}

// post answers PST UID GID Tsize text[ Fname Fsize data] with the new MID
// or RPT NOK. The text is read by its declared length; the byte after it
// decides whether an attachment follows. The attachment body streams from
// the socket straight into the message directory, and the partial message
// is removed on any failure past allocation.
func (s *Server) post(fr *proto.FieldReader, w *bufio.Writer) (string, error) {
	ans := proto.TagPostAns

	word, sep, err := fr.ReadWord(proto.UIDLen)
	if err != nil || sep != proto.SepSpace {
		return nok(w, ans)
	}
	uid, err := proto.ParseUID(word)
	if err != nil {
		return nok(w, ans)
	}

	word, sep, err = fr.ReadWord(proto.GIDLen)
	if err != nil || sep != proto.SepSpace {
		return nok(w, ans)
	}
	gid, err := proto.ParseGID(word)
	if err != nil {
		return nok(w, ans)
	}

	word, sep, err = fr.ReadWord(proto.MaxTsize)
	if err != nil || sep != proto.SepSpace {
		return nok(w, ans)
	}
	tsize, err := proto.ParseTsize(word)
	if err != nil {
		return nok(w, ans)
	}

	text, err := fr.ReadFixed(tsize)
	if err != nil {
		return "", err
	}
	sep, err = fr.ReadByte()
	if err != nil {
		return "", err
	}
	if sep != proto.SepSpace && sep != proto.SepNewline {
		return nok(w, ans)
	}

	if !s.store.UserExists(uid) || !s.store.UserLoggedIn(uid) {
		return nok(w, ans)
	}
	if !s.store.GroupExists(gid) || !s.store.IsSubscribed(uid, gid) {
		return nok(w, ans)
	}

	if sep == proto.SepNewline {
		mid, err := s.store.AppendMessage(gid, uid, text)
		if err != nil {
			return nok(w, ans)
		}
		s.collector.MessagePosted(int64(tsize))
		_, err = w.Write(statusLine(ans, string(mid)))
		return string(mid), err
	}

	// Attachment branch: Fname Fsize data '\n'
	word, sep, err = fr.ReadWord(proto.MaxFname)
	if err != nil || sep != proto.SepSpace {
		return nok(w, ans)
	}
	fname, err := proto.ParseFname(word)
	if err != nil {
		return nok(w, ans)
	}
	word, sep, err = fr.ReadWord(proto.MaxFsize)
	if err != nil || sep != proto.SepSpace {
		return nok(w, ans)
	}
	fsize, err := proto.ParseFsize(word)
	if err != nil {
		return nok(w, ans)
	}

	pending, err := s.store.BeginMessage(gid, uid, text)
	if err != nil {
		return nok(w, ans)
	}
	defer pending.Abort()

	file, err := pending.CreateAttachment(fname)
	if err != nil {
		return nok(w, ans)
	}
	if err := fr.ReadBytes(fsize, file); err != nil {
		file.Close()
		return "", err
	}
	if err := file.Close(); err != nil {
		return nok(w, ans)
	}
	if sep, err = fr.ReadByte(); err != nil {
		return "", err
	} else if sep != proto.SepNewline {
		return nok(w, ans)
	}

	mid, err := pending.Commit()
	if err != nil {
		return nok(w, ans)
	}
	s.collector.MessagePosted(int64(tsize) + fsize)
	_, err = w.Write(statusLine(ans, string(mid)))
	return string(mid), err
}

// retrieve answers RTV UID GID MID with up to 20 messages from MID on, or
// RRT EOF when the window is empty. Attachment bodies are streamed from
// disk; a read failure after the reply prefix has gone out closes the
// connection and the client sees a truncated reply.
func (s *Server) retrieve(fr *proto.FieldReader, w *bufio.Writer) (string, error) {
	ans := proto.TagRetrieveAns

	word, sep, err := fr.ReadWord(proto.UIDLen)
	if err != nil || sep != proto.SepSpace {
		return nok(w, ans)
	}
	uid, err := proto.ParseUID(word)
	if err != nil {
		return nok(w, ans)
	}

	word, sep, err = fr.ReadWord(proto.GIDLen)
	if err != nil || sep != proto.SepSpace {
		return nok(w, ans)
	}
	gid, err := proto.ParseGID(word)
	if err != nil {
		return nok(w, ans)
	}

	word, sep, err = fr.ReadWord(proto.MIDLen)
	if err != nil || sep != proto.SepNewline {
		return nok(w, ans)
	}
	mid, err := proto.ParseMID(word)
	if err != nil || mid.Num() == 0 {
		return nok(w, ans)
	}

	if !s.store.UserExists(uid) || !s.store.UserLoggedIn(uid) {
		return nok(w, ans)
	}
	if !s.store.GroupExists(gid) || !s.store.IsSubscribed(uid, gid) {
		return nok(w, ans)
	}

	msgs, err := s.store.ReadMessageRange(gid, mid)
	if err != nil {
		return nok(w, ans)
	}
	if len(msgs) == 0 {
		_, err := w.Write(statusLine(ans, proto.StatusEOF))
		return proto.StatusEOF, err
	}

	if _, err := fmt.Fprintf(w, "%s %s %d", ans, proto.StatusOK, len(msgs)); err != nil {
		return "", err
	}
	for i := range msgs {
		if err := writeMessage(w, &msgs[i]); err != nil {
			return "", err
		}
	}
	if err := w.WriteByte('\n'); err != nil {
		return "", err
	}
	s.collector.MessagesRetrieved(len(msgs))
	return proto.StatusOK, nil
}

// writeMessage emits " MID UID Tsize text" plus " / Fname Fsize data" when
// the message carries an attachment.
func writeMessage(w *bufio.Writer, m *store.Message) error {
	if _, err := fmt.Fprintf(w, " %s %s %d %s", m.MID, m.Author, len(m.Text), m.Text); err != nil {
		return err
	}
	if !m.HasAttachment() {
		return nil
	}
	if _, err := fmt.Fprintf(w, " / %s %d ", m.Fname, m.Fsize); err != nil {
		return err
	}
	f, err := os.Open(m.FilePath)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return err
	}
	return nil
}
