package client

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"

	"github.com/infodancer/groupd/internal/proto"
)

func (c *Client) dialTCP() (net.Conn, error) {
	conn, err := net.Dial("tcp", c.Addr())
	if err != nil {
		return nil, fmt.Errorf("dialing: %w", err)
	}
	return conn, nil
}

// Ulist issues ULS and returns the group name and its subscribers.
func (c *Client) Ulist(gid string) (status, name string, uids []string, err error) {
	conn, err := c.dialTCP()
	if err != nil {
		return "", "", nil, err
	}
	defer conn.Close()

	if _, err := conn.Write(proto.EncodeLine(proto.TagUlist, gid)); err != nil {
		return "", "", nil, fmt.Errorf("sending request: %w", err)
	}

	fr := proto.NewFieldReader(conn)
	tag, sep, err := fr.ReadWord(proto.HeadLen - 1)
	if err != nil {
		return "", "", nil, fmt.Errorf("reading reply: %w", err)
	}
	if tag == proto.StatusErr && sep == proto.SepNewline {
		return proto.StatusErr, "", nil, nil
	}
	if tag != proto.TagUlistAns || sep != proto.SepSpace {
		return "", "", nil, fmt.Errorf("unexpected reply tag %q", tag)
	}
	st, sep, err := fr.ReadWord(len(proto.StatusNOK))
	if err != nil {
		return "", "", nil, fmt.Errorf("reading status: %w", err)
	}
	if st != proto.StatusOK {
		return st, "", nil, nil
	}
	if sep != proto.SepSpace {
		return "", "", nil, fmt.Errorf("missing group name in reply")
	}
	name, sep, err = fr.ReadWord(proto.MaxGName)
	if err != nil {
		return "", "", nil, fmt.Errorf("reading group name: %w", err)
	}
	for sep == proto.SepSpace {
		var uid string
		uid, sep, err = fr.ReadWord(proto.UIDLen)
		if err != nil {
			return "", "", nil, fmt.Errorf("reading subscriber: %w", err)
		}
		uids = append(uids, uid)
	}
	return proto.StatusOK, name, uids, nil
}

// Post issues PST with text and an optional attachment read from
// filePath. Returns the assigned MID as the status on success.
func (c *Client) Post(uid, gid, text, filePath string) (string, error) {
	conn, err := c.dialTCP()
	if err != nil {
		return "", err
	}
	defer conn.Close()

	w := bufio.NewWriter(conn)
	if _, err := fmt.Fprintf(w, "%s %s %s %d %s", proto.TagPost, uid, gid, len(text), text); err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}

	if filePath != "" {
		f, err := os.Open(filePath)
		if err != nil {
			return "", fmt.Errorf("opening attachment: %w", err)
		}
		defer f.Close()
		fi, err := f.Stat()
		if err != nil {
			return "", fmt.Errorf("sizing attachment: %w", err)
		}
		if _, err := fmt.Fprintf(w, " %s %d ", filepath.Base(filePath), fi.Size()); err != nil {
			return "", fmt.Errorf("sending attachment header: %w", err)
		}
		if _, err := io.Copy(w, f); err != nil {
			return "", fmt.Errorf("sending attachment: %w", err)
		}
	}
	if err := w.WriteByte('\n'); err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}

	fr := proto.NewFieldReader(conn)
	tag, sep, err := fr.ReadWord(proto.HeadLen - 1)
	if err != nil {
		return "", fmt.Errorf("reading reply: %w", err)
	}
	if tag == proto.StatusErr && sep == proto.SepNewline {
		return proto.StatusErr, nil
	}
	if tag != proto.TagPostAns || sep != proto.SepSpace {
		return "", fmt.Errorf("unexpected reply tag %q", tag)
	}
	st, sep, err := fr.ReadWord(proto.MIDLen)
	if err != nil || sep != proto.SepNewline {
		return "", fmt.Errorf("malformed post reply")
	}
	return st, nil
}

// RetrievedMessage is one message of a retrieve reply. SavedPath names the
// file an attachment body was written to.
type RetrievedMessage struct {
	MID       string
	Author    string
	Text      string
	Fname     string
	Fsize     int64
	SavedPath string
}

// Retrieve issues RTV and parses up to 20 messages. Attachment bodies are
// streamed into the client's download directory as they arrive.
func (c *Client) Retrieve(uid, gid, mid string) ([]RetrievedMessage, string, error) {
	conn, err := c.dialTCP()
	if err != nil {
		return nil, "", err
	}
	defer conn.Close()

	if _, err := conn.Write(proto.EncodeLine(proto.TagRetrieve, uid, gid, mid)); err != nil {
		return nil, "", fmt.Errorf("sending request: %w", err)
	}

	fr := proto.NewFieldReader(conn)
	tag, sep, err := fr.ReadWord(proto.HeadLen - 1)
	if err != nil {
		return nil, "", fmt.Errorf("reading reply: %w", err)
	}
	if tag == proto.StatusErr && sep == proto.SepNewline {
		return nil, proto.StatusErr, nil
	}
	if tag != proto.TagRetrieveAns || sep != proto.SepSpace {
		return nil, "", fmt.Errorf("unexpected reply tag %q", tag)
	}
	st, sep, err := fr.ReadWord(len(proto.StatusEOF))
	if err != nil {
		return nil, "", fmt.Errorf("reading status: %w", err)
	}
	if st != proto.StatusOK {
		return nil, st, nil
	}
	if sep != proto.SepSpace {
		return nil, "", fmt.Errorf("missing message count")
	}
	word, sep, err := fr.ReadWord(2)
	if err != nil || sep != proto.SepSpace {
		return nil, "", fmt.Errorf("malformed message count")
	}
	n := 0
	if _, err := fmt.Sscanf(word, "%d", &n); err != nil || n < 1 || n > 20 {
		return nil, "", fmt.Errorf("bad message count %q", word)
	}

	msgs := make([]RetrievedMessage, 0, n)
	// A word can be consumed while probing for an attachment marker; it
	// then belongs to the next message.
	pending := ""
	for i := 0; i < n; i++ {
		var m RetrievedMessage
		if pending != "" {
			m.MID, pending = pending, ""
		} else {
			m.MID, sep, err = fr.ReadWord(proto.MIDLen)
			if err != nil || sep != proto.SepSpace {
				return msgs, "", fmt.Errorf("truncated reply: %w", err)
			}
		}
		m.Author, sep, err = fr.ReadWord(proto.UIDLen)
		if err != nil || sep != proto.SepSpace {
			return msgs, "", fmt.Errorf("truncated reply: %w", err)
		}
		word, sep, err = fr.ReadWord(proto.MaxTsize)
		if err != nil || sep != proto.SepSpace {
			return msgs, "", fmt.Errorf("truncated reply: %w", err)
		}
		tsize, err := proto.ParseTsize(word)
		if err != nil {
			return msgs, "", err
		}
		text, err := fr.ReadFixed(tsize)
		if err != nil {
			return msgs, "", fmt.Errorf("truncated reply: %w", err)
		}
		m.Text = string(text)

		b, err := fr.ReadByte()
		if err != nil {
			return msgs, "", fmt.Errorf("truncated reply: %w", err)
		}
		if b == proto.SepNewline {
			msgs = append(msgs, m)
			break
		}

		word, sep, err = fr.ReadWord(proto.MIDLen + 1)
		if err != nil {
			return msgs, "", fmt.Errorf("truncated reply: %w", err)
		}
		if word != "/" {
			// Next message's MID, already consumed.
			pending = word
			msgs = append(msgs, m)
			continue
		}

		if err := c.readAttachment(fr, &m); err != nil {
			return msgs, "", err
		}
		msgs = append(msgs, m)

		b, err = fr.ReadByte()
		if err != nil {
			return msgs, "", fmt.Errorf("truncated reply: %w", err)
		}
		if b == proto.SepNewline {
			break
		}
	}
	return msgs, proto.StatusOK, nil
}

// readAttachment parses " Fname Fsize data" into a file under the
// download directory.
func (c *Client) readAttachment(fr *proto.FieldReader, m *RetrievedMessage) error {
	word, sep, err := fr.ReadWord(proto.MaxFname)
	if err != nil || sep != proto.SepSpace {
		return fmt.Errorf("truncated attachment header: %w", err)
	}
	fname, err := proto.ParseFname(word)
	if err != nil {
		return err
	}
	word, sep, err = fr.ReadWord(proto.MaxFsize)
	if err != nil || sep != proto.SepSpace {
		return fmt.Errorf("truncated attachment header: %w", err)
	}
	fsize, err := proto.ParseFsize(word)
	if err != nil {
		return err
	}

	path := filepath.Join(c.downloadDir, string(fname))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := fr.ReadBytes(fsize, f); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("receiving attachment: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	m.Fname = string(fname)
	m.Fsize = fsize
	m.SavedPath = path
	return nil
}
