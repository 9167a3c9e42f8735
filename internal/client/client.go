// Package client implements the user side of the DS wire protocol: one
// method per transaction. Datagram requests dial per call, apply a
// receive deadline, and retry; stream requests dial, write the request,
// and parse the reply progressively with the protocol field reader.
package client

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/infodancer/groupd/internal/config"
	"github.com/infodancer/groupd/internal/proto"
)

// maxReplyUDP bounds a datagram reply (a full 99-group listing fits).
const maxReplyUDP = 4096

// Client issues DS protocol transactions.
type Client struct {
	host        string
	port        string
	timeout     time.Duration
	retries     int
	downloadDir string
	logger      *slog.Logger
}

// New creates a Client from the user configuration.
func New(cfg config.UserConfig, logger *slog.Logger) *Client {
	return &Client{
		host:        cfg.Host,
		port:        cfg.Port,
		timeout:     cfg.ReceiveTimeout(),
		retries:     cfg.Retries,
		downloadDir: cfg.DownloadDir,
		logger:      logger,
	}
}

// Addr returns the server address the client talks to.
func (c *Client) Addr() string {
	host := c.host
	if host == "" {
		host = "localhost"
	}
	return net.JoinHostPort(host, c.port)
}

// requestUDP performs one datagram transaction. Each attempt gets a fresh
// socket and the configured receive deadline; after the configured number
// of attempts the request is reported failed.
func (c *Client) requestUDP(request []byte) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		reply, err := c.attemptUDP(request)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		c.logger.Debug("datagram attempt failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
	}
	return nil, fmt.Errorf("no reply after %d attempts: %w", c.retries, lastErr)
}

func (c *Client) attemptUDP(request []byte) ([]byte, error) {
	conn, err := net.Dial("udp", c.Addr())
	if err != nil {
		return nil, fmt.Errorf("dialing: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Write(request); err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	if err := conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, err
	}
	buf := make([]byte, maxReplyUDP)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("receiving reply: %w", err)
	}
	return buf[:n], nil
}

// statusRequest sends a line-framed request and returns the status field
// of a "ANS status\n" reply. A bare "ERR" reply is returned as the ERR
// status token.
func (c *Client) statusRequest(ansTag string, tag string, fields ...string) (string, error) {
	reply, err := c.requestUDP(proto.EncodeLine(tag, fields...))
	if err != nil {
		return "", err
	}
	gotTag, gotFields, err := proto.DecodeLine(reply)
	if err != nil {
		return "", fmt.Errorf("malformed reply: %w", err)
	}
	if gotTag == proto.StatusErr && len(gotFields) == 0 {
		return proto.StatusErr, nil
	}
	if gotTag != ansTag || len(gotFields) < 1 {
		return "", fmt.Errorf("unexpected reply %q", reply)
	}
	return gotFields[0], nil
}

// Register issues REG and returns the status token (OK, DUP, NOK, ERR).
func (c *Client) Register(uid, pass string) (string, error) {
	return c.statusRequest(proto.TagRegisterAns, proto.TagRegister, uid, pass)
}

// Unregister issues UNR and returns the status token.
func (c *Client) Unregister(uid, pass string) (string, error) {
	return c.statusRequest(proto.TagUnregisterAns, proto.TagUnregister, uid, pass)
}

// Login issues LOG and returns the status token.
func (c *Client) Login(uid, pass string) (string, error) {
	return c.statusRequest(proto.TagLoginAns, proto.TagLogin, uid, pass)
}

// Logout issues OUT and returns the status token.
func (c *Client) Logout(uid, pass string) (string, error) {
	return c.statusRequest(proto.TagLogoutAns, proto.TagLogout, uid, pass)
}

// Unsubscribe issues GUR and returns the status token.
func (c *Client) Unsubscribe(uid, gid string) (string, error) {
	return c.statusRequest(proto.TagUnsubscribeAns, proto.TagUnsubscribe, uid, gid)
}

// Subscribe issues GSR. On group creation the returned status is NEW and
// newGID carries the created identifier.
func (c *Client) Subscribe(uid, gid, gname string) (status, newGID string, err error) {
	reply, err := c.requestUDP(proto.EncodeLine(proto.TagSubscribe, uid, gid, gname))
	if err != nil {
		return "", "", err
	}
	tag, fields, err := proto.DecodeLine(reply)
	if err != nil {
		return "", "", fmt.Errorf("malformed reply: %w", err)
	}
	if tag == proto.StatusErr && len(fields) == 0 {
		return proto.StatusErr, "", nil
	}
	if tag != proto.TagSubscribeAns || len(fields) < 1 {
		return "", "", fmt.Errorf("unexpected reply %q", reply)
	}
	if fields[0] == proto.StatusNEW {
		if len(fields) != 2 {
			return "", "", fmt.Errorf("unexpected reply %q", reply)
		}
		return proto.StatusNEW, fields[1], nil
	}
	return fields[0], "", nil
}

// GroupRow is one entry of a groups listing.
type GroupRow struct {
	GID  string
	Name string
	Last string
}

// Groups issues GLS and returns all groups.
func (c *Client) Groups() ([]GroupRow, string, error) {
	return c.listing(proto.TagGroupsAns, proto.TagGroups)
}

// MyGroups issues GLM and returns the user's subscribed groups.
func (c *Client) MyGroups(uid string) ([]GroupRow, string, error) {
	return c.listing(proto.TagMyGroupsAns, proto.TagMyGroups, uid)
}

func (c *Client) listing(ansTag, tag string, fields ...string) ([]GroupRow, string, error) {
	reply, err := c.requestUDP(proto.EncodeLine(tag, fields...))
	if err != nil {
		return nil, "", err
	}
	gotTag, gotFields, err := proto.DecodeLine(reply)
	if err != nil {
		return nil, "", fmt.Errorf("malformed reply: %w", err)
	}
	if gotTag == proto.StatusErr && len(gotFields) == 0 {
		return nil, proto.StatusErr, nil
	}
	if gotTag != ansTag || len(gotFields) < 1 {
		return nil, "", fmt.Errorf("unexpected reply %q", reply)
	}
	n := 0
	if _, err := fmt.Sscanf(gotFields[0], "%d", &n); err != nil {
		// Status token instead of a count (E_USR and friends).
		return nil, gotFields[0], nil
	}
	if len(gotFields) != 1+3*n {
		return nil, "", fmt.Errorf("listing count %d does not match %d fields", n, len(gotFields)-1)
	}
	rows := make([]GroupRow, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, GroupRow{
			GID:  gotFields[1+3*i],
			Name: gotFields[2+3*i],
			Last: gotFields[3+3*i],
		})
	}
	return rows, proto.StatusOK, nil
}
