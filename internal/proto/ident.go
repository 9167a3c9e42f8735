// Package proto implements the DS wire protocol: identifier validation,
// line framing for datagram requests, and the streaming field reader used
// by the TCP transactions. The grammar is context-sensitive (lengths
// precede payloads, and the separator after a message text decides whether
// an attachment follows), so handlers drive the reader field by field
// rather than tokenizing whole frames.
package proto

import (
	"fmt"
)

// Protocol field size limits.
const (
	UIDLen   = 5
	GIDLen   = 2
	MIDLen   = 4
	PassLen  = 8
	MaxGName = 24
	MaxFname = 24
	MaxTsize = 3
	MaxFsize = 10
	MaxText  = 240

	// MaxGroups is the highest assignable group identifier.
	MaxGroups = 99

	// MaxRequestUDP bounds a datagram request.
	MaxRequestUDP = 128

	// HeadLen is the fixed command head on TCP streams: three tag
	// characters plus the separator.
	HeadLen = 4
)

// Request tags.
const (
	TagRegister    = "REG"
	TagUnregister  = "UNR"
	TagLogin       = "LOG"
	TagLogout      = "OUT"
	TagGroups      = "GLS"
	TagSubscribe   = "GSR"
	TagUnsubscribe = "GUR"
	TagMyGroups    = "GLM"
	TagUlist       = "ULS"
	TagPost        = "PST"
	TagRetrieve    = "RTV"
)

// Answer tags, paired with the request tags above.
const (
	TagRegisterAns    = "RRG"
	TagUnregisterAns  = "RUN"
	TagLoginAns       = "RLO"
	TagLogoutAns      = "ROU"
	TagGroupsAns      = "RGL"
	TagSubscribeAns   = "RGS"
	TagUnsubscribeAns = "RGU"
	TagMyGroupsAns    = "RGM"
	TagUlistAns       = "RUL"
	TagPostAns        = "RPT"
	TagRetrieveAns    = "RRT"
)

// Status tokens.
const (
	StatusOK     = "OK"
	StatusNOK    = "NOK"
	StatusDUP    = "DUP"
	StatusNEW    = "NEW"
	StatusEOF    = "EOF"
	StatusErr    = "ERR"
	StatusEUsr   = "E_USR"
	StatusEGrp   = "E_GRP"
	StatusEGname = "E_GNAME"
	StatusEFull  = "E_FULL"
)

// UID is a user identifier: exactly five decimal digits.
type UID string

// GID is a group identifier: exactly two decimal digits in 01..99.
// "00" is the reserved create-group sentinel and never names a group.
type GID string

// GName is a group name: 1..24 characters from [A-Za-z0-9_-].
type GName string

// MID is a message identifier: exactly four decimal digits, assigned
// densely per group starting at 0001.
type MID string

// Fname is an attachment filename: a 1..20 character stem from
// [A-Za-z0-9_.-] plus a dot and a three-letter extension.
type Fname string

// ParseUID validates s as a UID.
func ParseUID(s string) (UID, error) {
	if len(s) != UIDLen || !allDigits(s) {
		return "", fmt.Errorf("invalid UID %q", s)
	}
	return UID(s), nil
}

// ParsePass validates s as a password: exactly eight alphanumerics.
func ParsePass(s string) (string, error) {
	if len(s) != PassLen || !allAlnum(s) {
		return "", fmt.Errorf("invalid password")
	}
	return s, nil
}

// ParseGID validates s as a stored-group GID (01..99).
func ParseGID(s string) (GID, error) {
	g, err := ParseGIDSel(s)
	if err != nil || g == CreateGID {
		return "", fmt.Errorf("invalid GID %q", s)
	}
	return g, nil
}

// CreateGID is the sentinel GID sent by a subscribe request asking the
// server to create a new group.
const CreateGID GID = "00"

// ParseGIDSel validates s as a GID selector: a stored GID or the
// create-group sentinel "00".
func ParseGIDSel(s string) (GID, error) {
	if len(s) != GIDLen || !allDigits(s) {
		return "", fmt.Errorf("invalid GID %q", s)
	}
	return GID(s), nil
}

// ParseGName validates s as a group name.
func ParseGName(s string) (GName, error) {
	if len(s) == 0 || len(s) > MaxGName {
		return "", fmt.Errorf("invalid group name %q", s)
	}
	for i := 0; i < len(s); i++ {
		if !isWordByte(s[i]) {
			return "", fmt.Errorf("invalid group name %q", s)
		}
	}
	return GName(s), nil
}

// ParseMID validates s as a message identifier.
func ParseMID(s string) (MID, error) {
	if len(s) != MIDLen || !allDigits(s) {
		return "", fmt.Errorf("invalid MID %q", s)
	}
	return MID(s), nil
}

// ParseFname validates s as an attachment filename.
func ParseFname(s string) (Fname, error) {
	// stem (1..20 of [A-Za-z0-9_.-]) '.' ext (exactly 3 letters)
	if len(s) < 5 || len(s) > MaxFname {
		return "", fmt.Errorf("invalid filename %q", s)
	}
	dot := len(s) - 4
	if s[dot] != '.' || dot > 20 {
		return "", fmt.Errorf("invalid filename %q", s)
	}
	for i := 0; i < dot; i++ {
		c := s[i]
		if !isWordByte(c) && c != '.' {
			return "", fmt.Errorf("invalid filename %q", s)
		}
	}
	for i := dot + 1; i < len(s); i++ {
		c := s[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			return "", fmt.Errorf("invalid filename %q", s)
		}
	}
	return Fname(s), nil
}

// ParseTsize validates s as a text length declaration and returns its value.
func ParseTsize(s string) (int, error) {
	n, err := parseSize(s, MaxTsize)
	if err != nil || n < 1 || n > MaxText {
		return 0, fmt.Errorf("invalid text size %q", s)
	}
	return n, nil
}

// ParseFsize validates s as an attachment length declaration and returns
// its value.
func ParseFsize(s string) (int64, error) {
	n, err := parseSize(s, MaxFsize)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid file size %q", s)
	}
	return int64(n), nil
}

// ValidText reports whether b is an acceptable message text.
func ValidText(b []byte) bool {
	return len(b) >= 1 && len(b) <= MaxText
}

// Num returns the numeric value of the GID.
func (g GID) Num() int { return digits2(string(g)) }

// Num returns the numeric value of the MID.
func (m MID) Num() int { return digits4(string(m)) }

// FormatGID renders n as a zero-padded GID. Panics if n is out of range;
// allocation keeps it in 1..99.
func FormatGID(n int) GID {
	if n < 1 || n > MaxGroups {
		panic(fmt.Sprintf("GID out of range: %d", n))
	}
	return GID(fmt.Sprintf("%02d", n))
}

// FormatMID renders n as a zero-padded MID. n=0 renders "0000", used by
// group listings for empty groups.
func FormatMID(n int) MID {
	if n < 0 || n > 9999 {
		panic(fmt.Sprintf("MID out of range: %d", n))
	}
	return MID(fmt.Sprintf("%04d", n))
}

func parseSize(s string, maxDigits int) (int, error) {
	if len(s) < 1 || len(s) > maxDigits || !allDigits(s) {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	n := 0
	for i := 0; i < len(s); i++ {
		n = n*10 + int(s[i]-'0')
	}
	return n, nil
}

func digits2(s string) int {
	if len(s) != 2 {
		return 0
	}
	return int(s[0]-'0')*10 + int(s[1]-'0')
}

func digits4(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		n = n*10 + int(s[i]-'0')
	}
	return n
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

func allAlnum(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return len(s) > 0
}

func isWordByte(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_' || c == '-'
}
