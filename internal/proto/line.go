package proto

import (
	"fmt"
	"strings"
)

// EncodeLine frames a request or reply as "TAG f1 f2 ... fk\n". Fields are
// joined by single spaces; the caller supplies already-validated values.
func EncodeLine(tag string, fields ...string) []byte {
	var sb strings.Builder
	sb.WriteString(tag)
	for _, f := range fields {
		sb.WriteByte(' ')
		sb.WriteString(f)
	}
	sb.WriteByte('\n')
	return []byte(sb.String())
}

// DecodeLine splits a line-framed message into its tag and fields. The
// framing is strict: fields are separated by exactly one space, the line
// ends with a single '\n', and no leading, trailing, or repeated spaces
// are tolerated.
func DecodeLine(data []byte) (string, []string, error) {
	n := len(data)
	if n == 0 || data[n-1] != '\n' {
		return "", nil, fmt.Errorf("unterminated line")
	}
	body := string(data[:n-1])
	if body == "" {
		return "", nil, fmt.Errorf("empty line")
	}
	if strings.ContainsRune(body, '\n') {
		return "", nil, fmt.Errorf("embedded newline")
	}
	parts := strings.Split(body, " ")
	for _, p := range parts {
		if p == "" {
			return "", nil, fmt.Errorf("malformed spacing")
		}
	}
	return parts[0], parts[1:], nil
}
