package realtime

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// STOMP 1.2 commands used by the chat broker.
const (
	CmdConnect     = "CONNECT"
	CmdConnected   = "CONNECTED"
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
	CmdSend        = "SEND"
	CmdMessage     = "MESSAGE"
	CmdError       = "ERROR"
	CmdReceipt     = "RECEIPT"
	CmdDisconnect  = "DISCONNECT"
)

// Standard header names.
const (
	HdrAcceptVersion = "accept-version"
	HdrHost          = "host"
	HdrDestination   = "destination"
	HdrID            = "id"
	HdrSubscription  = "subscription"
	HdrContentType   = "content-type"
	HdrContentLength = "content-length"
	HdrAuthorization = "Authorization"
)

// Frame is one STOMP frame.
type Frame struct {
	Command string
	Headers map[string]string
	Body    []byte
}

// NewFrame builds a frame with the given command and header pairs.
func NewFrame(command string, headers ...string) *Frame {
	f := &Frame{Command: command, Headers: make(map[string]string)}
	for i := 0; i+1 < len(headers); i += 2 {
		f.Headers[headers[i]] = headers[i+1]
	}
	return f
}

// Marshal serializes the frame: command line, headers, blank line, body,
// NUL terminator. Headers are written in sorted order so output is
// deterministic. A content-length header is added when a body is present.
func (f *Frame) Marshal() []byte {
	var buf bytes.Buffer
	buf.WriteString(f.Command)
	buf.WriteByte('\n')

	keys := make([]string, 0, len(f.Headers))
	for k := range f.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	escape := f.Command != CmdConnect && f.Command != CmdConnected
	for _, k := range keys {
		buf.WriteString(escapeHeader(k, escape))
		buf.WriteByte(':')
		buf.WriteString(escapeHeader(f.Headers[k], escape))
		buf.WriteByte('\n')
	}
	if len(f.Body) > 0 {
		if _, ok := f.Headers[HdrContentLength]; !ok {
			buf.WriteString(HdrContentLength)
			buf.WriteByte(':')
			buf.WriteString(strconv.Itoa(len(f.Body)))
			buf.WriteByte('\n')
		}
	}
	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0)
	return buf.Bytes()
}

// ParseFrame decodes a single frame from data. Heartbeat-only input
// (bare EOL) yields a nil frame and no error.
func ParseFrame(data []byte) (*Frame, error) {
	data = bytes.TrimLeft(data, "\r\n")
	if len(data) == 0 {
		return nil, nil
	}

	head, body, found := bytes.Cut(data, []byte("\n\n"))
	if crHead, crBody, crFound := bytes.Cut(data, []byte("\r\n\r\n")); crFound && (!found || len(crHead) < len(head)) {
		head, body, found = crHead, crBody, true
	}
	if !found {
		return nil, fmt.Errorf("realtime: malformed frame: missing header terminator")
	}

	lines := strings.Split(strings.ReplaceAll(string(head), "\r\n", "\n"), "\n")
	f := &Frame{
		Command: strings.TrimSuffix(lines[0], "\r"),
		Headers: make(map[string]string),
	}
	if f.Command == "" {
		return nil, fmt.Errorf("realtime: malformed frame: empty command")
	}

	escape := f.Command != CmdConnect && f.Command != CmdConnected
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("realtime: malformed header %q", line)
		}
		k = unescapeHeader(k, escape)
		// First occurrence wins, per the STOMP spec.
		if _, exists := f.Headers[k]; !exists {
			f.Headers[k] = unescapeHeader(v, escape)
		}
	}

	body = bytes.TrimSuffix(body, []byte{0})
	if n, err := strconv.Atoi(f.Headers[HdrContentLength]); err == nil && n >= 0 && n <= len(body) {
		body = body[:n]
	}
	if len(body) > 0 {
		f.Body = body
	}
	return f, nil
}

var (
	headerEscaper   = strings.NewReplacer(`\`, `\\`, "\r", `\r`, "\n", `\n`, ":", `\c`)
	headerUnescaper = strings.NewReplacer(`\r`, "\r", `\n`, "\n", `\c`, ":", `\\`, `\`)
)

func escapeHeader(s string, escape bool) string {
	if !escape {
		return s
	}
	return headerEscaper.Replace(s)
}

func unescapeHeader(s string, escape bool) string {
	if !escape {
		return s
	}
	return headerUnescaper.Replace(s)
}
