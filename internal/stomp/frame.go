// Package stomp implements STOMP 1.2 frames and a client that runs over any
// message transport, such as a WebSocket connection.
package stomp

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Command is a STOMP frame command.
type Command string

const (
	CommandConnect     Command = "CONNECT"
	CommandStomp       Command = "STOMP"
	CommandConnected   Command = "CONNECTED"
	CommandSend        Command = "SEND"
	CommandSubscribe   Command = "SUBSCRIBE"
	CommandUnsubscribe Command = "UNSUBSCRIBE"
	CommandAck         Command = "ACK"
	CommandNack        Command = "NACK"
	CommandBegin       Command = "BEGIN"
	CommandCommit      Command = "COMMIT"
	CommandAbort       Command = "ABORT"
	CommandDisconnect  Command = "DISCONNECT"
	CommandMessage     Command = "MESSAGE"
	CommandReceipt     Command = "RECEIPT"
	CommandError       Command = "ERROR"
)

// Header names used by the client.
const (
	HeaderAcceptVersion = "accept-version"
	HeaderHost          = "host"
	HeaderLogin         = "login"
	HeaderPasscode      = "passcode"
	HeaderVersion       = "version"
	HeaderSession       = "session"
	HeaderDestination   = "destination"
	HeaderID            = "id"
	HeaderAck           = "ack"
	HeaderReceipt       = "receipt"
	HeaderReceiptID     = "receipt-id"
	HeaderMessageID     = "message-id"
	HeaderSubscription  = "subscription"
	HeaderTransaction   = "transaction"
	HeaderContentLength = "content-length"
	HeaderContentType   = "content-type"
	HeaderMessage       = "message"
)

var requiredHeaders = map[Command][]string{
	CommandConnect:     {HeaderAcceptVersion, HeaderHost},
	CommandStomp:       {HeaderAcceptVersion, HeaderHost},
	CommandConnected:   {HeaderVersion},
	CommandSend:        {HeaderDestination},
	CommandSubscribe:   {HeaderDestination, HeaderID},
	CommandUnsubscribe: {HeaderID},
	CommandAck:         {HeaderID},
	CommandNack:        {HeaderID},
	CommandBegin:       {HeaderTransaction},
	CommandCommit:      {HeaderTransaction},
	CommandAbort:       {HeaderTransaction},
	CommandDisconnect:  nil,
	CommandMessage:     {HeaderDestination, HeaderMessageID, HeaderSubscription},
	CommandReceipt:     {HeaderReceiptID},
	CommandError:       nil,
}

var (
	ErrEmptyFrame            = errors.New("empty frame")
	ErrInvalidCommand        = errors.New("invalid command")
	ErrMissingEOL            = errors.New("missing end of line")
	ErrInvalidHeader         = errors.New("header line without ':'")
	ErrEmptyHeaderKey        = errors.New("empty header name")
	ErrInvalidEscape         = errors.New("invalid escape sequence in header")
	ErrMissingBlankLine      = errors.New("missing blank line after headers")
	ErrMissingNull           = errors.New("missing NUL octet after body")
	ErrInvalidContentLength  = errors.New("invalid content-length")
	ErrContentLengthMismatch = errors.New("body does not match content-length")
	ErrTrailingData          = errors.New("unexpected data after frame")
	ErrMissingRequiredHeader = errors.New("missing required header")
)

// Frame is one STOMP frame.
type Frame struct {
	Command Command
	Headers map[string]string
	Body    []byte
}

// NewFrame builds a frame from alternating header names and values.
func NewFrame(cmd Command, body []byte, kv ...string) *Frame {
	f := &Frame{Command: cmd, Headers: make(map[string]string, len(kv)/2), Body: body}
	for i := 0; i+1 < len(kv); i += 2 {
		f.Headers[kv[i]] = kv[i+1]
	}
	return f
}

// Header returns a header value, or "" when absent.
func (f *Frame) Header(key string) string {
	return f.Headers[key]
}

// Validate checks the headers required by the frame's command.
func (f *Frame) Validate() error {
	required, ok := requiredHeaders[f.Command]
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidCommand, f.Command)
	}
	for _, key := range required {
		if _, present := f.Headers[key]; !present {
			return fmt.Errorf("%w: %s frame needs %q", ErrMissingRequiredHeader, f.Command, key)
		}
	}
	return nil
}

// escapes reports whether header escaping applies to cmd. CONNECT and
// CONNECTED frames are exempt for backwards compatibility with STOMP 1.0.
func escapes(cmd Command) bool {
	return cmd != CommandConnect && cmd != CommandConnected
}

// Marshal encodes the frame. Headers are written in lexical order. A
// content-length header is added for non-empty bodies that lack one.
func (f *Frame) Marshal() ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(f.Headers)+1)
	for k := range f.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteString(string(f.Command))
	buf.WriteByte('\n')

	escape := escapes(f.Command)
	for _, k := range keys {
		v := f.Headers[k]
		if escape {
			k, v = escapeHeader(k), escapeHeader(v)
		} else if strings.ContainsAny(k+v, "\r\n") || strings.Contains(k, ":") {
			return nil, fmt.Errorf("%w: %q cannot be sent unescaped in %s", ErrInvalidHeader, k, f.Command)
		}
		buf.WriteString(k)
		buf.WriteByte(':')
		buf.WriteString(v)
		buf.WriteByte('\n')
	}
	if _, ok := f.Headers[HeaderContentLength]; !ok && len(f.Body) > 0 {
		buf.WriteString(HeaderContentLength + ":" + strconv.Itoa(len(f.Body)) + "\n")
	}

	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0)
	return buf.Bytes(), nil
}

func (f *Frame) String() string {
	return fmt.Sprintf("%s %v (%d bytes)", f.Command, f.Headers, len(f.Body))
}

var headerEscaper = strings.NewReplacer(`\`, `\\`, "\r", `\r`, "\n", `\n`, ":", `\c`)

func escapeHeader(s string) string {
	return headerEscaper.Replace(s)
}

func unescapeHeader(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		if i+1 == len(s) {
			return "", fmt.Errorf("%w: trailing backslash", ErrInvalidEscape)
		}
		i++
		switch s[i] {
		case '\\':
			b.WriteByte('\\')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 'c':
			b.WriteByte(':')
		default:
			return "", fmt.Errorf("%w: \\%c", ErrInvalidEscape, s[i])
		}
	}
	return b.String(), nil
}

// IsHeartbeat reports whether data holds only end-of-line octets.
func IsHeartbeat(data []byte) bool {
	return len(data) > 0 && len(bytes.Trim(data, "\r\n")) == 0
}

// ParseFrame decodes exactly one frame. Leading end-of-line octets are
// skipped, and only end-of-line octets may follow the terminating NUL.
// When a header repeats, the first occurrence wins.
func ParseFrame(data []byte) (*Frame, error) {
	rest := bytes.TrimLeft(data, "\r\n")
	if len(rest) == 0 {
		return nil, ErrEmptyFrame
	}

	line, rest, ok := cutLine(rest)
	if !ok {
		return nil, fmt.Errorf("%w: after command", ErrMissingEOL)
	}
	cmd := Command(line)
	if _, known := requiredHeaders[cmd]; !known {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCommand, line)
	}

	f := &Frame{Command: cmd, Headers: make(map[string]string)}
	escape := escapes(cmd)
	for {
		line, rest, ok = cutLine(rest)
		if !ok {
			return nil, ErrMissingBlankLine
		}
		if line == "" {
			break
		}

		key, value, found := strings.Cut(line, ":")
		if !found {
			return nil, fmt.Errorf("%w: %q", ErrInvalidHeader, line)
		}
		if escape {
			var err error
			if key, err = unescapeHeader(key); err != nil {
				return nil, err
			}
			if value, err = unescapeHeader(value); err != nil {
				return nil, err
			}
		}
		if key == "" {
			return nil, ErrEmptyHeaderKey
		}
		if _, seen := f.Headers[key]; !seen {
			f.Headers[key] = value
		}
	}

	var trailer []byte
	if cl, ok := f.Headers[HeaderContentLength]; ok {
		n, err := strconv.Atoi(strings.TrimSpace(cl))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidContentLength, cl)
		}
		if len(rest) < n {
			return nil, fmt.Errorf("%w: want %d octets, have %d", ErrContentLengthMismatch, n, len(rest))
		}
		if len(rest) == n {
			return nil, ErrMissingNull
		}
		if rest[n] != 0 {
			return nil, fmt.Errorf("%w: no NUL after %d octets", ErrContentLengthMismatch, n)
		}
		f.Body, trailer = rest[:n], rest[n+1:]
	} else {
		end := bytes.IndexByte(rest, 0)
		if end < 0 {
			return nil, ErrMissingNull
		}
		f.Body, trailer = rest[:end], rest[end+1:]
	}
	if len(bytes.Trim(trailer, "\r\n")) != 0 {
		return nil, ErrTrailingData
	}
	if len(f.Body) == 0 {
		f.Body = nil
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// cutLine splits off one line ending in LF or CRLF.
func cutLine(data []byte) (line string, rest []byte, ok bool) {
	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		return "", data, false
	}
	return string(bytes.TrimSuffix(data[:i], []byte("\r"))), data[i+1:], true
}
