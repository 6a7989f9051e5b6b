package stomp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrame(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		command Command
		headers map[string]string
		body    string
	}{
		{
			name:    "connected",
			raw:     "CONNECTED\nversion:1.2\nsession:abc\n\n\x00",
			command: CommandConnected,
			headers: map[string]string{"version": "1.2", "session": "abc"},
		},
		{
			name:    "message with body",
			raw:     "MESSAGE\ndestination:/passengers\nmessage-id:1\nsubscription:s\n\n{\"a\":1}\x00",
			command: CommandMessage,
			headers: map[string]string{"destination": "/passengers", "message-id": "1", "subscription": "s"},
			body:    `{"a":1}`,
		},
		{
			name:    "crlf line endings and trailing eols",
			raw:     "RECEIPT\r\nreceipt-id:77\r\n\r\n\x00\r\n\n",
			command: CommandReceipt,
			headers: map[string]string{"receipt-id": "77"},
		},
		{
			name:    "leading heartbeat",
			raw:     "\n\nRECEIPT\nreceipt-id:1\n\n\x00",
			command: CommandReceipt,
			headers: map[string]string{"receipt-id": "1"},
		},
		{
			name:    "repeated header keeps first",
			raw:     "SEND\ndestination:/a\ndestination:/b\n\n\x00",
			command: CommandSend,
			headers: map[string]string{"destination": "/a"},
		},
		{
			name:    "escaped header",
			raw:     "SEND\ndestination:/q\\cx\nnote:a\\nb\\\\c\\rd\n\n\x00",
			command: CommandSend,
			headers: map[string]string{"destination": "/q:x", "note": "a\nb\\c\rd"},
		},
		{
			name:    "connect is not unescaped",
			raw:     "CONNECT\naccept-version:1.2\nhost:transportforlondon.com\npasscode:a\\b\n\n\x00",
			command: CommandConnect,
			headers: map[string]string{"accept-version": "1.2", "host": "transportforlondon.com", "passcode": "a\\b"},
		},
		{
			name:    "content-length body with NUL inside",
			raw:     "SEND\ndestination:/bin\ncontent-length:3\n\na\x00b\x00",
			command: CommandSend,
			headers: map[string]string{"destination": "/bin", "content-length": "3"},
			body:    "a\x00b",
		},
		{
			name:    "value containing colons",
			raw:     "ERROR\nmessage:bad: really bad\n\noops\x00",
			command: CommandError,
			headers: map[string]string{"message": "bad: really bad"},
			body:    "oops",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFrame([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.command, f.Command)
			assert.Equal(t, tt.headers, f.Headers)
			assert.Equal(t, tt.body, string(f.Body))
		})
	}
}

func TestParseFrameErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"empty", "", ErrEmptyFrame},
		{"only eols", "\n\r\n", ErrEmptyFrame},
		{"unknown command", "HELLO\n\n\x00", ErrInvalidCommand},
		{"lowercase command", "send\ndestination:/a\n\n\x00", ErrInvalidCommand},
		{"no eol after command", "SEND", ErrMissingEOL},
		{"header without colon", "SEND\ndestination\n\n\x00", ErrInvalidHeader},
		{"empty header key", "SEND\n:x\ndestination:/a\n\n\x00", ErrEmptyHeaderKey},
		{"bad escape", "SEND\ndestination:/a\\t\n\n\x00", ErrInvalidEscape},
		{"trailing backslash", "SEND\ndestination:/a\\\n\n\x00", ErrInvalidEscape},
		{"no blank line", "SEND\ndestination:/a\n", ErrMissingBlankLine},
		{"no NUL", "SEND\ndestination:/a\n\nbody", ErrMissingNull},
		{"content-length not a number", "SEND\ndestination:/a\ncontent-length:x\n\n\x00", ErrInvalidContentLength},
		{"content-length negative", "SEND\ndestination:/a\ncontent-length:-1\n\n\x00", ErrInvalidContentLength},
		{"content-length too long", "SEND\ndestination:/a\ncontent-length:10\n\nabc\x00", ErrContentLengthMismatch},
		{"content-length too short", "SEND\ndestination:/a\ncontent-length:1\n\nabc\x00", ErrContentLengthMismatch},
		{"content-length exact without NUL", "SEND\ndestination:/a\ncontent-length:3\n\nabc", ErrMissingNull},
		{"junk after NUL", "SEND\ndestination:/a\n\n\x00junk", ErrTrailingData},
		{"missing destination", "SEND\n\n\x00", ErrMissingRequiredHeader},
		{"subscribe missing id", "SUBSCRIBE\ndestination:/a\n\n\x00", ErrMissingRequiredHeader},
		{"stomp missing host", "STOMP\naccept-version:1.2\n\n\x00", ErrMissingRequiredHeader},
		{"message missing subscription", "MESSAGE\ndestination:/a\nmessage-id:1\n\n\x00", ErrMissingRequiredHeader},
		{"receipt missing id", "RECEIPT\n\n\x00", ErrMissingRequiredHeader},
		{"begin missing transaction", "BEGIN\n\n\x00", ErrMissingRequiredHeader},
		{"ack missing id", "ACK\n\n\x00", ErrMissingRequiredHeader},
		{"connected missing version", "CONNECTED\n\n\x00", ErrMissingRequiredHeader},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFrame([]byte(tt.raw))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestMarshal(t *testing.T) {
	t.Run("stomp frame", func(t *testing.T) {
		f := NewFrame(CommandStomp, nil,
			HeaderAcceptVersion, "1.2",
			HeaderHost, "transportforlondon.com",
			HeaderLogin, "user",
			HeaderPasscode, "secret:\\pass",
		)
		data, err := f.Marshal()
		require.NoError(t, err)
		assert.Equal(t,
			"STOMP\naccept-version:1.2\nhost:transportforlondon.com\nlogin:user\npasscode:secret\\c\\\\pass\n\n\x00",
			string(data))

		back, err := ParseFrame(data)
		require.NoError(t, err)
		assert.Equal(t, "secret:\\pass", back.Header(HeaderPasscode))
	})

	t.Run("adds content-length", func(t *testing.T) {
		data, err := NewFrame(CommandSend, []byte("hi"), HeaderDestination, "/q").Marshal()
		require.NoError(t, err)
		assert.Equal(t, "SEND\ndestination:/q\ncontent-length:2\n\nhi\x00", string(data))
	})

	t.Run("connect keeps raw values", func(t *testing.T) {
		data, err := NewFrame(CommandConnect, nil, HeaderAcceptVersion, "1.2", HeaderHost, "h", HeaderPasscode, `a\b`).Marshal()
		require.NoError(t, err)
		assert.Contains(t, string(data), "passcode:a\\b\n")
	})

	t.Run("connect rejects newline", func(t *testing.T) {
		_, err := NewFrame(CommandConnect, nil, HeaderAcceptVersion, "1.2", HeaderHost, "h\nx").Marshal()
		assert.ErrorIs(t, err, ErrInvalidHeader)
	})

	t.Run("required headers", func(t *testing.T) {
		_, err := NewFrame(CommandSubscribe, nil, HeaderDestination, "/q").Marshal()
		assert.ErrorIs(t, err, ErrMissingRequiredHeader)
	})

	t.Run("unknown command", func(t *testing.T) {
		_, err := (&Frame{Command: "PING"}).Marshal()
		assert.ErrorIs(t, err, ErrInvalidCommand)
	})
}

func TestIsHeartbeat(t *testing.T) {
	assert.True(t, IsHeartbeat([]byte("\n")))
	assert.True(t, IsHeartbeat([]byte("\r\n\r\n")))
	assert.False(t, IsHeartbeat(nil))
	assert.False(t, IsHeartbeat([]byte("RECEIPT\n")))
}
