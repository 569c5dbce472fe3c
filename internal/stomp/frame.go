package stomp

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	Connect     Command = "CONNECT"
	Stomp       Command = "STOMP"
	Connected   Command = "CONNECTED"
	Send        Command = "SEND"
	Subscribe   Command = "SUBSCRIBE"
	Unsubscribe Command = "UNSUBSCRIBE"
	Ack         Command = "ACK"
	Nack        Command = "NACK"
	Begin       Command = "BEGIN"
	Commit      Command = "COMMIT"
	Abort       Command = "ABORT"
	Disconnect  Command = "DISCONNECT"
	Message     Command = "MESSAGE"
	Receipt     Command = "RECEIPT"
	Error       Command = "ERROR"
)

const terminator = '\x00'

var ErrProtocolViolation = errors.New("stomp protocol violation")

var knownCommands = map[Command]struct{}{
	Connect: {}, Stomp: {}, Connected: {}, Send: {}, Subscribe: {}, Unsubscribe: {},
	Ack: {}, Nack: {}, Begin: {}, Commit: {}, Abort: {}, Disconnect: {},
	Message: {}, Receipt: {}, Error: {},
}

func (c Command) Valid() bool {
	_, ok := knownCommands[c]
	return ok
}

type Header struct {
	Key   string
	Value string
}

// Frame is one decoded unit of the sub-protocol. Body is nil when the frame
// carried no body.
type Frame struct {
	Command Command
	Headers []Header
	Body    []byte
}

func (f Frame) Header(key string) (string, bool) {
	for _, h := range f.Headers {
		if h.Key == key {
			return h.Value, true
		}
	}
	return "", false
}

func Encode(command Command, headers []Header, body []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(string(command))
	buf.WriteByte('\n')
	for _, h := range headers {
		buf.WriteString(h.Key)
		buf.WriteByte(':')
		buf.WriteString(h.Value)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	buf.Write(body)
	buf.WriteByte(terminator)
	return buf.Bytes()
}

func Decode(raw []byte) (Frame, error) {
	text := string(raw)
	head, body, hasBody := cutHead(text)
	if !hasBody {
		head = strings.TrimSuffix(head, string(terminator))
	}

	lines := strings.Split(head, "\n")
	command := Command(strings.TrimSuffix(strings.TrimSpace(lines[0]), "\r"))
	if command == "" {
		return Frame{}, fmt.Errorf("%w: missing command line", ErrProtocolViolation)
	}
	if !command.Valid() {
		return Frame{}, fmt.Errorf("%w: unknown command %q", ErrProtocolViolation, command)
	}

	frame := Frame{Command: command}
	for _, line := range lines[1:] {
		line = strings.TrimSuffix(line, "\r")
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		frame.Headers = append(frame.Headers, Header{Key: key, Value: value})
	}

	body = strings.TrimSuffix(body, string(terminator))
	if body != "" {
		frame.Body = []byte(body)
	}
	return frame, nil
}

// cutHead splits text at the first blank line, which may end in LF or CRLF.
func cutHead(text string) (head, body string, ok bool) {
	start := 0
	for {
		i := strings.IndexByte(text[start:], '\n')
		if i < 0 {
			return text, "", false
		}
		end := start + i
		if line := text[start:end]; start > 0 && (line == "" || line == "\r") {
			return text[:start-1], text[end+1:], true
		}
		start = end + 1
	}
}
