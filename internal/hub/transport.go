package hub

import (
	"bufio"
	"io"
	"net"

	"github.com/gorilla/websocket"

	"studychat/internal/protocol"
)

// Transport moves whole lines to and from one peer. ReadLine is only called
// from the connection's reader and WriteLine only from its writer.
type Transport interface {
	ReadLine() ([]byte, error)
	WriteLine(line []byte) error
	Close() error
	RemoteAddr() string
	Kind() string
}

type tcpTransport struct {
	conn    net.Conn
	scanner *bufio.Scanner
	writer  *protocol.Writer
}

// NewTCPTransport frames conn as '\n'-delimited lines of at most maxLine bytes.
func NewTCPTransport(conn net.Conn, maxLine int) Transport {
	return &tcpTransport{
		conn:    conn,
		scanner: protocol.NewScanner(conn, maxLine),
		writer:  protocol.NewWriter(conn),
	}
}

func (t *tcpTransport) ReadLine() ([]byte, error) {
	if !t.scanner.Scan() {
		if err := t.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	// the scanner reuses its buffer; receivers get the line asynchronously
	line := make([]byte, len(t.scanner.Bytes()))
	copy(line, t.scanner.Bytes())
	return line, nil
}

func (t *tcpTransport) WriteLine(line []byte) error {
	return t.writer.WriteLine(line)
}

func (t *tcpTransport) Close() error {
	return t.conn.Close()
}

func (t *tcpTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

func (t *tcpTransport) Kind() string { return "tcp" }

type wsTransport struct {
	conn       *websocket.Conn
	remoteAddr string
}

// NewWebSocketTransport treats every websocket text frame as one line.
func NewWebSocketTransport(conn *websocket.Conn, remoteAddr string, maxLine int) Transport {
	if maxLine <= 0 {
		maxLine = protocol.DefaultMaxLine
	}
	conn.SetReadLimit(int64(maxLine))
	return &wsTransport{conn: conn, remoteAddr: remoteAddr}
}

func (t *wsTransport) ReadLine() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return protocol.TrimLine(data), nil
}

func (t *wsTransport) WriteLine(line []byte) error {
	return t.conn.WriteMessage(websocket.TextMessage, protocol.TrimLine(line))
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

func (t *wsTransport) RemoteAddr() string { return t.remoteAddr }

func (t *wsTransport) Kind() string { return "ws" }
