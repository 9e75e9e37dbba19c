// Package console is the line-oriented terminal front end of a participant.
package console

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"studychat/internal/chat"
	"studychat/internal/models"
)

const (
	defaultHistory = 20

	// Limits on inbound file reassembly. Chunks come from untrusted peers.
	maxFileChunks   = 1 << 16
	maxFileBytes    = 256 << 20
	maxPendingFiles = 16
)

// FileSender streams a local file to the other participants.
type FileSender interface {
	SendFile(ctx context.Context, path string, chunkSize int) error
}

// Console reads commands from the user and prints what other participants do.
type Console struct {
	session   *chat.Session
	files     FileSender
	userID    int64
	groupID   int64
	moderator bool
	chunkSize int
	downloads string

	outMu sync.Mutex
	out   io.Writer

	partsMu sync.Mutex
	parts   map[string]*partialFile

	knownMu sync.Mutex
	known   map[int64]struct{}
}

type partialFile struct {
	chunks [][]byte
	filled int
	bytes  int
}

// Config identifies the participant.
type Config struct {
	UserID      int64
	GroupID     int64
	Moderator   bool
	ChunkSize   int
	DownloadDir string
}

func New(session *chat.Session, files FileSender, out io.Writer, cfg Config) *Console {
	return &Console{
		session:   session,
		files:     files,
		userID:    cfg.UserID,
		groupID:   cfg.GroupID,
		moderator: cfg.Moderator,
		chunkSize: cfg.ChunkSize,
		downloads: cfg.DownloadDir,
		out:       out,
		parts:     make(map[string]*partialFile),
		known:     make(map[int64]struct{}),
	}
}

// Run reads lines from in until EOF, /quit or ctx cancellation.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	c.printf("Type a message, or /edit id text, /delete id, /file path, /history [n], /quit\n")
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		if quit := c.HandleLine(ctx, sc.Text()); quit {
			return nil
		}
	}
	return sc.Err()
}

// HandleLine executes one input line and reports whether the user asked to
// quit.
func (c *Console) HandleLine(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		c.send(ctx, line)
		return false
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch cmd {
	case "/quit":
		return true
	case "/edit":
		idText, content, _ := strings.Cut(rest, " ")
		id, err := strconv.ParseInt(idText, 10, 64)
		if err != nil {
			c.printf("[error] usage: /edit id text\n")
			return false
		}
		c.edit(ctx, id, content)
	case "/delete":
		id, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			c.printf("[error] usage: /delete id\n")
			return false
		}
		c.delete(ctx, id)
	case "/file":
		if rest == "" {
			c.printf("[error] usage: /file path\n")
			return false
		}
		if err := c.files.SendFile(ctx, rest, c.chunkSize); err != nil {
			c.printf("[error] send file: %v\n", err)
			return false
		}
		c.printf("[me] sent file %s\n", filepath.Base(rest))
	case "/history":
		n := defaultHistory
		if rest != "" {
			parsed, err := strconv.Atoi(rest)
			if err != nil || parsed <= 0 {
				c.printf("[error] usage: /history [n]\n")
				return false
			}
			n = parsed
		}
		c.history(ctx, n)
	default:
		c.printf("[error] unknown command %s\n", cmd)
	}
	return false
}

func (c *Console) send(ctx context.Context, content string) {
	msg, err := c.session.Send(ctx, c.userID, c.groupID, content)
	if err != nil && !errors.Is(err, chat.ErrTransport) {
		c.printf("[error] %s\n", reason(err))
		return
	}
	c.remember(msg.ID)
	c.printf("%s\n", formatMessage("me", msg))
	if err != nil {
		c.printf("[warning] %s\n", reason(err))
	}
}

func (c *Console) edit(ctx context.Context, id int64, content string) {
	msg, err := c.session.Edit(ctx, id, c.userID, content)
	if err != nil && !errors.Is(err, chat.ErrTransport) {
		c.printf("[error] %s\n", reason(err))
		return
	}
	c.remember(msg.ID)
	c.printf("%s\n", formatMessage("me", msg))
	if err != nil {
		c.printf("[warning] %s\n", reason(err))
	}
}

func (c *Console) delete(ctx context.Context, id int64) {
	err := c.session.Delete(ctx, id, c.userID, c.moderator)
	if err != nil && !errors.Is(err, chat.ErrTransport) {
		c.printf("[error] %s\n", reason(err))
		return
	}
	c.forget(id)
	c.printf("[me] deleted #%d\n", id)
	if err != nil {
		c.printf("[warning] %s\n", reason(err))
	}
}

func (c *Console) history(ctx context.Context, n int) {
	msgs, err := c.session.History(ctx, c.groupID)
	if err != nil {
		c.printf("[error] %s\n", reason(err))
		return
	}
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	for _, m := range msgs {
		c.remember(m.ID)
		c.printf("%s\n", formatMessage(senderLabel(m, c.userID), m))
	}
}

// HandleEnvelope prints one event relayed from another participant. It runs on
// the client's reader goroutine.
func (c *Console) HandleEnvelope(env models.Envelope) {
	switch env.Type {
	case models.EventNew:
		if env.Message == nil || env.Message.GroupID != c.groupID {
			return
		}
		c.remember(env.Message.ID)
		c.printf("%s\n", formatMessage(senderLabel(*env.Message, c.userID), *env.Message))
	case models.EventEdit:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		msg, err := c.session.Message(ctx, env.ID)
		if err != nil {
			c.printf("[edit] #%d could not be reloaded: %s\n", env.ID, reason(err))
			return
		}
		if msg.GroupID != c.groupID {
			return
		}
		c.remember(msg.ID)
		c.printf("%s\n", formatMessage(senderLabel(msg, c.userID), msg))
	case models.EventDelete:
		// A delete carries only the id, so only messages this console has
		// shown are reported; other groups' deletes are dropped.
		if !c.forget(env.ID) {
			return
		}
		c.printf("[deleted] #%d\n", env.ID)
	case models.EventFileChunk:
		c.receiveChunk(env)
	}
}

func (c *Console) receiveChunk(env models.Envelope) {
	if err := env.Validate(); err != nil {
		c.printf("[file] dropped chunk: %v\n", err)
		return
	}
	if env.TotalChunks > maxFileChunks {
		c.printf("[file] dropped chunk of %s: %d chunks exceeds limit %d\n", env.FileName, env.TotalChunks, maxFileChunks)
		return
	}
	data, err := base64.StdEncoding.DecodeString(env.ChunkData)
	if err != nil {
		c.printf("[file] dropped chunk of %s: %v\n", env.FileName, err)
		return
	}

	c.partsMu.Lock()
	part, ok := c.parts[env.FileName]
	if !ok || len(part.chunks) != env.TotalChunks {
		if !ok && len(c.parts) >= maxPendingFiles {
			c.partsMu.Unlock()
			c.printf("[file] dropped chunk of %s: %d files already in progress\n", env.FileName, maxPendingFiles)
			return
		}
		part = &partialFile{chunks: make([][]byte, env.TotalChunks)}
		c.parts[env.FileName] = part
	}
	index := *env.ChunkIndex
	previous := part.chunks[index]
	if part.bytes-len(previous)+len(data) > maxFileBytes {
		delete(c.parts, env.FileName)
		c.partsMu.Unlock()
		c.printf("[file] dropped chunk of %s: file exceeds %d bytes\n", env.FileName, maxFileBytes)
		return
	}
	if previous == nil {
		part.filled++
	}
	part.bytes += len(data) - len(previous)
	part.chunks[index] = data
	complete := part.filled == len(part.chunks)
	if complete {
		delete(c.parts, env.FileName)
	}
	c.partsMu.Unlock()

	if !complete {
		return
	}
	c.saveFile(env.FileName, part.chunks)
}

func (c *Console) saveFile(name string, chunks [][]byte) {
	if c.downloads == "" {
		c.printf("[file] received %s (%d chunks)\n", name, len(chunks))
		return
	}
	path := filepath.Join(c.downloads, filepath.Base(name))
	f, err := os.Create(path)
	if err != nil {
		c.printf("[file] save %s: %v\n", name, err)
		return
	}
	defer f.Close()
	for _, chunk := range chunks {
		if _, err := f.Write(chunk); err != nil {
			c.printf("[file] save %s: %v\n", name, err)
			return
		}
	}
	c.printf("[file] saved %s\n", path)
}

func (c *Console) remember(id int64) {
	if id == 0 {
		return
	}
	c.knownMu.Lock()
	c.known[id] = struct{}{}
	c.knownMu.Unlock()
}

func (c *Console) forget(id int64) bool {
	c.knownMu.Lock()
	defer c.knownMu.Unlock()
	_, ok := c.known[id]
	delete(c.known, id)
	return ok
}

func (c *Console) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func senderLabel(m models.Message, self int64) string {
	if m.SenderID == self {
		return "me"
	}
	if m.SenderUsername != "" {
		return m.SenderUsername
	}
	return "user " + strconv.FormatInt(m.SenderID, 10)
}

func formatMessage(sender string, m models.Message) string {
	stamp := m.CreatedAt.Local().Format("15:04:05")
	line := fmt.Sprintf("[%s] #%d %s: %s", stamp, m.ID, sender, m.Content)
	if m.Edited {
		line += " (edited)"
	}
	return line
}

func reason(err error) string {
	var chatErr *chat.Error
	if errors.As(err, &chatErr) {
		return chatErr.Reason()
	}
	return err.Error()
}
