package client

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"studychat/internal/models"
	"studychat/internal/protocol"
)

// DefaultChunkSize is used by SendFile when chunkSize is not positive, unless
// the line limit only allows less.
const DefaultChunkSize = 64 << 10

// ErrChunkTooLarge is returned when a base64 chunk would not fit in one line.
var ErrChunkTooLarge = errors.New("file chunk does not fit in one line")

// SendFile streams the file at path as file-chunk envelopes, in order, on this
// connection. Reassembly is up to the receivers.
func (c *Client) SendFile(ctx context.Context, path string, chunkSize int) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	return c.SendChunks(ctx, filepath.Base(path), f, info.Size(), chunkSize)
}

// SendChunks splits size bytes from r into chunkSize pieces. An empty input is
// sent as a single empty chunk so receivers still learn about the file.
// Nothing is sent when chunkSize cannot fit in the line limit.
func (c *Client) SendChunks(ctx context.Context, name string, r io.Reader, size int64, chunkSize int) error {
	limit, err := c.MaxChunkSize(name)
	if err != nil {
		return err
	}
	switch {
	case chunkSize <= 0:
		chunkSize = min(DefaultChunkSize, limit)
	case chunkSize > limit:
		return fmt.Errorf("%w: %d bytes requested, at most %d fit in a %d byte line", ErrChunkTooLarge, chunkSize, limit, c.maxLine)
	}

	total := int((size + int64(chunkSize) - 1) / int64(chunkSize))
	if total == 0 {
		total = 1
	}

	buf := make([]byte, chunkSize)
	for index := 0; index < total; index++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := io.ReadFull(r, buf)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return fmt.Errorf("read chunk %d of %s: %w", index, name, err)
		}
		env := models.FileChunkEnvelope(name, index, total, base64.StdEncoding.EncodeToString(buf[:n]))
		if err := c.SendEvent(ctx, env); err != nil {
			return fmt.Errorf("chunk %d/%d of %s: %w", index+1, total, name, err)
		}
	}
	return nil
}

// MaxChunkSize is the largest raw chunk of name whose encoded line, newline
// included, stays within the client's line limit.
func (c *Client) MaxChunkSize(name string) (int, error) {
	maxLine := c.maxLine
	if maxLine <= 0 {
		maxLine = protocol.DefaultMaxLine
	}
	const placeholder = "AAAA"
	line, err := protocol.Encode(models.FileChunkEnvelope(name, math.MaxInt, math.MaxInt, placeholder))
	if err != nil {
		return 0, err
	}
	limit := (maxLine - len(line) + len(placeholder)) / 4 * 3
	if limit <= 0 {
		return 0, fmt.Errorf("%w: name %q leaves no room in a %d byte line", ErrChunkTooLarge, name, maxLine)
	}
	return limit, nil
}
