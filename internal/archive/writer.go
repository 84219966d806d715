// Package archive writes ZIP archives incrementally from lazily produced
// entries.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"iter"
	"time"
	"unicode/utf8"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

// Compression methods accepted in Entry.Method.
const (
	Store   = zip.Store
	Deflate = zip.Deflate
)

// Producer writes the body of one entry. It is called once, when the writer
// reaches the entry, never earlier.
type Producer func(ctx context.Context, w io.Writer) error

// Entry is one archive member.
type Entry struct {
	Name     string
	Method   uint16
	Modified time.Time
	// Buffered entries are drained into memory first and written stored
	// with their CRC and sizes in the local header. Use it for members that
	// another tool must be able to read without a data descriptor, such as
	// nested archives.
	Buffered bool
	Content  Producer
}

// Options tune the writer.
type Options struct {
	// Level is the deflate level (-2..9), 0 means store-speed deflate.
	Level   int
	Comment string
	// Now stamps entries without a Modified time; defaults to time.Now.
	Now func() time.Time
}

// Stats describes a finished or aborted write.
type Stats struct {
	Entries int
	Bytes   int64
}

// Writer serializes entries into a ZIP byte stream.
type Writer struct {
	opts Options
}

// NewWriter creates a writer.
func NewWriter(opts Options) *Writer {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Writer{opts: opts}
}

// Write emits entries to dst in order. Each streamed entry is written as
// local header, data, data descriptor, and flushed downstream before the
// next entry is pulled. If a producer fails, Write returns without the
// central directory so the output can never pass for a complete archive.
func (w *Writer) Write(ctx context.Context, dst io.Writer, entries iter.Seq[Entry]) (Stats, error) {
	cw := &countingWriter{w: dst}
	zw := zip.NewWriter(cw)
	level := w.opts.Level
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})
	if w.opts.Comment != "" {
		if err := zw.SetComment(w.opts.Comment); err != nil {
			return Stats{}, err
		}
	}

	var stats Stats
	for e := range entries {
		if err := ctx.Err(); err != nil {
			stats.Bytes = cw.n
			return stats, err
		}
		if err := w.writeEntry(ctx, zw, e); err != nil {
			stats.Bytes = cw.n
			return stats, fmt.Errorf("entry %s: %w", e.Name, err)
		}
		if err := zw.Flush(); err != nil {
			stats.Bytes = cw.n
			return stats, fmt.Errorf("flush %s: %w", e.Name, err)
		}
		stats.Entries++
	}

	if err := zw.Close(); err != nil {
		stats.Bytes = cw.n
		return stats, fmt.Errorf("finish archive: %w", err)
	}
	stats.Bytes = cw.n
	return stats, nil
}

func (w *Writer) writeEntry(ctx context.Context, zw *zip.Writer, e Entry) error {
	if e.Content == nil {
		return fmt.Errorf("no content producer")
	}
	modified := e.Modified
	if modified.IsZero() {
		modified = w.opts.Now()
	}

	if e.Buffered {
		var buf bytes.Buffer
		if err := e.Content(ctx, &buf); err != nil {
			return err
		}
		data := buf.Bytes()
		fh := &zip.FileHeader{
			Name:               e.Name,
			Method:             zip.Store,
			CRC32:              crc32.ChecksumIEEE(data),
			CompressedSize64:   uint64(len(data)),
			UncompressedSize64: uint64(len(data)),
		}
		// CreateRaw writes the MS-DOS time fields and flags as given.
		fh.SetModTime(modified) //nolint:staticcheck
		if needsUTF8Flag(e.Name) {
			fh.Flags |= utf8NameFlag
		}
		fw, err := zw.CreateRaw(fh)
		if err != nil {
			return err
		}
		_, err = fw.Write(data)
		return err
	}

	fw, err := zw.CreateHeader(&zip.FileHeader{
		Name:     e.Name,
		Method:   e.Method,
		Modified: modified,
	})
	if err != nil {
		return err
	}
	return e.Content(ctx, fw)
}

// Bytes is a Producer for content already in memory.
func Bytes(data []byte) Producer {
	return func(_ context.Context, w io.Writer) error {
		_, err := w.Write(data)
		return err
	}
}

// Reader is a Producer that drains the reader returned by open.
func Reader(open func(ctx context.Context) (io.ReadCloser, error)) Producer {
	return func(ctx context.Context, w io.Writer) error {
		rc, err := open(ctx)
		if err != nil {
			return err
		}
		defer rc.Close()
		_, err = io.Copy(w, rc)
		return err
	}
}

// utf8NameFlag is general purpose bit 11: name and comment are UTF-8.
const utf8NameFlag = 0x800

func needsUTF8Flag(name string) bool {
	if !utf8.ValidString(name) {
		return false
	}
	for i := 0; i < len(name); i++ {
		if name[i] >= utf8.RuneSelf {
			return true
		}
	}
	return false
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
