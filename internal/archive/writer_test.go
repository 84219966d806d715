package archive

import (
	stdzip "archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"iter"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openZip reads data back with the standard library reader so the output is
// checked by an implementation independent of the writer.
func openZip(t *testing.T, data []byte) *stdzip.Reader {
	t.Helper()
	zr, err := stdzip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	return zr
}

func readMember(t *testing.T, f *stdzip.File) []byte {
	t.Helper()
	rc, err := f.Open()
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func fixedEntries(method uint16, bodies ...string) iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for i, body := range bodies {
			e := Entry{
				Name:    fmt.Sprintf("(%d).jpeg", i+1),
				Method:  method,
				Content: Bytes([]byte(body)),
			}
			if !yield(e) {
				return
			}
		}
	}
}

func TestWriter_RoundTripPreservesOrder(t *testing.T) {
	for _, method := range []uint16{Store, Deflate} {
		t.Run(fmt.Sprintf("method %d", method), func(t *testing.T) {
			var buf bytes.Buffer
			stats, err := NewWriter(Options{Level: 5}).Write(context.Background(), &buf,
				fixedEntries(method, "one", "two", "three"))
			require.NoError(t, err)
			assert.Equal(t, 3, stats.Entries)
			assert.Equal(t, int64(buf.Len()), stats.Bytes)

			zr := openZip(t, buf.Bytes())
			require.Len(t, zr.File, 3)
			for i, want := range []string{"one", "two", "three"} {
				f := zr.File[i]
				assert.Equal(t, fmt.Sprintf("(%d).jpeg", i+1), f.Name)
				assert.Equal(t, method, f.Method)
				assert.Equal(t, want, string(readMember(t, f)))
			}
		})
	}
}

func TestWriter_EmptyArchive(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewWriter(Options{}).Write(context.Background(), &buf, fixedEntries(Store))
	require.NoError(t, err)
	assert.Empty(t, openZip(t, buf.Bytes()).File)
}

func TestWriter_BufferedEntriesCarrySizesInHeader(t *testing.T) {
	body := bytes.Repeat([]byte("nested"), 1000)
	entries := func(yield func(Entry) bool) {
		yield(Entry{Name: "inner.zip", Buffered: true, Method: Deflate, Content: Bytes(body)})
	}

	var buf bytes.Buffer
	_, err := NewWriter(Options{}).Write(context.Background(), &buf, entries)
	require.NoError(t, err)

	zr := openZip(t, buf.Bytes())
	require.Len(t, zr.File, 1)
	f := zr.File[0]
	assert.Equal(t, Store, f.Method, "buffered entries are always stored")
	assert.Zero(t, f.Flags&0x8, "no data descriptor")
	assert.Equal(t, crc32.ChecksumIEEE(body), f.CRC32)
	assert.Equal(t, uint64(len(body)), f.UncompressedSize64)
	assert.Equal(t, body, readMember(t, f))
}

func TestWriter_ProducerFailureTruncates(t *testing.T) {
	boom := errors.New("boom")
	entries := func(yield func(Entry) bool) {
		if !yield(Entry{Name: "a", Content: Bytes([]byte("fine"))}) {
			return
		}
		yield(Entry{Name: "b", Content: func(context.Context, io.Writer) error { return boom }})
	}

	var buf bytes.Buffer
	stats, err := NewWriter(Options{}).Write(context.Background(), &buf, entries)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "entry b")
	assert.Equal(t, 1, stats.Entries)

	_, err = stdzip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	assert.Error(t, err, "truncated output must not open as a valid archive")
}

func TestWriter_StopsPullingAfterFailure(t *testing.T) {
	var pulled []string
	entries := func(yield func(Entry) bool) {
		for _, name := range []string{"a", "b", "c"} {
			pulled = append(pulled, name)
			e := Entry{Name: name, Content: Bytes(nil)}
			if name == "b" {
				e.Content = nil
			}
			if !yield(e) {
				return
			}
		}
	}

	_, err := NewWriter(Options{}).Write(context.Background(), io.Discard, entries)
	require.Error(t, err)
	assert.Equal(t, []string{"a", "b"}, pulled)
}

func TestWriter_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewWriter(Options{}).Write(ctx, io.Discard, fixedEntries(Store, "x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriter_ModifiedTime(t *testing.T) {
	stamp := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	_, err := NewWriter(Options{Now: func() time.Time { return stamp }}).
		Write(context.Background(), &buf, fixedEntries(Store, "x"))
	require.NoError(t, err)

	f := openZip(t, buf.Bytes()).File[0]
	assert.True(t, f.Modified.Equal(stamp), "got %v", f.Modified)

	buf.Reset()
	buffered := func(yield func(Entry) bool) {
		yield(Entry{Name: "member.zip", Buffered: true, Content: Bytes([]byte("x"))})
	}
	_, err = NewWriter(Options{Now: func() time.Time { return stamp }}).Write(context.Background(), &buf, buffered)
	require.NoError(t, err)

	f = openZip(t, buf.Bytes()).File[0]
	assert.True(t, f.Modified.Equal(stamp), "buffered entry got %v", f.Modified)
}

func TestWriter_NonASCIINamesAreMarkedUTF8(t *testing.T) {
	for _, buffered := range []bool{false, true} {
		t.Run(fmt.Sprintf("buffered %v", buffered), func(t *testing.T) {
			entries := func(yield func(Entry) bool) {
				if !yield(Entry{Name: "résumé_3.zip", Method: Store, Buffered: buffered, Content: Bytes([]byte("x"))}) {
					return
				}
				yield(Entry{Name: "plain_1.zip", Method: Store, Buffered: buffered, Content: Bytes([]byte("y"))})
			}

			var buf bytes.Buffer
			_, err := NewWriter(Options{}).Write(context.Background(), &buf, entries)
			require.NoError(t, err)

			files := openZip(t, buf.Bytes()).File
			require.Len(t, files, 2)
			assert.Equal(t, "résumé_3.zip", files[0].Name)
			assert.False(t, files[0].NonUTF8)
			assert.NotZero(t, files[0].Flags&0x800, "utf-8 flag set")
			assert.Equal(t, "x", string(readMember(t, files[0])))
			assert.Zero(t, files[1].Flags&0x800, "ascii names need no flag")
		})
	}
}

func TestReaderProducer(t *testing.T) {
	closed := false
	p := Reader(func(context.Context) (io.ReadCloser, error) {
		return readCloser{Reader: bytes.NewReader([]byte("payload")), close: func() { closed = true }}, nil
	})

	var buf bytes.Buffer
	require.NoError(t, p(context.Background(), &buf))
	assert.Equal(t, "payload", buf.String())
	assert.True(t, closed)
}

func TestWriter_Comment(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewWriter(Options{Comment: "converted"}).Write(context.Background(), &buf, fixedEntries(Store, "x"))
	require.NoError(t, err)
	assert.Equal(t, "converted", openZip(t, buf.Bytes()).Comment)
	assert.True(t, slices.ContainsFunc(openZip(t, buf.Bytes()).File, func(f *stdzip.File) bool { return f.Name == "(1).jpeg" }))
}

type readCloser struct {
	io.Reader
	close func()
}

func (r readCloser) Close() error {
	r.close()
	return nil
}
