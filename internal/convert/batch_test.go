package convert

import (
	stdzip "archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/pdfzip/internal/config"
	"github.com/spherical/pdfzip/internal/domain"
	"github.com/spherical/pdfzip/internal/pdf/pdftest"
)

func TestConvertBatch_ScenarioB(t *testing.T) {
	engine := &pdftest.Engine{}
	svc := newTestService(engine, testConfig())

	res, err := svc.ConvertBatch(context.Background(), []Upload{
		{Name: "doc1.pdf", Data: pdftest.Doc(3)},
		{Name: "doc2.pdf", Data: pdftest.Doc(5)},
	}, Options{})
	require.NoError(t, err)

	assert.Equal(t, "all_converted.zip", res.Name)
	assert.Equal(t, ContentType, res.ContentType)
	assert.Equal(t, 8, res.Pages())
	assert.Empty(t, engine.Rendered())

	outer := openZip(t, drain(t, res.Stream))
	assert.Equal(t, []string{"doc1_3.zip", "doc2_5.zip"}, names(outer))
	assert.Equal(t, "2 documents, 8 pages", outer.Comment)

	for i, want := range []int{3, 5} {
		f := outer.File[i]
		assert.Equal(t, stdzip.Store, f.Method)
		assert.Zero(t, f.Flags&0x8, "nested members carry their sizes up front")

		inner := openZip(t, readFile(t, f))
		assert.Equal(t, pageNames(want), names(inner))
	}
	assert.Equal(t, 2, engine.Opened())
	assert.Equal(t, 2, engine.Closed())
}

func TestConvertBatch_DuplicateNamesGetSuffix(t *testing.T) {
	engine := &pdftest.Engine{}
	res, err := newTestService(engine, testConfig()).ConvertBatch(context.Background(), []Upload{
		{Name: "a.pdf", Data: pdftest.Doc(3)},
		{Name: "uploads/a.pdf", Data: pdftest.Doc(3)},
		{Name: "a.pdf", Data: pdftest.Doc(3)},
		{Name: "a.pdf", Data: pdftest.Doc(2)},
	}, Options{})
	require.NoError(t, err)

	want := []string{"a_3.zip", "a_3_2.zip", "a_3_3.zip", "a_2.zip"}
	jobNames := make([]string, 0, len(res.Documents))
	for _, job := range res.Documents {
		jobNames = append(jobNames, job.Name)
	}
	assert.Equal(t, want, jobNames)

	outer := openZip(t, drain(t, res.Stream))
	assert.Equal(t, want, names(outer))
}

func TestConvertBatch_ScenarioC(t *testing.T) {
	engine := &pdftest.Engine{}
	svc := newTestService(engine, testConfig())

	res, err := svc.ConvertBatch(context.Background(), []Upload{
		{Name: "small.pdf", Data: pdftest.Doc(3)},
		{Name: "huge.pdf", Data: pdftest.Doc(101)},
		{Name: "other.pdf", Data: pdftest.Doc(2)},
	}, Options{})
	require.Error(t, err)
	assert.Nil(t, res, "no partial batch archive")

	var limitErr *domain.PageLimitExceededError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 101, limitErr.Count)
	assert.Contains(t, err.Error(), "huge.pdf")

	assert.Equal(t, engine.Opened(), engine.Closed())
	assert.Empty(t, engine.Rendered())
}

func TestConvertBatch_ExtensionPolicy(t *testing.T) {
	t.Run("non-PDF uploads are skipped", func(t *testing.T) {
		engine := &pdftest.Engine{}
		res, err := newTestService(engine, testConfig()).ConvertBatch(context.Background(), []Upload{
			{Name: "notes.txt", Data: []byte("hello")},
			{Name: "scan.PDF", Data: pdftest.Doc(2)},
		}, Options{})
		require.NoError(t, err)

		// One remaining document is passed through, not wrapped.
		assert.Equal(t, "scan_2.zip", res.Name)
		assert.Equal(t, pageNames(2), names(openZip(t, drain(t, res.Stream))))
		assert.Equal(t, 1, engine.Opened())
	})

	t.Run("nothing left", func(t *testing.T) {
		_, err := newTestService(&pdftest.Engine{}, testConfig()).ConvertBatch(context.Background(), []Upload{
			{Name: "a.docx", Data: []byte("x")},
			{Name: "b.png", Data: []byte("y")},
		}, Options{})
		assert.ErrorIs(t, err, domain.ErrNoValidInput)
	})

	t.Run("lone non-PDF is rejected", func(t *testing.T) {
		_, err := newTestService(&pdftest.Engine{}, testConfig()).ConvertBatch(context.Background(), []Upload{
			{Name: "a.docx", Data: []byte("x")},
		}, Options{})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		assert.Contains(t, err.Error(), "Only PDF files are allowed")
	})

	t.Run("no uploads", func(t *testing.T) {
		_, err := newTestService(&pdftest.Engine{}, testConfig()).ConvertBatch(context.Background(), nil, Options{})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestConvertBatch_SingleDocumentPassThrough(t *testing.T) {
	svc := newTestService(&pdftest.Engine{}, testConfig())
	upload := Upload{Name: "only.pdf", Data: pdftest.Doc(10)}
	opts := Options{SkipStart: 2, SkipEnd: 1}

	batch, err := svc.ConvertBatch(context.Background(), []Upload{upload}, opts)
	require.NoError(t, err)
	single, err := svc.Convert(context.Background(), upload, opts)
	require.NoError(t, err)

	assert.Equal(t, single.Name, batch.Name)
	assert.Equal(t, names(openZip(t, drain(t, single.Stream))), names(openZip(t, drain(t, batch.Stream))))
}

func TestConvertBatch_PreservesUploadOrder(t *testing.T) {
	var uploads []Upload
	var want []string
	for i := 1; i <= 9; i++ {
		uploads = append(uploads, Upload{Name: fmt.Sprintf("doc%d.pdf", i), Data: pdftest.Doc(i)})
		want = append(want, fmt.Sprintf("doc%d_%d.zip", i, i))
	}

	svc := newTestService(&pdftest.Engine{}, testConfig(func(c *config.ConversionConfig) {
		c.MaxParallelDocuments = 3
	}))
	res, err := svc.ConvertBatch(context.Background(), uploads, Options{})
	require.NoError(t, err)
	require.Len(t, res.Documents, 9)
	for i, job := range res.Documents {
		assert.Equal(t, want[i], job.Name)
	}
	assert.Equal(t, want, names(openZip(t, drain(t, res.Stream))))
}

func TestConvertBatch_NestedStreaming(t *testing.T) {
	svc := newTestService(&pdftest.Engine{}, testConfig(func(c *config.ConversionConfig) {
		c.NestedStreaming = true
		c.BatchName = "bundle.zip"
	}))

	res, err := svc.ConvertBatch(context.Background(), []Upload{
		{Name: "a.pdf", Data: pdftest.Doc(2)},
		{Name: "b.pdf", Data: pdftest.Doc(4)},
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "bundle.zip", res.Name)

	outer := openZip(t, drain(t, res.Stream))
	require.Len(t, outer.File, 2)
	assert.NotZero(t, outer.File[0].Flags&0x8, "streamed members use a data descriptor")
	assert.Equal(t, pageNames(4), names(openZip(t, readFile(t, outer.File[1]))))
}

func TestConvertBatch_CloseBeforeReadReleasesAll(t *testing.T) {
	engine := &pdftest.Engine{}
	res, err := newTestService(engine, testConfig()).ConvertBatch(context.Background(), []Upload{
		{Name: "a.pdf", Data: pdftest.Doc(2)},
		{Name: "b.pdf", Data: pdftest.Doc(2)},
		{Name: "c.pdf", Data: pdftest.Doc(2)},
	}, Options{})
	require.NoError(t, err)

	require.NoError(t, res.Stream.Close())
	assert.Equal(t, 3, engine.Closed())
	assert.Empty(t, engine.Rendered())
}

func TestConvertBatch_RenderFailureTruncatesAndReleases(t *testing.T) {
	// Page 1 of every document fails; the first member is the one that breaks.
	engine := &pdftest.Engine{FailPages: map[int]bool{1: true}}
	res, err := newTestService(engine, testConfig()).ConvertBatch(context.Background(), []Upload{
		{Name: "a.pdf", Data: pdftest.Doc(3)},
		{Name: "b.pdf", Data: pdftest.Doc(3)},
	}, Options{})
	require.NoError(t, err)

	data, err := io.ReadAll(res.Stream)
	require.Error(t, err)
	require.NoError(t, res.Stream.Close())

	assert.ErrorIs(t, err, domain.ErrRender)
	_, zipErr := stdzip.NewReader(bytes.NewReader(data), int64(len(data)))
	assert.Error(t, zipErr)
	assert.Equal(t, []int{0, 1}, engine.Rendered(), "the second document is never rendered")
	assert.Equal(t, 2, engine.Closed())
}
