package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-league/league-engine/internal/model"
	"github.com/portfolio-league/league-engine/internal/period"
)

var anchor = time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)

// fakeS3 records single-part uploads. Multipart calls fail the test.
type fakeS3 struct {
	t       *testing.T
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	err     error
}

func newFakeS3(t *testing.T) *fakeS3 {
	return &fakeS3{t: t, objects: make(map[string][]byte), types: make(map[string]string)}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	f.objects[key] = body
	f.types[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	f.t.Error("unexpected multipart upload")
	return nil, errors.New("not supported")
}

func (f *fakeS3) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.t.Error("unexpected multipart upload")
	return nil, errors.New("not supported")
}

func (f *fakeS3) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, errors.New("not supported")
}

func (f *fakeS3) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return &s3.AbortMultipartUploadOutput{}, nil
}

type stubRanker struct {
	board *model.Leaderboard
	err   error
	calls int
}

func (s *stubRanker) Rank(_ context.Context, periodID string) (*model.Leaderboard, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	b := *s.board
	b.Period.ID = periodID
	return &b, nil
}

func newExporter(t *testing.T, ranker Ranker, client *fakeS3, now time.Time) *Exporter {
	t.Helper()
	clock, err := period.NewClock(anchor, 7*24*time.Hour, decimal.NewFromInt(1000), decimal.NewFromFloat(0.3))
	require.NoError(t, err)
	e := NewExporter(ranker, clock, NewS3WriterFromClient(client, "standings"), "league")
	e.now = func() time.Time { return now }
	return e
}

func TestExport_CompletedPeriod(t *testing.T) {
	client := newFakeS3(t)
	ranker := &stubRanker{board: &model.Leaderboard{
		Status:            model.StatusCompleted,
		TotalParticipants: 1,
		Rows: []model.LeaderboardRow{
			{Rank: 1, Participant: "alice", ReturnPct: decimal.NewFromInt(12), Prize: decimal.NewFromInt(1000)},
		},
	}}
	e := newExporter(t, ranker, client, anchor.Add(8*24*time.Hour))

	key, err := e.Export(context.Background(), "gw-1")
	require.NoError(t, err)
	assert.Equal(t, "league/leaderboards/gw-1.json", key)

	body, ok := client.objects["standings/league/leaderboards/gw-1.json"]
	require.True(t, ok)
	assert.Equal(t, "application/json", client.types["standings/league/leaderboards/gw-1.json"])

	var doc Document
	require.NoError(t, json.Unmarshal(body, &doc))
	require.Len(t, doc.Leaderboard.Rows, 1)
	assert.Equal(t, "alice", doc.Leaderboard.Rows[0].Participant)
	assert.True(t, doc.Leaderboard.Rows[0].Prize.Equal(decimal.NewFromInt(1000)))
	assert.True(t, bytes.Contains(body, []byte(`"exported_at"`)))
}

func TestExport_ActivePeriodRefused(t *testing.T) {
	client := newFakeS3(t)
	ranker := &stubRanker{board: &model.Leaderboard{}}
	e := newExporter(t, ranker, client, anchor.Add(24*time.Hour))

	_, err := e.Export(context.Background(), "current")
	assert.True(t, errors.Is(err, ErrPeriodNotCompleted), "got %v", err)
	assert.Equal(t, 0, ranker.calls)
	assert.Empty(t, client.objects)
}

func TestExport_RankFailure(t *testing.T) {
	client := newFakeS3(t)
	ranker := &stubRanker{err: errors.New("price: unavailable")}
	e := newExporter(t, ranker, client, anchor.Add(8*24*time.Hour))

	_, err := e.Export(context.Background(), "gw-1")
	assert.ErrorIs(t, err, ranker.err)
	assert.Empty(t, client.objects)
}

func TestExport_UploadFailure(t *testing.T) {
	client := newFakeS3(t)
	client.err = errors.New("access denied")
	ranker := &stubRanker{board: &model.Leaderboard{Rows: []model.LeaderboardRow{}}}
	e := newExporter(t, ranker, client, anchor.Add(8*24*time.Hour))

	_, err := e.Export(context.Background(), "gw-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio.local:9000", normaliseEndpoint("minio.local:9000"))
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("http://localhost:9000"))
}
