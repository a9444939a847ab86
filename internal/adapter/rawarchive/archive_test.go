package rawarchive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/couchcryptid/weather-quality-etl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var fetchedAt = time.Date(2026, 2, 1, 12, 0, 5, 0, time.UTC)

func testArchive() domain.RawArchive {
	return domain.NewRawArchive("3f2c9a", domain.RawPayload{
		Location:  domain.Location{Name: "New York", Latitude: 40.7128, Longitude: -74.006, Country: "USA"},
		Body:      json.RawMessage(`{"latitude":40.71,"hourly":{"time":[]}}`),
		FetchedAt: fetchedAt,
	})
}

type mockS3 struct {
	mock.Mock
}

func (m *mockS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, params)
	if out := args.Get(0); out != nil {
		return out.(*s3.PutObjectOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestKey(t *testing.T) {
	assert.Equal(t,
		"raw/year=2026/month=02/day=01/newyork_20260201_120005_3f2c9a.json.gz",
		Key(testArchive()))

	a := testArchive()
	a.Location = "  "
	assert.Contains(t, Key(a), "/unknown_20260201_")
}

func TestEncodeDecode(t *testing.T) {
	data, err := Encode(testArchive())
	require.NoError(t, err)
	assert.Equal(t, []byte{0x1f, 0x8b}, data[:2], "gzip magic")

	got, err := Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "3f2c9a", got.IngestionID)
	assert.Equal(t, "2026-02-01", got.PartitionDate)
	assert.JSONEq(t, `{"latitude":40.71,"hourly":{"time":[]}}`, string(got.RawResponse))

	p := Payload(got)
	assert.Equal(t, "New York", p.Location.Name)
	assert.Equal(t, "USA", p.Location.Country)
	assert.True(t, fetchedAt.Equal(p.FetchedAt))
}

func TestDecode_NotGzip(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte(`{"plain":"json"}`)))
	require.ErrorContains(t, err, "open gzip")
}

func TestDirSink_WriteOnce(t *testing.T) {
	root := t.TempDir()
	sink := NewDirSink(root)

	key, err := sink.WriteRaw(context.Background(), testArchive())
	require.NoError(t, err)

	path := filepath.Join(root, filepath.FromSlash(key))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	got, err := Decode(f)
	require.NoError(t, err)
	assert.Equal(t, "New York", got.Location)

	_, err = sink.WriteRaw(context.Background(), testArchive())
	require.ErrorIs(t, err, ErrAlreadyExists)

	paths, err := ListArchives(root)
	require.NoError(t, err)
	assert.Equal(t, []string{path}, paths)

	single, err := ListArchives(path)
	require.NoError(t, err)
	assert.Equal(t, []string{path}, single)
}

func TestListArchives_MissingRoot(t *testing.T) {
	_, err := ListArchives(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}

func TestS3Sink_WriteRaw(t *testing.T) {
	client := new(mockS3)
	sink := NewS3Sink(client, "dq-raw", slog.New(slog.NewTextHandler(io.Discard, nil)))

	client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		body, err := io.ReadAll(in.Body)
		if err != nil {
			return false
		}
		a, err := Decode(bytes.NewReader(body))
		return err == nil &&
			*in.Bucket == "dq-raw" &&
			*in.Key == "raw/year=2026/month=02/day=01/newyork_20260201_120005_3f2c9a.json.gz" &&
			*in.IfNoneMatch == "*" &&
			*in.ContentEncoding == "gzip" &&
			a.IngestionID == "3f2c9a"
	})).Return(&s3.PutObjectOutput{}, nil)

	key, err := sink.WriteRaw(context.Background(), testArchive())
	require.NoError(t, err)
	assert.Equal(t, Key(testArchive()), key)
	client.AssertExpectations(t)
}

func TestS3Sink_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantExists bool
	}{
		{"precondition failed", &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "At least one of the pre-conditions you specified did not hold"}, true},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, false},
		{"network", errors.New("dial tcp: i/o timeout"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := new(mockS3)
			client.On("PutObject", mock.Anything, mock.Anything).Return(nil, tt.err)
			sink := NewS3Sink(client, "dq-raw", slog.New(slog.NewTextHandler(io.Discard, nil)))

			_, err := sink.WriteRaw(context.Background(), testArchive())
			require.Error(t, err)
			assert.Equal(t, tt.wantExists, errors.Is(err, ErrAlreadyExists))
		})
	}
}
