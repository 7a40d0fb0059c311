package archive

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cubeopt/internal/config"
)

func strPtr(s string) *string { return &s }

func TestParseURL(t *testing.T) {
	tests := []struct {
		raw                    string
		scheme, bucket, prefix string
		wantErr                bool
	}{
		{raw: "s3://reports/cubeopt/prod/", scheme: "s3", bucket: "reports", prefix: "cubeopt/prod"},
		{raw: "gs://reports", scheme: "gs", bucket: "reports"},
		{raw: "az://container/runs", scheme: "az", bucket: "container", prefix: "runs"},
		{raw: "https://example.com/x", wantErr: true},
		{raw: "s3:///no-bucket", wantErr: true},
		{raw: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			scheme, bucket, prefix, err := ParseURL(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.scheme, scheme)
			assert.Equal(t, tt.bucket, bucket)
			assert.Equal(t, tt.prefix, prefix)
		})
	}
}

func TestJoinKey(t *testing.T) {
	assert.Equal(t, "a.csv", joinKey("", "a.csv"))
	assert.Equal(t, "runs/a.csv", joinKey("runs", "/a.csv"))
}

func TestNew_Validation(t *testing.T) {
	ctx := context.Background()

	_, err := New(ctx, &config.ArchiveConfig{URL: "s3://bucket"})
	assert.ErrorContains(t, err, "S3 config is incomplete")

	_, err = New(ctx, &config.ArchiveConfig{URL: "az://container"})
	assert.ErrorContains(t, err, "Azure account name and key are required")

	_, err = New(ctx, &config.ArchiveConfig{URL: "ftp://host/x"})
	assert.Error(t, err)
}

func TestNew_Azure(t *testing.T) {
	a, err := New(context.Background(), &config.ArchiveConfig{
		URL:              "az://reports/cubeopt",
		AzureAccountName: "acct",
		AzureAccountKey:  "c2VjcmV0LWtleQ==",
	})
	require.NoError(t, err)
	assert.Equal(t, "az://reports/cubeopt", a.Location())
}

func TestS3Archiver_Upload(t *testing.T) {
	var mu sync.Mutex
	var gotMethod, gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotMethod = r.Method
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := &config.ArchiveConfig{
		URL:        "s3://reports/cubeopt",
		S3KeyID:    strPtr("key"),
		S3Secret:   strPtr("secret"),
		S3Endpoint: strPtr(srv.URL),
		S3Region:   strPtr("us-east-1"),
	}
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "s3://reports/cubeopt", a.Location())

	require.NoError(t, a.Upload(context.Background(), "Sales_Default.csv", strings.NewReader("ID,Mode\n")))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/reports/cubeopt/Sales_Default.csv", gotPath)
	assert.Contains(t, gotBody, "ID,Mode")
}

func TestS3Archiver_UploadError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`<Error><Code>AccessDenied</Code><Message>denied</Message></Error>`))
	}))
	defer srv.Close()

	a, err := NewS3Archiver(&config.ArchiveConfig{
		S3KeyID: strPtr("key"), S3Secret: strPtr("secret"),
		S3Endpoint: strPtr(srv.URL), S3Region: strPtr("us-east-1"),
	}, "reports", "")
	require.NoError(t, err)

	err = a.Upload(context.Background(), "x.csv", strings.NewReader("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://reports/x.csv")
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "text/csv", contentType("a.csv"))
	assert.Equal(t, "application/json", contentType("a.json"))
	assert.Equal(t, "text/html; charset=utf-8", contentType("a.html"))
	assert.Equal(t, "application/octet-stream", contentType("a.bin"))
}
