package keys

import (
	"bytes"
	"compress/bzip2"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	dbzip2 "github.com/dsnet/compress/bzip2"

	"github.com/wogdump/wogdump/internal/config"
	werrors "github.com/wogdump/wogdump/internal/errors"
	"github.com/wogdump/wogdump/internal/fetch"
	logger "github.com/wogdump/wogdump/internal/logging"
)

// encodeReply builds a service response: 4-byte little-endian length
// prefix followed by the bzip2 compressed reply string.
func encodeReply(t *testing.T, reply string) []byte {
	t.Helper()

	var buf bytes.Buffer
	w, err := dbzip2.NewWriter(&buf, nil)
	if err != nil {
		t.Fatalf("Failed to create compressor: %v", err)
	}
	if _, err := w.Write([]byte(reply)); err != nil {
		t.Fatalf("Failed to compress reply: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Failed to finish compressing: %v", err)
	}

	out := make([]byte, 4, 4+buf.Len())
	binary.LittleEndian.PutUint32(out, uint32(buf.Len()))
	return append(out, buf.Bytes()...)
}

// decodeRequest unwraps a client request the way the service would.
func decodeRequest(t *testing.T, raw []byte) string {
	t.Helper()

	if len(raw) < 4 {
		t.Fatalf("Request too short: %d bytes", len(raw))
	}
	declared := binary.LittleEndian.Uint32(raw[:4])
	if int(declared) != len(raw)-4 {
		t.Errorf("Length prefix %d does not match payload %d", declared, len(raw)-4)
	}
	body, err := io.ReadAll(bzip2.NewReader(bytes.NewReader(raw[4:])))
	if err != nil {
		t.Fatalf("Failed to decompress request: %v", err)
	}
	return string(body)
}

func newTestClient(url string) *ServiceClient {
	cfg := config.Default()
	cfg.KeyServiceURL = url
	cfg.RetryMax = 0
	cfg.RetryWaitMin = config.Duration{Duration: time.Millisecond}
	cfg.RetryWaitMax = config.Duration{Duration: 10 * time.Millisecond}
	return NewServiceClient(cfg, fetch.NewRetryClient(cfg, logger.Logger{}), logger.Logger{})
}

func TestFetchKey_RoundTrip(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("Expected PUT, got %s", r.Method)
		}
		if r.Header.Get("X-Unity-Version") == "" {
			t.Errorf("Expected the Unity version header")
		}
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("Failed to read request: %v", err)
		}
		query = decodeRequest(t, raw)
		if _, err := w.Write(encodeReply(t, "result=0&sync=basekey123&details=1")); err != nil {
			t.Errorf("Failed to write reply: %v", err)
		}
	}))
	defer srv.Close()

	key, err := newTestClient(srv.URL).FetchKey(context.Background(), "ak_47")
	if err != nil {
		t.Fatalf("FetchKey failed: %v", err)
	}
	if key != "basekey123" {
		t.Errorf("Expected basekey123, got %q", key)
	}

	for _, want := range []string{"query=3", "model=ak_47", "need_details=1", "dev="} {
		if !strings.Contains(query, want) {
			t.Errorf("Query missing %q: %s", want, query)
		}
	}
}

func TestFetchKey_KeyStaysEscaped(t *testing.T) {
	// Keys are opaque tokens; percent sequences must come through
	// byte for byte.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write(encodeReply(t, "result=0&sync=a%2Bb%3Dc")); err != nil {
			t.Errorf("Failed to write reply: %v", err)
		}
	}))
	defer srv.Close()

	key, err := newTestClient(srv.URL).FetchKey(context.Background(), "ak_47")
	if err != nil {
		t.Fatalf("FetchKey failed: %v", err)
	}
	if key != "a%2Bb%3Dc" {
		t.Errorf("Key was mangled: %q", key)
	}
}

func TestFetchKey_ResultCodes(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		expected error
	}{
		{"auth rejected", "result=100&reason=session", werrors.ErrKeyServiceAuth},
		{"service error", "result=1000", werrors.ErrKeyServiceStatus},
		{"missing sync key", "result=0&details=1", werrors.ErrTransientNetwork},
		{"unknown result", "result=42", werrors.ErrTransientNetwork},
		{"no result field", "details=1", werrors.ErrTransientNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if _, err := w.Write(encodeReply(t, tt.reply)); err != nil {
					t.Errorf("Failed to write reply: %v", err)
				}
			}))
			defer srv.Close()

			_, err := newTestClient(srv.URL).FetchKey(context.Background(), "ak_47")
			if !errors.Is(err, tt.expected) {
				t.Errorf("Expected %v, got %v", tt.expected, err)
			}
		})
	}
}

func TestFetchKey_ShortResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte{0x01, 0x02}); err != nil {
			t.Errorf("Failed to write reply: %v", err)
		}
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchKey(context.Background(), "ak_47")
	if !errors.Is(err, werrors.ErrTransientNetwork) {
		t.Errorf("Expected ErrTransientNetwork, got %v", err)
	}
}

func TestFetchKey_UndecodableResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte{0x04, 0x00, 0x00, 0x00, 'j', 'u', 'n', 'k'}); err != nil {
			t.Errorf("Failed to write reply: %v", err)
		}
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchKey(context.Background(), "ak_47")
	if !errors.Is(err, werrors.ErrTransientNetwork) {
		t.Errorf("Expected ErrTransientNetwork, got %v", err)
	}
}

func TestFetchKey_HTTPStatusClassification(t *testing.T) {
	forbidden := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusForbidden)
	}))
	defer forbidden.Close()

	_, err := newTestClient(forbidden.URL).FetchKey(context.Background(), "ak_47")
	if !errors.Is(err, werrors.ErrPermanentNetwork) {
		t.Errorf("Expected ErrPermanentNetwork for 403, got %v", err)
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer down.Close()

	_, err = newTestClient(down.URL).FetchKey(context.Background(), "ak_47")
	if !errors.Is(err, werrors.ErrTransientNetwork) {
		t.Errorf("Expected ErrTransientNetwork for 503, got %v", err)
	}
}

func TestFetchKey_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(srv.URL).FetchKey(ctx, "ak_47")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if errors.Is(err, werrors.ErrTransientNetwork) {
		t.Errorf("Cancellation must not be classified as a network failure")
	}
}
