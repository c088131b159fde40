package cmd

import (
	"bytes"
	"compress/bzip2"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	dbzip2 "github.com/dsnet/compress/bzip2"

	"github.com/wogdump/wogdump/internal/config"
	"github.com/wogdump/wogdump/internal/crypt"
	logger "github.com/wogdump/wogdump/internal/logging"
	"github.com/wogdump/wogdump/internal/store"
)

// fakeGameServers hosts an asset data server and a key service the CLI
// is pointed at through a wogdump.toml in the base directory.
type fakeGameServers struct {
	data *httptest.Server
	keys *httptest.Server

	mu        sync.Mutex
	files     map[string]string // served bundle content by asset name
	assetKeys map[string]string // key service replies by asset name
	failData  bool
	heads     int
	gets      int
	keyCalls  int
}

// startGameServers launches both fakes and writes the config file wiring
// the CLI to them. Retries are disabled so failure tests stay fast.
// Call after setupTestEnvironment; the config lands in the global baseDir.
func startGameServers(t *testing.T) *fakeGameServers {
	t.Helper()

	s := &fakeGameServers{
		files:     map[string]string{},
		assetKeys: map[string]string{},
	}
	s.data = httptest.NewServer(http.HandlerFunc(s.handleData))
	s.keys = httptest.NewServer(http.HandlerFunc(s.handleKeys))
	t.Cleanup(s.data.Close)
	t.Cleanup(s.keys.Close)

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		t.Fatalf("Failed to create base dir: %v", err)
	}
	content := fmt.Sprintf("data_base_url = %q\nkey_service_url = %q\nretry_max = 0\nretry_wait_min = \"1ms\"\nretry_wait_max = \"10ms\"\n",
		s.data.URL, s.keys.URL)
	if err := os.WriteFile(filepath.Join(baseDir, "wogdump.toml"), []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return s
}

// serveListing installs the catalog listing under the stock listing
// asset name.
func (s *fakeGameServers) serveListing(listing string) {
	s.serveBundle("spider/spider_gen", listing)
}

func (s *fakeGameServers) serveBundle(name, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[name] = content
}

func (s *fakeGameServers) serveKey(name, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assetKeys[name] = key
}

func (s *fakeGameServers) failDataRequests(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failData = fail
}

func (s *fakeGameServers) dataCounts() (heads, gets int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heads, s.gets
}

func (s *fakeGameServers) keyRequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keyCalls
}

func (s *fakeGameServers) handleData(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if r.Method == http.MethodHead {
		s.heads++
	} else {
		s.gets++
	}
	fail := s.failData
	name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/"), ".unity3d")
	body, ok := s.files[name]
	s.mu.Unlock()

	if fail {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	if r.Method == http.MethodHead {
		return
	}
	_, _ = io.WriteString(w, body)
}

// handleKeys decodes the length-prefixed bzip2 request, extracts the
// model name, and answers result=0 with the configured key, or
// result=1000 for unknown assets.
func (s *fakeGameServers) handleKeys(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil || len(raw) < 4 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	query, err := io.ReadAll(bzip2.NewReader(bytes.NewReader(raw[4:])))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	model := ""
	for _, segment := range strings.Split(string(query), "&") {
		if rest, ok := strings.CutPrefix(segment, "model="); ok {
			model = rest
		}
	}

	s.mu.Lock()
	s.keyCalls++
	key, ok := s.assetKeys[model]
	s.mu.Unlock()

	reply := "result=0&sync=" + key
	if !ok {
		reply = "result=1000"
	}
	_, _ = w.Write(encodeKeyReply(reply))
}

// encodeKeyReply compresses the reply and prepends the 4-byte
// little-endian length prefix the client expects.
func encodeKeyReply(reply string) []byte {
	var compressed bytes.Buffer
	w, err := dbzip2.NewWriter(&compressed, nil)
	if err != nil {
		return nil
	}
	_, _ = w.Write([]byte(reply))
	_ = w.Close()

	out := make([]byte, 4, 4+compressed.Len())
	binary.LittleEndian.PutUint32(out, uint32(compressed.Len()))
	return append(out, compressed.Bytes()...)
}

// seedCatalog commits a cache document carrying the given catalog names
// and keys, so commands can run without a prior download-weapons.
func seedCatalog(t *testing.T, names []string, keys map[string]string) {
	t.Helper()

	cfg := config.Default()
	cfg.BaseDir = baseDir
	st, err := store.Open(cfg, logger.Logger{})
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	doc := store.NewDocument(time.Now().UTC())
	doc.Catalog = store.Catalog{Names: names, Source: "spider/spider_gen"}
	for name, key := range keys {
		doc.Keys[name] = key
	}
	if err := st.Replace(doc); err != nil {
		t.Fatalf("Failed to seed catalog: %v", err)
	}
}

// loadDocument reads the cache document back for assertions.
func loadDocument(t *testing.T) *store.Document {
	t.Helper()

	cfg := config.Default()
	cfg.BaseDir = baseDir
	st, err := store.Open(cfg, logger.Logger{})
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	doc, err := st.Load()
	if err != nil {
		t.Fatalf("Failed to load cache document: %v", err)
	}
	return doc
}

// encryptBundle XOR-encrypts plaintext with the key derived from base,
// producing what the data server stores for that asset.
func encryptBundle(plaintext, base string) string {
	key := []byte(crypt.DeriveKey(base))
	out := make([]byte, len(plaintext))
	for i := range out {
		out[i] = plaintext[i] ^ key[i%len(key)]
	}
	return string(out)
}
