//go:build integration

// Package testutils provides shared test infrastructure for integration tests.
package testutils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// TestFile defines a test file with size and data.
type TestFile struct {
	Name string
	Size int64
	Data []byte
}

// GenerateTestData generates test data of the given size.
// For files <= 10MB, uses deterministic pattern. For larger files, uses random data.
func GenerateTestData(t *testing.T, size int64) []byte {
	t.Helper()
	data := make([]byte, size)
	if size <= 10*1024*1024 {
		for i := range data {
			data[i] = byte(i % 256)
		}
	} else {
		if _, err := rand.Read(data); err != nil {
			t.Fatalf("generate random data: %v", err)
		}
	}
	return data
}

// SHA256Hex returns the hex-encoded SHA256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// StartFileServer starts an HTTP server that serves test files with range
// request support.
func StartFileServer(t *testing.T, files []TestFile) *httptest.Server {
	t.Helper()

	fileMap := make(map[string][]byte)
	for _, f := range files {
		fileMap["/"+f.Name] = f.Data
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := fileMap[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}

		size := int64(len(data))

		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
			w.Header().Set("Accept-Ranges", "bytes")
			return
		}

		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "" {
			w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
			w.Write(data)
			return
		}

		// Parse range header: bytes=start-end
		rangeHeader = strings.TrimPrefix(rangeHeader, "bytes=")
		parts := strings.Split(rangeHeader, "-")
		start, _ := strconv.ParseInt(parts[0], 10, 64)
		end := size - 1
		if parts[1] != "" {
			end, _ = strconv.ParseInt(parts[1], 10, 64)
		}
		if start >= size {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		if end >= size {
			end = size - 1
		}

		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
		w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(data[start : end+1])
	}))
}

// StartCatalogServer starts an HTTP server that mimics the model catalog
// API for the given files, pointing download URLs at the file server.
// Model and version IDs are assigned sequentially from 1 in file order.
func StartCatalogServer(t *testing.T, fileServerURL string, files []TestFile) *httptest.Server {
	t.Helper()

	type fileJSON struct {
		Name        string  `json:"name"`
		SizeKB      float64 `json:"sizeKB"`
		DownloadURL string  `json:"downloadUrl"`
		Primary     bool    `json:"primary"`
		Hashes      struct {
			SHA256 string `json:"SHA256"`
		} `json:"hashes"`
	}
	type versionJSON struct {
		ID    int    `json:"id"`
		Name  string `json:"name"`
		Model struct {
			Name string `json:"name"`
			Type string `json:"type"`
		} `json:"model"`
		Files []fileJSON `json:"files"`
	}
	type modelJSON struct {
		ID            int           `json:"id"`
		Name          string        `json:"name"`
		ModelVersions []versionJSON `json:"modelVersions"`
	}

	versions := make(map[int]versionJSON)
	models := make(map[int]modelJSON)
	for i, f := range files {
		id := i + 1
		var fj fileJSON
		fj.Name = f.Name
		fj.SizeKB = float64(len(f.Data)) / 1024
		fj.DownloadURL = fileServerURL + "/" + f.Name
		fj.Primary = true
		fj.Hashes.SHA256 = SHA256Hex(f.Data)

		v := versionJSON{
			ID:    id,
			Name:  fmt.Sprintf("v%d", id),
			Files: []fileJSON{fj},
		}
		v.Model.Name = f.Name
		v.Model.Type = "Checkpoint"
		versions[id] = v
		models[id] = modelJSON{
			ID:            id,
			Name:          f.Name,
			ModelVersions: []versionJSON{v},
		}
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		write := func(v any) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(v)
		}
		switch {
		case strings.HasPrefix(r.URL.Path, "/model-versions/"):
			id, _ := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/model-versions/"))
			v, ok := versions[id]
			if !ok {
				http.NotFound(w, r)
				return
			}
			write(v)
		case strings.HasPrefix(r.URL.Path, "/models/"):
			id, _ := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/models/"))
			m, ok := models[id]
			if !ok {
				http.NotFound(w, r)
				return
			}
			write(m)
		default:
			http.NotFound(w, r)
		}
	}))
}

// StartFlakyServer starts an HTTP server that answers the first failures
// requests with 429 and serves data afterwards.
func StartFlakyServer(t *testing.T, data []byte, failures int) *httptest.Server {
	t.Helper()

	var mu sync.Mutex
	var requests int
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		n := requests
		mu.Unlock()
		if n <= failures {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
	}))
}
