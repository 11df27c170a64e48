package catalog

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/xerrors"
)

// ErrNotFound is returned by FetchRemote when the server answers 404, the
// same distinguishable-not-found shape the teacher's internal/repo package
// used so callers could fall back to a default branch or mirror.
type ErrNotFound struct {
	URL string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s: HTTP status 404", e.URL)
}

var httpClient = &http.Client{Transport: &http.Transport{
	MaxIdleConnsPerHost: 10,
}}

// FetchRemote downloads url (a gzip-compressed tarball of metadata.yaml
// files, the shape spec.md §4.4 describes for a "catalog mirror URL"),
// honoring a local cache via If-Modified-Since. Grounded on the teacher's
// internal/repo.Reader: same request-with-conditional-GET-then-tee-to-cache
// shape, generalized from fetching one named file to fetching one archive.
func FetchRemote(ctx context.Context, url string, cacheFile string) (io.ReadCloser, error) {
	var ifModifiedSince time.Time
	if cacheFile != "" {
		if st, err := os.Stat(cacheFile); err == nil {
			ifModifiedSince = st.ModTime()
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if !ifModifiedSince.IsZero() {
		req.Header.Set("If-Modified-Since", ifModifiedSince.Format(http.TimeFormat))
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if cacheFile != "" && resp.StatusCode == http.StatusNotModified {
		resp.Body.Close()
		return os.Open(cacheFile)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, &ErrNotFound{URL: url}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, xerrors.Errorf("%s: HTTP status %s", url, resp.Status)
	}

	var cacheWriter *os.File
	if cacheFile != "" {
		if err := os.MkdirAll(filepath.Dir(cacheFile), 0755); err == nil {
			cacheWriter, _ = os.Create(cacheFile)
		}
	}
	var body io.Reader = resp.Body
	if cacheWriter != nil {
		body = io.TeeReader(resp.Body, cacheWriter)
	}
	return &remoteBody{body: body, resp: resp.Body, cache: cacheWriter}, nil
}

type remoteBody struct {
	body  io.Reader
	resp  io.ReadCloser
	cache *os.File
}

func (r *remoteBody) Read(p []byte) (int, error) { return r.body.Read(p) }

func (r *remoteBody) Close() error {
	err := r.resp.Close()
	if r.cache != nil {
		if cerr := r.cache.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// LoadFromURL fetches a gzip-compressed tar archive of metadata.yaml files
// from url, caching the raw archive under cacheDir (ignored if empty), and
// indexes it the same way Load indexes a local directory tree (spec.md
// §4.4 "a catalog root may be a local path or a remote mirror URL").
func LoadFromURL(ctx context.Context, url string, cacheDir string) (*Catalog, error) {
	var cacheFile string
	if cacheDir != "" {
		cacheFile = filepath.Join(cacheDir, sanitizeCacheName(url)+".tar.gz")
	}
	rc, err := FetchRemote(ctx, url, cacheFile)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	gz, err := gzip.NewReader(rc)
	if err != nil {
		return nil, xerrors.Errorf("%s: not gzip-compressed: %w", url, err)
	}
	defer gz.Close()

	c := &Catalog{byShortID: make(map[string]Entry)}
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, xerrors.Errorf("%s: %w", url, err)
		}
		if hdr.Typeflag != tar.TypeReg || filepath.Base(hdr.Name) != "metadata.yaml" {
			continue
		}
		buf, err := io.ReadAll(tr)
		if err != nil {
			return nil, xerrors.Errorf("%s: reading %s: %w", url, hdr.Name, err)
		}
		e, err := decodeEntry(buf, hdr.Name)
		if err != nil {
			return nil, err
		}
		if e == nil {
			continue
		}
		c.byShortID[e.ShortID] = *e
		c.all = append(c.all, *e)
	}
	return c, nil
}

// sanitizeCacheName turns a catalog URL into a filesystem-safe cache file
// name, mirroring the teacher's repo.PkgPath-to-cache-path slash
// replacement in internal/repo.cacheFn.
func sanitizeCacheName(url string) string {
	return strings.ReplaceAll(strings.ReplaceAll(url, "://", "_"), "/", "_")
}
