package source

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
)

// StatusError carries an unexpected HTTP status. 5xx codes classify as
// transient for retry purposes.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d from %s", e.Code, e.URL)
}

// HTTPAdapter fetches single resources over HTTP(S). Clients are pooled per
// (host, credential identity) so keep-alive connections are reused within an
// operation.
type HTTPAdapter struct {
	mu   sync.Mutex
	pool map[string]*http.Client
}

// NewHTTPAdapter creates the HTTP(S) adapter.
func NewHTTPAdapter() *HTTPAdapter {
	return &HTTPAdapter{pool: make(map[string]*http.Client)}
}

func (a *HTTPAdapter) Scheme() Type { return TypeHTTP }

func (a *HTTPAdapter) client(spec Spec, host string) *http.Client {
	key := host + "|" + spec.Credentials.Identity()
	if spec.InsecureTLS {
		key += "|insecure"
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.pool[key]; ok {
		return c
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if spec.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	c := &http.Client{
		Transport: transport,
		Timeout:   spec.timeout(),
	}
	a.pool[key] = c
	return c
}

func (a *HTTPAdapter) newRequest(ctx context.Context, method string, spec Spec, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("malformed http location %q: %w", rawURL, err)
	}
	creds := spec.Credentials
	switch {
	case creds.Token != "":
		req.Header.Set("Authorization", "Bearer "+creds.Token)
	case creds.Header != "":
		req.Header.Set(creds.Header, creds.HeaderValue)
	case creds.Username != "":
		req.SetBasicAuth(creds.Username, creds.Password)
	}
	return req, nil
}

func (a *HTTPAdapter) do(ctx context.Context, method string, spec Spec, rawURL string, header http.Header) (*http.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("malformed http location %q", rawURL)
	}
	req, err := a.newRequest(ctx, method, spec, rawURL)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := a.client(spec, u.Host).Do(req)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrAuth, rawURL)
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rawURL)
	}
	return resp, nil
}

func (a *HTTPAdapter) Validate(ctx context.Context, spec Spec) ValidationResult {
	u, err := url.Parse(spec.Location)
	if err != nil || u.Host == "" {
		return invalid("malformed http location %q", spec.Location)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return invalid("location %q is not an http(s) url", spec.Location)
	}

	resp, err := a.do(ctx, http.MethodHead, spec, spec.Location, nil)
	if err != nil {
		return invalid("%v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusMethodNotAllowed {
		return ValidationResult{OK: true, Warnings: []string{"server rejects HEAD; size will be unknown until download"}}
	}
	if resp.StatusCode >= 400 {
		return invalid("http %d from %s", resp.StatusCode, spec.Location)
	}
	return ValidationResult{OK: true}
}

// List returns the single resource the location names. HTTP sources never
// enumerate directories.
func (a *HTTPAdapter) List(ctx context.Context, spec Spec, _ bool, exclude []string) ([]FileInfo, error) {
	fi, err := a.Stat(ctx, spec, spec.Location)
	if err != nil {
		return nil, err
	}
	if Excluded(fi.Name, exclude) {
		return nil, nil
	}
	return []FileInfo{*fi}, nil
}

func (a *HTTPAdapter) Stat(ctx context.Context, spec Spec, rawURL string) (*FileInfo, error) {
	resp, err := a.do(ctx, http.MethodHead, spec, rawURL, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	fi := &FileInfo{
		Path:     rawURL,
		Name:     httpFilename(resp, rawURL),
		Size:     -1,
		MimeType: strings.TrimSpace(strings.SplitN(resp.Header.Get("Content-Type"), ";", 2)[0]),
	}
	if resp.StatusCode < 400 && resp.ContentLength >= 0 {
		fi.Size = resp.ContentLength
	}
	return fi, nil
}

func (a *HTTPAdapter) Fetch(ctx context.Context, spec Spec, rawURL, localPath string, progress ProgressFunc) error {
	resp, err := a.do(ctx, http.MethodGet, spec, rawURL, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &StatusError{Code: resp.StatusCode, URL: rawURL}
	}
	total := int64(0)
	if resp.ContentLength > 0 {
		total = resp.ContentLength
	}
	return fetchToFile(ctx, localPath, resp.Body, 0, total, progress)
}

// Resume requests the byte range from offset onward. A 206 appends to the
// local file; a 416 means the file is already complete; a plain 200 means
// the server ignored the range, so the body replaces the local file.
func (a *HTTPAdapter) Resume(ctx context.Context, spec Spec, rawURL, localPath string, offset int64, progress ProgressFunc) error {
	header := http.Header{}
	header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	resp, err := a.do(ctx, http.MethodGet, spec, rawURL, header)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		total := int64(0)
		if t := totalFromContentRange(resp.Header.Get("Content-Range")); t > 0 {
			total = t
		} else if resp.ContentLength > 0 {
			total = offset + resp.ContentLength
		}
		return fetchToFile(ctx, localPath, resp.Body, offset, total, progress)
	case http.StatusRequestedRangeNotSatisfiable:
		return ErrAlreadyComplete
	case http.StatusOK:
		total := int64(0)
		if resp.ContentLength > 0 {
			total = resp.ContentLength
		}
		return fetchToFile(ctx, localPath, resp.Body, 0, total, progress)
	default:
		return &StatusError{Code: resp.StatusCode, URL: rawURL}
	}
}

func (a *HTTPAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, c := range a.pool {
		if t, ok := c.Transport.(*http.Transport); ok {
			t.CloseIdleConnections()
		}
		delete(a.pool, key)
	}
	return nil
}

// httpFilename picks a local filename: Content-Disposition, then the URL
// path tail, then a synthesized download_<host>.
func httpFilename(resp *http.Response, rawURL string) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := path.Base(params["filename"]); name != "" && name != "." && name != "/" {
				return name
			}
		}
	}
	u, err := url.Parse(rawURL)
	if err == nil {
		if tail := path.Base(u.Path); tail != "" && tail != "." && tail != "/" {
			return tail
		}
	}
	host := "unknown"
	if err == nil && u.Hostname() != "" {
		host = strings.ReplaceAll(u.Hostname(), ".", "_")
	}
	return "download_" + host
}

// totalFromContentRange parses "bytes start-end/total" and returns total, or
// 0 when absent or unknown ("*").
func totalFromContentRange(value string) int64 {
	_, after, found := strings.Cut(value, "/")
	if !found || after == "*" {
		return 0
	}
	total, err := strconv.ParseInt(strings.TrimSpace(after), 10, 64)
	if err != nil {
		return 0
	}
	return total
}
