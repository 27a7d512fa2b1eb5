package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"

	"github.com/potato-weijie-li/chiral-network-sub000/internal/errs"
)

// HTTPFetcher issues a byte-range GET against a mirror URL for one
// chunk and verifies the result hashes to the expected value (spec
// §4.4's HTTP fallback).
type HTTPFetcher struct {
	Client *http.Client
}

// NewHTTPFetcher builds an HTTPFetcher with the default connect/read
// timeout budget (spec §4.4).
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{Client: &http.Client{Timeout: DefaultHTTPReadTimeout}}
}

// Fetch issues a Range request for [offset, offset+size) against url
// and verifies the response hashes to wantHash.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string, offset int64, size int, wantHash string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultHTTPConnectTimeout+DefaultHTTPReadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.Wrap(err, "build http mirror request")
	}
	if size > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+int64(size)-1))
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, errs.Wrapf(errs.KindPeerUnreachable, err, "fetch %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errs.New(errs.KindNotFound, "mirror returned 404 for "+url)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return nil, errs.New(errs.KindPeerUnreachable, fmt.Sprintf("mirror %s returned status %d", url, resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(err, "read http mirror body")
	}

	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != wantHash {
		return nil, errs.New(errs.KindIntegrityMismatch, "http mirror chunk failed hash verification")
	}
	return data, nil
}
