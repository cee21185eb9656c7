package signals

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"

	"github.com/golang/glog"
	"golang.org/x/net/context/ctxhttp"
)

// NewHttpFetcher returns a Fetcher which uses the Client to pull decision
// logic and trusted signals from ad tech endpoints.
func NewHttpFetcher(client *http.Client) *HttpFetcher {
	return &HttpFetcher{client: client}
}

type HttpFetcher struct {
	client *http.Client
}

// Fetch GETs the URI and returns the body. Non-2xx responses are errors; the
// caller decides whether that is fatal for its stage.
func (fetcher *HttpFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	httpReq, err := http.NewRequest("GET", uri, nil)
	if err != nil {
		return nil, fmt.Errorf(`Invalid fetch URI "%s": %v`, uri, err)
	}
	httpResp, err := ctxhttp.Do(ctx, fetcher.client, httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf(`fetch of "%s" returned %d`, uri, httpResp.StatusCode)
	}
	body, err := ioutil.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// FetchAndForget fires a GET and only logs the outcome. Reporting-URI
// dispatch is best effort: the response body is discarded and errors never
// propagate to the caller.
func (fetcher *HttpFetcher) FetchAndForget(ctx context.Context, uri string) {
	if _, err := fetcher.Fetch(ctx, uri); err != nil {
		glog.Errorf("best-effort report to %s failed: %v", uri, err)
		return
	}
	glog.Infof("reported to %s", uri)
}

// TrustedScoringSignalsURI appends the render URI paths of all candidate ads
// to the seller's trusted signals endpoint:
//
// GET {endpoint}?renderUris=path1,path2,...
//
// Paths are URL encoded individually and joined with commas, so the endpoint
// can key its response on each creative.
func TrustedScoringSignalsURI(endpoint string, renderURIs []string) (string, error) {
	if _, err := url.Parse(endpoint); err != nil {
		return "", fmt.Errorf(`Invalid trusted scoring signals endpoint "%s": %v`, endpoint, err)
	}
	urlPrefix := endpoint
	if strings.Contains(endpoint, "?") {
		urlPrefix = urlPrefix + "&"
	} else {
		urlPrefix = urlPrefix + "?"
	}

	paths := make([]string, 0, len(renderURIs))
	for _, renderURI := range renderURIs {
		parsed, err := url.Parse(renderURI)
		if err != nil {
			return "", fmt.Errorf(`Invalid render URI "%s": %v`, renderURI, err)
		}
		paths = append(paths, url.QueryEscape(parsed.Path))
	}
	return urlPrefix + "renderUris=" + strings.Join(paths, ","), nil
}
