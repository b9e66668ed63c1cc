package backupapi

import (
	"errors"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizflycloud/edna/pkg/models"
)

var (
	client     *Client
	mux        *http.ServeMux
	testServer *httptest.Server
)

func setUp() {
	mux = http.NewServeMux()
	testServer = httptest.NewServer(mux)

	client, _ = NewClient()
	serverURL, _ := url.Parse(testServer.URL)
	client.ServerURL = serverURL
}

func tearDown() {
	testServer.Close()
}

func TestClientOptions(t *testing.T) {
	tests := []struct {
		name       string
		opt        ClientOption
		wantErr    bool
		assertFunc func(c *Client) bool
	}{
		{"valid http client", WithHTTPClient(http.DefaultClient), false, func(c *Client) bool { return c.client == http.DefaultClient }},
		{"nil http client", WithHTTPClient(nil), true, nil},
		{"valid server url", WithServerURL("https://foo.bar/edna"), false, func(c *Client) bool { return c.ServerURL.Host == "foo.bar" && c.ServerURL.Path == "/edna" }},
		{"invalid server url", WithServerURL("https://:foo.bar/edna"), true, nil},
		{"token", WithToken("tok"), false, func(c *Client) bool { return c.Token() == "tok" }},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c, err := NewClient(tc.opt)
			requireFunc := require.NoError
			if tc.wantErr {
				requireFunc = require.Error
			}
			requireFunc(t, err)
			if tc.assertFunc != nil {
				assert.True(t, tc.assertFunc(c))
			}
		})
	}
}

func TestDo(t *testing.T) {
	setUp()
	defer tearDown()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.True(t, strings.HasPrefix(r.Header.Get("User-Agent"), "edna-client/"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("Date"))
		_, _ = w.Write([]byte("foo"))
	})

	client.token = "tok"
	req, err := client.NewRequest("GET", "/", nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "foo", string(body))
}

func TestURLWithBasePath(t *testing.T) {
	c, err := NewClient(WithServerURL("https://foo.bar/edna/"))
	require.NoError(t, err)
	u, err := c.urlStringFromRelPath(runPath + "?async=true")
	require.NoError(t, err)
	assert.Equal(t, "https://foo.bar/edna/api/backup/run?async=true", u)
}

func TestCheckResponse(t *testing.T) {
	setUp()
	defer tearDown()

	mux.HandleFunc("/conflict", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"detail":"a backup run is already in progress","kind":"AlreadyRunning"}`))
	})
	mux.HandleFunc("/plain", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	req, _ := client.NewRequest(http.MethodPost, "/conflict", nil)
	resp, err := client.Do(req)
	require.NoError(t, err)
	err = checkResponse(resp)
	resp.Body.Close()
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrAlreadyRunning))
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)

	req, _ = client.NewRequest(http.MethodGet, "/plain", nil)
	resp, err = client.Do(req)
	require.NoError(t, err)
	err = checkResponse(resp)
	resp.Body.Close()
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "boom\n", apiErr.Detail)
	assert.False(t, errors.Is(err, models.ErrAlreadyRunning))
}
