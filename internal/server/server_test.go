package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willchan-117/human-verifier/internal/config"
	"github.com/willchan-117/human-verifier/internal/report"
	"github.com/willchan-117/human-verifier/internal/session"
	"github.com/willchan-117/human-verifier/internal/verifier"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	v, err := verifier.New()
	require.NoError(t, err)
	return New(config.ServerConfig{Addr: "127.0.0.1:0"}, v, nil)
}

func exportedPackage(t *testing.T, docHash string) *report.Package {
	t.Helper()
	start := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	s := session.New(start, 20)
	require.NoError(t, s.End(start.Add(3*time.Minute), 80, 360))

	archive := &session.Archive{}
	require.NoError(t, archive.Append(s))

	token, err := report.GenerateToken()
	require.NoError(t, err)
	pkg, err := report.NewBuilder().Build(archive, token, docHash)
	require.NoError(t, err)
	return pkg
}

func postVerify(t *testing.T, s *Server, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/verify", &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestVerifyEndpointPass(t *testing.T) {
	s := newTestServer(t)
	docHash := strings.Repeat("aa", 32)
	pkg := exportedPackage(t, docHash)

	raw, err := json.Marshal(pkg)
	require.NoError(t, err)

	w := postVerify(t, s, verifier.Request{
		Package:      raw,
		Token:        pkg.Token,
		DocumentHash: docHash,
	})

	require.Equal(t, http.StatusOK, w.Code)
	var res verifier.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Len(t, res.Details, 3)
}

func TestVerifyEndpointTokenMismatch(t *testing.T) {
	s := newTestServer(t)
	docHash := strings.Repeat("bb", 32)
	pkg := exportedPackage(t, docHash)

	raw, err := json.Marshal(pkg)
	require.NoError(t, err)

	w := postVerify(t, s, verifier.Request{
		Package:      raw,
		Token:        "HV-00000000",
		DocumentHash: docHash,
	})

	// a failed check is still a well-formed verification
	require.Equal(t, http.StatusOK, w.Code)
	var res verifier.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.False(t, res.Success)
}

func TestVerifyEndpointMalformedBody(t *testing.T) {
	s := newTestServer(t)
	w := postVerify(t, s, `{"package": not json`)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var res verifier.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "Verification error")
}

func TestVerifyEndpointSchemaRejection(t *testing.T) {
	s := newTestServer(t)
	w := postVerify(t, s, verifier.Request{
		Package:      json.RawMessage(`{"token":"not-a-token","hash":"short","report":{}}`),
		Token:        "HV-00000000",
		DocumentHash: strings.Repeat("cc", 32),
	})

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var res verifier.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.False(t, res.Success)
}

func TestVerifyEndpointMissingFields(t *testing.T) {
	s := newTestServer(t)
	docHash := strings.Repeat("dd", 32)
	pkg := exportedPackage(t, docHash)
	raw, err := json.Marshal(pkg)
	require.NoError(t, err)

	cases := []struct {
		name    string
		req     verifier.Request
		missing string
	}{
		{"no package", verifier.Request{Token: pkg.Token, DocumentHash: docHash}, "package"},
		{"no token", verifier.Request{Package: raw, DocumentHash: docHash}, "token"},
		{"no document hash", verifier.Request{Package: raw, Token: pkg.Token}, "documentHash"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := postVerify(t, s, tc.req)

			require.Equal(t, http.StatusBadRequest, w.Code)
			var res verifier.Result
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
			assert.False(t, res.Success)
			assert.Contains(t, res.Message, tc.missing)
		})
	}
}
