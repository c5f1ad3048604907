package api_test

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maritimelab/seatrust/api"
	"github.com/maritimelab/seatrust/directory"
	"github.com/maritimelab/seatrust/keys"
	"github.com/maritimelab/seatrust/lifecycle"
	"github.com/maritimelab/seatrust/registry"
	"github.com/maritimelab/seatrust/signature"
	"github.com/maritimelab/seatrust/storage/memory"
	"github.com/maritimelab/seatrust/truststore"
)

// stubRegistry backs the API tests with an in-process issuing CA and a
// switch to simulate the registry being unreachable.
type stubRegistry struct {
	caKey      *ecdsa.PrivateKey
	caCert     *x509.Certificate
	nextSerial int64
	down       bool
	summaries  []registry.CertificateSummary
}

func newStubRegistry(t *testing.T) *stubRegistry {
	t.Helper()
	kp, err := keys.GenerateKeyPair("")
	require.NoError(t, err)
	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test MIR CA"},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, kp.Public, kp.Private)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return &stubRegistry{caKey: kp.Private, caCert: cert, nextSerial: 10}
}

func (r *stubRegistry) unavailable(op string) error {
	return &registry.ConnectivityError{Op: op, Err: context.DeadlineExceeded}
}

func (r *stubRegistry) RegisterEntity(_ context.Context, e *directory.Entity) (*registry.Record, error) {
	if r.down {
		return nil, r.unavailable("register entity")
	}
	return &registry.Record{MRN: e.MRN, Name: e.Name}, nil
}

func (r *stubRegistry) IssueCertificate(_ context.Context, _ *directory.Entity, csrPEM string) (*registry.IssuedCertificate, error) {
	if r.down {
		return nil, r.unavailable("issue certificate")
	}
	csr, err := keys.ParseCSRPEM(csrPEM)
	if err != nil {
		return nil, err
	}
	r.nextSerial++
	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: big.NewInt(r.nextSerial),
		Subject:      csr.Subject,
		NotBefore:    now.Add(-time.Minute),
		NotAfter:     now.Add(12 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, r.caCert, csr.PublicKey, r.caKey)
	if err != nil {
		return nil, err
	}
	pem := keys.EncodeCertificatePEM(der)
	return &registry.IssuedCertificate{
		PEM:            pem,
		ChainPEM:       pem,
		NotBefore:      template.NotBefore,
		NotAfter:       template.NotAfter,
		RegistryCertID: hex.EncodeToString(big.NewInt(r.nextSerial).Bytes()),
	}, nil
}

func (r *stubRegistry) RevokeCertificate(context.Context, *directory.Entity, string) error {
	if r.down {
		return r.unavailable("revoke certificate")
	}
	return nil
}

func (r *stubRegistry) ListCertificates(context.Context, *directory.Entity) ([]registry.CertificateSummary, error) {
	if r.down {
		return nil, r.unavailable("list certificates")
	}
	return r.summaries, nil
}

type testServer struct {
	srv *httptest.Server
	reg *stubRegistry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	repo := memory.NewRepository()
	dir := directory.New(repo, "urn:mrn:mcp:entity:testorg")
	reg := newStubRegistry(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	lc := lifecycle.New(repo, dir, reg, lifecycle.WithLogger(logger))

	trust, err := truststore.NewStore(reg.caCert)
	require.NoError(t, err)
	sig := signature.New(dir, lc, trust, signature.WithResolutionTTL(time.Nanosecond))

	a := api.New(dir, lc, sig, trust, api.WithLogger(logger))
	srv := httptest.NewServer(a.Router())
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, reg: reg}
}

func (ts *testServer) do(t *testing.T, method, path string, body, out any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := ts.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func (ts *testServer) createEntity(t *testing.T, req api.CreateEntityRequest) api.EntityResponse {
	t.Helper()
	var e api.EntityResponse
	resp := ts.do(t, http.MethodPost, "/entities", req, &e)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return e
}

func (ts *testServer) issueCertificate(t *testing.T, entityID string) api.CertificateResponse {
	t.Helper()
	var c api.CertificateResponse
	resp := ts.do(t, http.MethodPost, "/entities/"+entityID+"/certificates", nil, &c)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return c
}

func TestEntityCRUD(t *testing.T) {
	ts := newTestServer(t)

	e := ts.createEntity(t, api.CreateEntityRequest{Name: "Nordic Star", Type: "vessel", MMSI: "219000001"})
	assert.Equal(t, "urn:mrn:mcp:entity:testorg:vessel:nordic-star", e.MRN)
	assert.False(t, e.Registered)

	var got api.EntityResponse
	resp := ts.do(t, http.MethodGet, "/entities/"+e.ID, nil, &got)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, e.MRN, got.MRN)

	var list []api.EntityResponse
	resp = ts.do(t, http.MethodGet, "/entities", nil, &list)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, list, 1)

	name := "Nordic Star II"
	resp = ts.do(t, http.MethodPut, "/entities/"+e.ID, api.CorrectEntityRequest{Name: &name}, &got)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Nordic Star II", got.Name)
	assert.Equal(t, e.MRN, got.MRN, "correction must not re-derive the MRN")

	resp = ts.do(t, http.MethodDelete, "/entities/"+e.ID, nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/entities/"+e.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateEntity_Validation(t *testing.T) {
	ts := newTestServer(t)

	var errResp api.ErrorResponse
	resp := ts.do(t, http.MethodPost, "/entities", api.CreateEntityRequest{Name: "X", Type: "submarine"}, &errResp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, errResp.Error)

	resp = ts.do(t, http.MethodPost, "/entities", api.CreateEntityRequest{Name: "Planner", Type: "service"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	ts.createEntity(t, api.CreateEntityRequest{Name: "Nordic Star", Type: "vessel"})
	resp = ts.do(t, http.MethodPost, "/entities", api.CreateEntityRequest{Name: "nordic star", Type: "vessel"}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCertificateLifecycle(t *testing.T) {
	ts := newTestServer(t)
	e := ts.createEntity(t, api.CreateEntityRequest{Name: "Nordic Star", Type: "vessel"})

	cert := ts.issueCertificate(t, e.ID)
	assert.True(t, cert.Signable)
	assert.NotEmpty(t, cert.RegistryCertID)
	assert.Contains(t, cert.Certificate, "BEGIN CERTIFICATE")

	// Issuance registered the entity upstream.
	var got api.EntityResponse
	ts.do(t, http.MethodGet, "/entities/"+e.ID, nil, &got)
	assert.True(t, got.Registered)

	// Deleting an unrevoked certificate is refused.
	resp := ts.do(t, http.MethodDelete, "/certificates/"+cert.ID, nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var revoked api.CertificateResponse
	resp = ts.do(t, http.MethodPost, "/certificates/"+cert.ID+"/revoke", nil, &revoked)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, revoked.Revoked)

	resp = ts.do(t, http.MethodDelete, "/certificates/"+cert.ID, nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/certificates/"+cert.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCertificateResponse_NeverLeaksPrivateKey(t *testing.T) {
	ts := newTestServer(t)
	e := ts.createEntity(t, api.CreateEntityRequest{Name: "Nordic Star", Type: "vessel"})
	cert := ts.issueCertificate(t, e.ID)

	req, err := http.NewRequest(http.MethodGet, ts.srv.URL+"/certificates/"+cert.ID, nil)
	require.NoError(t, err)
	resp, err := ts.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var raw map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	for key := range raw {
		assert.NotContains(t, key, "private")
	}
}

func TestDeleteEntity_CascadeRequiresRevocation(t *testing.T) {
	ts := newTestServer(t)
	e := ts.createEntity(t, api.CreateEntityRequest{Name: "Nordic Star", Type: "vessel"})
	cert := ts.issueCertificate(t, e.ID)

	resp := ts.do(t, http.MethodDelete, "/entities/"+e.ID, nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/certificates/"+cert.ID+"/revoke", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodDelete, "/entities/"+e.ID, nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestIssueCertificate_RegistryDown(t *testing.T) {
	ts := newTestServer(t)
	e := ts.createEntity(t, api.CreateEntityRequest{Name: "Nordic Star", Type: "vessel"})

	ts.reg.down = true
	var errResp api.ErrorResponse
	resp := ts.do(t, http.MethodPost, "/entities/"+e.ID+"/certificates", nil, &errResp)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.NotEmpty(t, errResp.Error)

	var certs []api.CertificateResponse
	ts.do(t, http.MethodGet, "/entities/"+e.ID+"/certificates", nil, &certs)
	assert.Empty(t, certs)
}

func TestSignAndVerify(t *testing.T) {
	ts := newTestServer(t)
	e := ts.createEntity(t, api.CreateEntityRequest{Name: "Nordic Star", Type: "vessel", MMSI: "219000001"})
	ts.issueCertificate(t, e.ID)

	payload := []byte("position report 57.7N 11.9E")

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(api.SignRequest{
		SelectorRequest: api.SelectorRequest{MMSI: "219000001"},
		Payload:         payload,
	}))
	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+"/signatures/sign", &buf)
	require.NoError(t, err)
	resp, err := ts.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.NotEmpty(t, resp.Header.Get("X-Signature-Certificate"))
	assert.Equal(t, keys.DefaultAlgorithm, resp.Header.Get("X-Signature-Algorithm"))
	assert.NotEmpty(t, resp.Header.Get("X-Root-Thumbprint"))

	var signed api.SignResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&signed))
	assert.NotEmpty(t, signed.Signature)

	var verdict api.VerifyResponse
	r2 := ts.do(t, http.MethodPost, "/signatures/verify", api.VerifyRequest{
		SelectorRequest: api.SelectorRequest{MRN: e.MRN},
		Content:         payload,
		Signature:       signed.Signature,
	}, &verdict)
	assert.Equal(t, http.StatusOK, r2.StatusCode)
	assert.True(t, verdict.Valid)

	// Tampered content verifies false, not an error.
	r2 = ts.do(t, http.MethodPost, "/signatures/verify", api.VerifyRequest{
		SelectorRequest: api.SelectorRequest{MRN: e.MRN},
		Content:         []byte("position report 57.7N 11.8E"),
		Signature:       signed.Signature,
	}, &verdict)
	assert.Equal(t, http.StatusOK, r2.StatusCode)
	assert.False(t, verdict.Valid)
}

func TestSign_RevokedCertificate(t *testing.T) {
	ts := newTestServer(t)
	e := ts.createEntity(t, api.CreateEntityRequest{Name: "Nordic Star", Type: "vessel"})
	cert := ts.issueCertificate(t, e.ID)

	resp := ts.do(t, http.MethodPost, "/certificates/"+cert.ID+"/revoke", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/signatures/sign", api.SignRequest{
		CertificateID: cert.ID,
		Payload:       []byte("x"),
	}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSign_NoActiveCertificate(t *testing.T) {
	ts := newTestServer(t)
	e := ts.createEntity(t, api.CreateEntityRequest{Name: "Nordic Star", Type: "vessel"})

	resp := ts.do(t, http.MethodPost, "/signatures/sign", api.SignRequest{
		SelectorRequest: api.SelectorRequest{EntityID: e.ID},
		Payload:         []byte("x"),
	}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSynchronize(t *testing.T) {
	ts := newTestServer(t)
	e := ts.createEntity(t, api.CreateEntityRequest{Name: "Nordic Star", Type: "vessel"})
	cert := ts.issueCertificate(t, e.ID)

	ts.reg.summaries = []registry.CertificateSummary{
		{ID: cert.RegistryCertID, Certificate: cert.Certificate, Revoked: true},
	}
	resp := ts.do(t, http.MethodPost, "/entities/"+e.ID+"/sync", nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	var got api.CertificateResponse
	ts.do(t, http.MethodGet, "/certificates/"+cert.ID, nil, &got)
	assert.True(t, got.Revoked)
}

func TestThumbprint(t *testing.T) {
	ts := newTestServer(t)

	var got api.ThumbprintResponse
	resp := ts.do(t, http.MethodGet, "/trust/test-mir-ca/thumbprint", nil, &got)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "test-mir-ca", got.Alias)
	assert.Equal(t, "SHA-256", got.Algorithm)
	assert.Len(t, got.Thumbprint, 64)

	resp = ts.do(t, http.MethodGet, "/trust/test-mir-ca/thumbprint?algorithm=SHA-1", nil, &got)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, got.Thumbprint, 40)

	resp = ts.do(t, http.MethodGet, "/trust/unknown/thumbprint", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOpenAPISpecServed(t *testing.T) {
	ts := newTestServer(t)
	resp, err := ts.srv.Client().Get(ts.srv.URL + "/openapi.yaml")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/yaml", resp.Header.Get("Content-Type"))
}
