// Package registry implements the client for the external Maritime
// Identity Registry (MIR): entity CRUD upstream of the local directory,
// and the CSR-based certificate issuance protocol. Private keys never
// cross this boundary in either direction.
//
// Every transport failure, timeout, TLS error, and non-2xx response is
// surfaced as a *ConnectivityError matching ErrRegistryUnavailable, so
// callers can tell "the registry is down" from "our input was wrong".
// This layer performs no retries; maritime connectivity is intermittent
// and callers have different retry needs.
package registry

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/maritimelab/seatrust/directory"
	"github.com/maritimelab/seatrust/keys"
)

var (
	// ErrRegistryUnavailable is the sentinel every ConnectivityError matches.
	ErrRegistryUnavailable = errors.New("identity registry unavailable")

	// ErrEntityNotKnown is returned when the registry has no record for the MRN.
	ErrEntityNotKnown = errors.New("entity not known to registry")
)

// ConnectivityError carries the detail of a failed registry call: the
// HTTP status (0 when the request never completed) and a message for
// the operator. It matches ErrRegistryUnavailable via errors.Is.
type ConnectivityError struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *ConnectivityError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("registry %s: status %d: %s", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("registry %s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

func (e *ConnectivityError) Is(target error) bool { return target == ErrRegistryUnavailable }

// Record is the registry's view of an entity.
type Record struct {
	MRN     string `json:"mrn"`
	Name    string `json:"name"`
	MMSI    string `json:"mmsi,omitempty"`
	Version string `json:"version,omitempty"`
}

// IssuedCertificate is the result of a successful CSR submission. The
// registry certificate id is the leaf serial number in hex; the validity
// window comes from the leaf certificate.
type IssuedCertificate struct {
	PEM            string
	ChainPEM       string
	NotBefore      time.Time
	NotAfter       time.Time
	RegistryCertID string
}

// CertificateSummary is one entry of the registry's certificate list for
// an entity, used during synchronization.
type CertificateSummary struct {
	ID          string `json:"id"`
	Certificate string `json:"certificate"`
	Revoked     bool   `json:"revoked"`
}

// Client talks to the MIR over mutually-authenticated TLS.
type Client struct {
	baseURL string
	orgMRN  string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Tests use this to
// point the client at a stub transport.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithTimeout bounds every registry call. On expiry the call surfaces as
// a ConnectivityError like any other transport failure.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// New creates a registry client for the given base URL and organisation MRN.
func New(baseURL, orgMRN string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		orgMRN:  orgMRN,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewMutualTLS creates a registry client authenticating with the
// service's own MIR-issued client certificate.
func NewMutualTLS(baseURL, orgMRN, certFile, keyFile string, roots *x509.CertPool, opts ...Option) (*Client, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("loading client key pair: %w", err)
	}
	h := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				Certificates: []tls.Certificate{cert},
				RootCAs:      roots,
				MinVersion:   tls.VersionTLS12,
			},
		},
	}
	return New(baseURL, orgMRN, append([]Option{WithHTTPClient(h)}, opts...)...), nil
}

func (c *Client) entityURL(t directory.EntityType, mrn, version string) string {
	url := fmt.Sprintf("%s/api/org/%s/%s/%s", c.baseURL, c.orgMRN, t.PathSegment(), mrn)
	if t == directory.TypeService && version != "" {
		url += "/" + version
	}
	return url
}

func connErr(op string, err error) *ConnectivityError {
	return &ConnectivityError{Op: op, Err: err}
}

func statusErr(op string, status int, body []byte) *ConnectivityError {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return &ConnectivityError{Op: op, Status: status, Message: msg}
}

// do executes the request and returns the body for 2xx responses. Any
// other outcome becomes a ConnectivityError, except 404 which is
// reported distinctly so callers can implement idempotent deletes and
// not-found semantics.
func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, connErr(op, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", op, ErrEntityNotKnown)
	default:
		return nil, statusErr(op, resp.StatusCode, body)
	}
}

func (c *Client) doJSON(ctx context.Context, method, url string, payload, out any, op string) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%s: encoding payload: %w", op, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("%s: building request: %w", op, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	data, err := c.do(req, op)
	if err != nil {
		return err
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s: decoding response: %w", op, err)
		}
	}
	return nil
}

// RegisterEntity creates the entity record upstream.
func (c *Client) RegisterEntity(ctx context.Context, e *directory.Entity) (*Record, error) {
	url := fmt.Sprintf("%s/api/org/%s/%s", c.baseURL, c.orgMRN, e.Type.PathSegment())
	payload := Record{MRN: e.MRN, Name: e.Name, MMSI: e.MMSI, Version: e.Version}
	var rec Record
	if err := c.doJSON(ctx, http.MethodPost, url, payload, &rec, "register entity"); err != nil {
		return nil, err
	}
	return &rec, nil
}

// FetchEntity returns the registry's record for the MRN, or
// ErrEntityNotKnown when the registry has none.
func (c *Client) FetchEntity(ctx context.Context, t directory.EntityType, mrn, version string) (*Record, error) {
	var rec Record
	if err := c.doJSON(ctx, http.MethodGet, c.entityURL(t, mrn, version), nil, &rec, "fetch entity"); err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateEntity pushes a name/MMSI correction upstream.
func (c *Client) UpdateEntity(ctx context.Context, e *directory.Entity) (*Record, error) {
	var rec Record
	payload := Record{MRN: e.MRN, Name: e.Name, MMSI: e.MMSI, Version: e.Version}
	if err := c.doJSON(ctx, http.MethodPut, c.entityURL(e.Type, e.MRN, e.Version), payload, &rec, "update entity"); err != nil {
		return nil, err
	}
	return &rec, nil
}

// DeleteEntity removes the registry-side record. Deleting an entity the
// registry no longer knows is not an error at this layer.
func (c *Client) DeleteEntity(ctx context.Context, t directory.EntityType, mrn, version string) error {
	err := c.doJSON(ctx, http.MethodDelete, c.entityURL(t, mrn, version), nil, nil, "delete entity")
	if errors.Is(err, ErrEntityNotKnown) {
		return nil
	}
	return err
}

// IssueCertificate submits a CSR for the entity and parses the signed
// certificate chain the registry returns. The leaf's serial number (hex)
// becomes the registry certificate id.
func (c *Client) IssueCertificate(ctx context.Context, e *directory.Entity, csrPEM string) (*IssuedCertificate, error) {
	const op = "issue certificate"
	url := c.entityURL(e.Type, e.MRN, e.Version) + "/certificate/issue-new/csr"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(csrPEM))
	if err != nil {
		return nil, fmt.Errorf("%s: building request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-pem-file")
	body, err := c.do(req, op)
	if err != nil {
		return nil, err
	}
	chain, err := keys.DecodeCertificateChainPEM(string(body))
	if err != nil {
		return nil, fmt.Errorf("%s: parsing issued chain: %w", op, err)
	}
	leaf := chain[0]
	return &IssuedCertificate{
		PEM:            keys.EncodeCertificatePEM(leaf.Raw),
		ChainPEM:       string(body),
		NotBefore:      leaf.NotBefore,
		NotAfter:       leaf.NotAfter,
		RegistryCertID: hex.EncodeToString(leaf.SerialNumber.Bytes()),
	}, nil
}

// RevokeCertificate notifies the registry that a certificate is revoked.
func (c *Client) RevokeCertificate(ctx context.Context, e *directory.Entity, registryCertID string) error {
	url := c.entityURL(e.Type, e.MRN, e.Version) + "/certificate/" + registryCertID + "/revoke"
	return c.doJSON(ctx, http.MethodPost, url, nil, nil, "revoke certificate")
}

// ListCertificates fetches the registry's certificate list for the
// entity, used by synchronization.
func (c *Client) ListCertificates(ctx context.Context, e *directory.Entity) ([]CertificateSummary, error) {
	url := c.entityURL(e.Type, e.MRN, e.Version) + "/certificates"
	var out []CertificateSummary
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &out, "list certificates"); err != nil {
		return nil, err
	}
	return out, nil
}
