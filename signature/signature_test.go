package signature_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maritimelab/seatrust/directory"
	"github.com/maritimelab/seatrust/keys"
	"github.com/maritimelab/seatrust/lifecycle"
	"github.com/maritimelab/seatrust/registry"
	"github.com/maritimelab/seatrust/signature"
	"github.com/maritimelab/seatrust/storage/memory"
	"github.com/maritimelab/seatrust/truststore"
)

// issuingCA signs CSRs the way the identity registry would.
type issuingCA struct {
	key        *ecdsa.PrivateKey
	cert       *x509.Certificate
	nextSerial int64
}

func newIssuingCA(t *testing.T) *issuingCA {
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
	return &issuingCA{key: kp.Private, cert: cert, nextSerial: 10}
}

func (ca *issuingCA) RegisterEntity(_ context.Context, e *directory.Entity) (*registry.Record, error) {
	return &registry.Record{MRN: e.MRN, Name: e.Name}, nil
}

func (ca *issuingCA) IssueCertificate(_ context.Context, _ *directory.Entity, csrPEM string) (*registry.IssuedCertificate, error) {
	csr, err := keys.ParseCSRPEM(csrPEM)
	if err != nil {
		return nil, err
	}
	ca.nextSerial++
	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: big.NewInt(ca.nextSerial),
		Subject:      csr.Subject,
		NotBefore:    now.Add(-time.Minute),
		NotAfter:     now.Add(12 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, ca.cert, csr.PublicKey, ca.key)
	if err != nil {
		return nil, err
	}
	pem := keys.EncodeCertificatePEM(der)
	return &registry.IssuedCertificate{
		PEM:            pem,
		ChainPEM:       pem + keys.EncodeCertificatePEM(ca.cert.Raw),
		NotBefore:      template.NotBefore,
		NotAfter:       template.NotAfter,
		RegistryCertID: hex.EncodeToString(big.NewInt(ca.nextSerial).Bytes()),
	}, nil
}

func (ca *issuingCA) RevokeCertificate(context.Context, *directory.Entity, string) error {
	return nil
}

func (ca *issuingCA) ListCertificates(context.Context, *directory.Entity) ([]registry.CertificateSummary, error) {
	return nil, nil
}

type fixture struct {
	dir    *directory.Directory
	lc     *lifecycle.Service
	sig    *signature.Service
	trust  *truststore.Store
	ca     *issuingCA
	entity *directory.Entity
}

func newFixture(t *testing.T, opts ...signature.Option) *fixture {
	t.Helper()
	repo := memory.NewRepository()
	dir := directory.New(repo, "urn:mrn:mcp:entity:testorg")
	ca := newIssuingCA(t)
	lc := lifecycle.New(repo, dir, ca, lifecycle.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	trust, err := truststore.NewStore(ca.cert)
	require.NoError(t, err)

	sig := signature.New(dir, lc, trust, opts...)

	e, err := dir.Create(context.Background(), directory.NewEntity{
		Name: "Nordic Star",
		Type: directory.TypeVessel,
		MMSI: "219000001",
	})
	require.NoError(t, err)
	return &fixture{dir: dir, lc: lc, sig: sig, trust: trust, ca: ca, entity: e}
}

func TestSignAndVerify(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rec, err := f.lc.Generate(ctx, f.entity.ID)
	require.NoError(t, err)

	res, err := f.sig.Sign(ctx, rec.ID, "", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, keys.DefaultAlgorithm, res.Algorithm)
	assert.NotEmpty(t, res.Signature)
	assert.NotContains(t, res.CertificatePEM, "\n", "header PEM must be minified")

	wantThumb, err := f.trust.Thumbprint("", "")
	require.NoError(t, err)
	assert.Equal(t, wantThumb, res.RootThumbprint)

	sel := signature.Selector{EntityID: f.entity.ID}
	valid, err := f.sig.Verify(ctx, sel, "", []byte("hello"), res.Signature)
	require.NoError(t, err)
	assert.True(t, valid)

	// A single flipped character fails verification without error.
	valid, err = f.sig.Verify(ctx, sel, "", []byte("hellp"), res.Signature)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestSign_SignaturesDifferButBothVerify(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rec, err := f.lc.Generate(ctx, f.entity.ID)
	require.NoError(t, err)

	a, err := f.sig.Sign(ctx, rec.ID, "", []byte("payload"))
	require.NoError(t, err)
	b, err := f.sig.Sign(ctx, rec.ID, "", []byte("payload"))
	require.NoError(t, err)

	// ECDSA signatures are randomised.
	assert.NotEqual(t, a.Signature, b.Signature)

	sel := signature.Selector{EntityID: f.entity.ID}
	for _, res := range []*signature.Result{a, b} {
		valid, err := f.sig.Verify(ctx, sel, "", []byte("payload"), res.Signature)
		require.NoError(t, err)
		assert.True(t, valid)
	}
}

func TestSign_RevokedCertificate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rec, err := f.lc.Generate(ctx, f.entity.ID)
	require.NoError(t, err)
	_, err = f.lc.Revoke(ctx, rec.ID)
	require.NoError(t, err)

	_, err = f.sig.Sign(ctx, rec.ID, "", []byte("hello"))
	assert.ErrorIs(t, err, signature.ErrCertificateRevoked)
}

func TestSign_UnknownAlgorithm(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rec, err := f.lc.Generate(ctx, f.entity.ID)
	require.NoError(t, err)

	_, err = f.sig.Sign(ctx, rec.ID, "ROT13withECDSA", []byte("hello"))
	assert.ErrorIs(t, err, keys.ErrUnknownAlgorithm)
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rec, err := f.lc.Generate(ctx, f.entity.ID)
	require.NoError(t, err)

	selectors := []signature.Selector{
		{EntityID: f.entity.ID},
		{MRN: f.entity.MRN},
		{MMSI: f.entity.MMSI},
		{Name: f.entity.Name, Type: directory.TypeVessel},
	}
	for _, sel := range selectors {
		got, err := f.sig.Resolve(ctx, sel)
		require.NoError(t, err)
		assert.Equal(t, rec.ID, got.ID)
	}
}

func TestResolve_EmptySelector(t *testing.T) {
	f := newFixture(t)
	_, err := f.sig.Resolve(context.Background(), signature.Selector{})
	assert.ErrorIs(t, err, signature.ErrEmptySelector)
}

func TestResolve_NoActiveCertificate(t *testing.T) {
	f := newFixture(t)
	_, err := f.sig.Resolve(context.Background(), signature.Selector{EntityID: f.entity.ID})
	assert.ErrorIs(t, err, lifecycle.ErrNoActiveCertificate)
}

func TestResolve_UnknownEntity(t *testing.T) {
	f := newFixture(t)
	_, err := f.sig.Resolve(context.Background(), signature.Selector{MMSI: "999999999"})
	assert.ErrorIs(t, err, directory.ErrEntityNotFound)
}

func TestResolve_CachesWithinTTL(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, signature.WithResolutionTTL(time.Hour))

	first, err := f.lc.Generate(ctx, f.entity.ID)
	require.NoError(t, err)

	sel := signature.Selector{EntityID: f.entity.ID}
	got, err := f.sig.Resolve(ctx, sel)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	// A rollover within the TTL is not observed until expiry; the stale
	// window is an accepted trade-off.
	time.Sleep(10 * time.Millisecond)
	second, err := f.lc.Generate(ctx, f.entity.ID)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	got, err = f.sig.Resolve(ctx, sel)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
}

func TestVerify_SyncedCertificateWithoutPrivateKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Issue, then strip the certificate down to what synchronization
	// would have stored: no private key.
	rec, err := f.lc.Generate(ctx, f.entity.ID)
	require.NoError(t, err)

	res, err := f.sig.Sign(ctx, rec.ID, "", []byte("hello"))
	require.NoError(t, err)

	// Simulate the record arriving via sync on another node.
	repo := memory.NewRepository()
	dir := directory.New(repo, "urn:mrn:mcp:entity:testorg")
	lc := lifecycle.New(repo, dir, f.ca, lifecycle.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	trust, err := truststore.NewStore(f.ca.cert)
	require.NoError(t, err)
	sig := signature.New(dir, lc, trust)

	e, err := dir.Create(ctx, directory.NewEntity{Name: "Nordic Star", Type: directory.TypeVessel})
	require.NoError(t, err)
	synced := *rec
	synced.EntityID = e.ID
	synced.PrivateKeyPEM = ""
	require.NoError(t, repo.PutCertificate(ctx, &synced))

	// Verification works from the public key alone.
	valid, err := sig.Verify(ctx, signature.Selector{EntityID: e.ID}, "", []byte("hello"), res.Signature)
	require.NoError(t, err)
	assert.True(t, valid)

	// Signing does not.
	_, err = sig.Sign(ctx, synced.ID, "", []byte("hello"))
	assert.ErrorIs(t, err, signature.ErrNoPrivateKey)
}

func TestValidateChain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rec, err := f.lc.Generate(ctx, f.entity.ID)
	require.NoError(t, err)
	assert.NoError(t, f.sig.ValidateChain(rec))

	// A service trusting a different root rejects the chain.
	otherCA := newIssuingCA(t)
	otherTrust, err := truststore.NewStore(otherCA.cert)
	require.NoError(t, err)
	otherSig := signature.New(f.dir, f.lc, otherTrust)
	assert.Error(t, otherSig.ValidateChain(rec))
}

func TestMinifyPEM(t *testing.T) {
	in := "-----BEGIN CERTIFICATE-----\nAAAA\nBBBB\n-----END CERTIFICATE-----\n"
	assert.Equal(t, "-----BEGIN CERTIFICATE----- AAAA BBBB -----END CERTIFICATE-----", signature.MinifyPEM(in))
}
