package truststore_test

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maritimelab/seatrust/keys"
	"github.com/maritimelab/seatrust/truststore"
)

func newAnchor(t *testing.T, commonName string) *x509.Certificate {
	t.Helper()
	kp, err := keys.GenerateKeyPair("")
	require.NoError(t, err)
	now := time.Now()
	pemStr, err := keys.GenerateSelfSignedCertificate(kp,
		pkix.Name{CommonName: commonName}, now, now.Add(time.Hour), "")
	require.NoError(t, err)
	cert, err := keys.DecodeCertificatePEM(pemStr)
	require.NoError(t, err)
	return cert
}

func TestNewStore_Aliases(t *testing.T) {
	root := newAnchor(t, "Maritime Root CA")
	intermediate := newAnchor(t, "Maritime Identity CA")

	store, err := truststore.NewStore(root, intermediate)
	require.NoError(t, err)

	assert.Equal(t, []string{"maritime-root-ca", "maritime-identity-ca"}, store.Aliases())
	assert.Equal(t, "maritime-root-ca", store.DefaultAlias())

	got, err := store.RootCertificate("maritime-identity-ca")
	require.NoError(t, err)
	assert.Equal(t, intermediate.Raw, got.Raw)

	// Empty alias selects the default anchor.
	got, err = store.RootCertificate("")
	require.NoError(t, err)
	assert.Equal(t, root.Raw, got.Raw)
}

func TestNewStore_DuplicateCommonNames(t *testing.T) {
	a := newAnchor(t, "Root CA")
	b := newAnchor(t, "Root CA")

	store, err := truststore.NewStore(a, b)
	require.NoError(t, err)
	assert.Equal(t, []string{"root-ca", "root-ca-2"}, store.Aliases())
}

func TestNewStore_Empty(t *testing.T) {
	_, err := truststore.NewStore()
	assert.ErrorIs(t, err, truststore.ErrEmptyStore)
}

func TestRootCertificate_UnknownAlias(t *testing.T) {
	store, err := truststore.NewStore(newAnchor(t, "Root CA"))
	require.NoError(t, err)

	_, err = store.RootCertificate("no-such-anchor")
	assert.ErrorIs(t, err, truststore.ErrAliasNotFound)
}

func TestThumbprint(t *testing.T) {
	root := newAnchor(t, "Root CA")
	store, err := truststore.NewStore(root)
	require.NoError(t, err)

	sum256 := sha256.Sum256(root.Raw)
	sum1 := sha1.Sum(root.Raw)

	for _, alg := range []string{"", "SHA-256", "SHA256"} {
		thumb, err := store.Thumbprint("", alg)
		require.NoError(t, err)
		assert.Equal(t, hex.EncodeToString(sum256[:]), thumb)
	}

	thumb, err := store.Thumbprint("", "SHA-1")
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(sum1[:]), thumb)

	_, err = store.Thumbprint("", "MD5")
	assert.ErrorIs(t, err, truststore.ErrUnknownDigest)
}

func TestLoadPEMBundle(t *testing.T) {
	kp, err := keys.GenerateKeyPair("")
	require.NoError(t, err)
	now := time.Now()
	a, err := keys.GenerateSelfSignedCertificate(kp, pkix.Name{CommonName: "Root A"}, now, now.Add(time.Hour), "")
	require.NoError(t, err)
	b, err := keys.GenerateSelfSignedCertificate(kp, pkix.Name{CommonName: "Root B"}, now, now.Add(time.Hour), "")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "bundle.pem")
	require.NoError(t, os.WriteFile(path, []byte(a+b), 0o600))

	store, err := truststore.LoadPEMBundle(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"root-a", "root-b"}, store.Aliases())

	pool := store.Pool()
	require.NotNil(t, pool)
}

func TestLoadPEMBundle_MissingFile(t *testing.T) {
	_, err := truststore.LoadPEMBundle(filepath.Join(t.TempDir(), "absent.pem"))
	assert.Error(t, err)
}
