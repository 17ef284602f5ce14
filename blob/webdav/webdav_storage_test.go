package webdav_test

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/webdav"

	"github.com/kopia/mimespool/blob"
	"github.com/kopia/mimespool/blob/blobtesting"
	davstorage "github.com/kopia/mimespool/blob/webdav"
	"github.com/kopia/mimespool/internal/testlogging"
	"github.com/kopia/mimespool/internal/testutil"
)

func basicAuth(h http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if user, passwd, ok := r.BasicAuth(); ok {
			if user == "user" && passwd == "password" {
				h.ServeHTTP(w, r)
				return
			}

			http.Error(w, "not authorized", http.StatusForbidden)
		} else {
			w.Header().Set("WWW-Authenticate", `Basic realm="testing"`)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("Unauthorized.\n")) //nolint:errcheck
		}
	}
}

func newHandler(t *testing.T) (http.Handler, string) {
	t.Helper()

	tmpDir := testutil.TempDirectory(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/", basicAuth(&webdav.Handler{
		FileSystem: webdav.Dir(tmpDir),
		LockSystem: webdav.NewMemLS(),
	}))

	return mux, tmpDir
}

func TestWebDAVStorageExternalServer(t *testing.T) {
	t.Parallel()

	verifyWebDAVStorage(t, &davstorage.Options{
		URL:      testutil.GetEnvOrSkip(t, "MIMESPOOL_WEBDAV_TEST_URL"),
		Username: testutil.GetEnvOrSkip(t, "MIMESPOOL_WEBDAV_TEST_USERNAME"),
		Password: testutil.GetEnvOrSkip(t, "MIMESPOOL_WEBDAV_TEST_PASSWORD"),
	})
}

func TestWebDAVStorageBuiltInServer(t *testing.T) {
	t.Parallel()

	h, tmpDir := newHandler(t)

	server := httptest.NewServer(h)
	defer server.Close()

	verifyWebDAVStorage(t, &davstorage.Options{
		URL:      server.URL,
		Username: "user",
		Password: "password",
	})

	// temporary uploads, including the rejected short one, are gone.
	entries, err := os.ReadDir(tmpDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestWebDAVStorageTLSFingerprint(t *testing.T) {
	t.Parallel()

	h, _ := newHandler(t)

	server := httptest.NewTLSServer(h)
	defer server.Close()

	sum := sha256.Sum256(server.Certificate().Raw)

	verifyWebDAVStorage(t, &davstorage.Options{
		URL:                                 server.URL,
		Username:                            "user",
		Password:                            "password",
		TrustedServerCertificateFingerprint: hex.EncodeToString(sum[:]),
	})
}

func TestWebDAVStorageBadCredentials(t *testing.T) {
	t.Parallel()

	ctx := testlogging.Context(t)
	h, _ := newHandler(t)

	server := httptest.NewServer(h)
	defer server.Close()

	st, err := davstorage.New(ctx, &davstorage.Options{
		URL:      server.URL,
		Username: "user",
		Password: "wrong",
	})
	require.NoError(t, err)

	_, err = st.GetMetadata(ctx, "foo")
	require.Error(t, err)
	require.NotErrorIs(t, err, blob.ErrBlobNotFound)
}

func TestWebDAVStorageRequiresURL(t *testing.T) {
	_, err := davstorage.New(testlogging.Context(t), &davstorage.Options{})
	require.Error(t, err)
}

func verifyWebDAVStorage(t *testing.T, opt *davstorage.Options) {
	t.Helper()

	ctx := testlogging.Context(t)

	st, err := davstorage.New(ctx, opt)
	require.NoError(t, err)

	require.NoError(t, st.ListBlobs(ctx, "", func(bm blob.Metadata) error {
		return st.DeleteBlob(ctx, bm.BlobID)
	}))

	blobtesting.VerifyStorage(ctx, t, st)
	blobtesting.VerifyConnectionInfo(ctx, t, st)

	require.NoError(t, st.Close(ctx))
}
