package s3_test

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kopia/mimespool/blob/blobtesting"
	"github.com/kopia/mimespool/blob/s3"
	"github.com/kopia/mimespool/internal/testlogging"
	"github.com/kopia/mimespool/internal/testutil"
)

const (
	testEndpointEnv     = "MIMESPOOL_S3_TEST_ENDPOINT"
	testAccessKeyIDEnv  = "MIMESPOOL_S3_TEST_ACCESS_KEY_ID"
	testSecretKeyEnv    = "MIMESPOOL_S3_TEST_SECRET_ACCESS_KEY"
	testBucketEnv       = "MIMESPOOL_S3_TEST_BUCKET"
	testDoNotUseTLSEnv  = "MIMESPOOL_S3_TEST_NO_TLS"
	randomPrefixByteLen = 8
)

func TestS3Storage(t *testing.T) {
	opt := &s3.Options{
		Endpoint:        testutil.GetEnvOrSkip(t, testEndpointEnv),
		AccessKeyID:     testutil.GetEnvOrSkip(t, testAccessKeyIDEnv),
		SecretAccessKey: testutil.GetEnvOrSkip(t, testSecretKeyEnv),
		BucketName:      testutil.GetEnvOrSkip(t, testBucketEnv),
		Prefix:          randomPrefix(t),
		DoNotUseTLS:     os.Getenv(testDoNotUseTLSEnv) != "",
	}

	ctx := testlogging.Context(t)

	st, err := s3.New(ctx, opt)
	require.NoError(t, err)

	defer st.Close(ctx)

	blobtesting.VerifyStorage(ctx, t, st)
}

func TestS3StorageRequiresBucket(t *testing.T) {
	_, err := s3.New(testlogging.Context(t), &s3.Options{})
	require.ErrorContains(t, err, "bucket name must be specified")
}

func randomPrefix(t *testing.T) string {
	t.Helper()

	b := make([]byte, randomPrefixByteLen)
	_, err := rand.Read(b)
	require.NoError(t, err)

	return "test-" + hex.EncodeToString(b) + "/"
}
