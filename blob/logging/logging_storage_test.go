package logging_test

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kopia/mimespool/blob"
	"github.com/kopia/mimespool/blob/blobtesting"
	"github.com/kopia/mimespool/blob/logging"
	"github.com/kopia/mimespool/internal/testlogging"
)

func TestLoggingStorage(t *testing.T) {
	var (
		mu    sync.Mutex
		lines []string
	)

	myPrefix := "myprefix"
	myOutput := func(msg string, args ...interface{}) {
		mu.Lock()
		defer mu.Unlock()

		lines = append(lines, fmt.Sprintf(msg, args...))
	}

	data := blobtesting.DataMap{}
	kt := map[blob.ID]time.Time{}
	underlying := blobtesting.NewMapStorage(data, kt, nil)

	st := logging.NewWrapper(underlying, testlogging.Printf(myOutput, ""), myPrefix)
	require.NotNil(t, st)

	ctx := testlogging.Context(t)
	blobtesting.VerifyStorage(ctx, t, st)

	require.NoError(t, st.PutBlob(ctx, "logged", strings.NewReader("hello"), 5))

	rc, err := st.OpenBlob(ctx, "logged")
	require.NoError(t, err)

	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "hello", string(b))
	require.NoError(t, rc.Close())

	require.NoError(t, st.Close(ctx))

	mu.Lock()
	defer mu.Unlock()

	require.NotEmpty(t, lines)

	for _, l := range lines {
		require.True(t, strings.HasPrefix(l, myPrefix), "unexpected prefix %v", l)
	}

	require.Regexp(t, `"bytesRead": ?5\b`, strings.Join(lines, "\n"))

	require.Equal(t, underlying.ConnectionInfo().Type, st.ConnectionInfo().Type)
	require.Equal(t, underlying.DisplayName(), st.DisplayName())
}
