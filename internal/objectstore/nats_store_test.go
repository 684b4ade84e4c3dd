package objectstore_test

import (
	"context"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/objectstore"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StartTestServer starts an in-process JetStream server on a random port.
func StartTestServer(t *testing.T) (*server.Server, nats.JetStreamContext) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)
	t.Cleanup(natsServer.Shutdown)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	require.NoError(t, err)
	t.Cleanup(natsConnection.Close)

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	return natsServer, jetstreamContext
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "objectstore-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = testLogger.Close() })

	return testLogger
}

func TestNatsObjectStore_UploadDownload(t *testing.T) {
	t.Parallel()

	_, jetstreamContext := StartTestServer(t)

	store, err := objectstore.New(jetstreamContext, "AUDIO_FILES", newTestLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "AUDIO_FILES", store.Bucket())

	ctx := context.Background()
	uploadData := []byte("RIFF....WAVEfmt ")

	require.NoError(t, store.Upload(ctx, "chapter-1.wav", uploadData))

	downloadData, err := store.Download(ctx, "chapter-1.wav")
	require.NoError(t, err)
	assert.Equal(t, uploadData, downloadData)

	require.NoError(t, store.Upload(ctx, "chapter-1.wav", []byte("replaced")))

	downloadData, err = store.Download(ctx, "chapter-1.wav")
	require.NoError(t, err)
	assert.Equal(t, []byte("replaced"), downloadData)
}

func TestNatsObjectStore_BindsExistingBucket(t *testing.T) {
	t.Parallel()

	_, jetstreamContext := StartTestServer(t)
	testLogger := newTestLogger(t)

	first, err := objectstore.New(jetstreamContext, "TEXT_FILES", testLogger)
	require.NoError(t, err)
	require.NoError(t, first.Upload(context.Background(), "page-1.txt", []byte("Hello world.")))

	second, err := objectstore.New(jetstreamContext, "TEXT_FILES", testLogger)
	require.NoError(t, err)

	data, err := second.Download(context.Background(), "page-1.txt")
	require.NoError(t, err)
	assert.Equal(t, "Hello world.", string(data))
}

func TestNatsObjectStore_MissingObject(t *testing.T) {
	t.Parallel()

	_, jetstreamContext := StartTestServer(t)

	store, err := objectstore.New(jetstreamContext, "MEM_FILES", newTestLogger(t), objectstore.WithMemoryStorage())
	require.NoError(t, err)

	_, err = store.Download(context.Background(), "absent.txt")
	require.ErrorIs(t, err, objectstore.ErrObjectNotFound)

	_, err = store.Download(context.Background(), "")
	require.ErrorIs(t, err, objectstore.ErrEmptyKey)

	require.ErrorIs(t, store.Upload(context.Background(), "", []byte("x")), objectstore.ErrEmptyKey)
}

func TestNatsObjectStore_Delete(t *testing.T) {
	t.Parallel()

	_, jetstreamContext := StartTestServer(t)

	store, err := objectstore.New(jetstreamContext, "DEL_FILES", newTestLogger(t))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Upload(ctx, "voice.wav", []byte("sample")))
	require.NoError(t, store.Delete("voice.wav"))

	_, err = store.Download(ctx, "voice.wav")
	require.ErrorIs(t, err, objectstore.ErrObjectNotFound)
}

func TestNew_AppliesBucketOptions(t *testing.T) {
	t.Parallel()

	_, jetstreamContext := StartTestServer(t)

	_, err := objectstore.New(jetstreamContext, "CAPPED", newTestLogger(t),
		objectstore.WithMemoryStorage(), objectstore.WithMaxBytes(1<<20))
	require.NoError(t, err)

	info, err := jetstreamContext.StreamInfo("OBJ_CAPPED")
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), info.Config.MaxBytes)
	assert.Equal(t, nats.MemoryStorage, info.Config.Storage)
}
