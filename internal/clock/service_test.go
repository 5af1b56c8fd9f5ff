package clock

import (
	"context"
	"encoding/base64"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doomsdeal/clock/internal/database"
	"github.com/doomsdeal/clock/internal/telegram"
)

// fakeGateway is an in-memory Gateway with scriptable failures.
type fakeGateway struct {
	messages    []telegram.Message
	images      map[int64][]byte
	connectErr  error
	retrieveErr error

	connected   bool
	connects    int
	disconnects int
	retrievals  int
}

func (f *fakeGateway) Connect(context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	f.connects++
	return nil
}

func (f *fakeGateway) Disconnect() {
	f.connected = false
	f.disconnects++
}

func (f *fakeGateway) LatestMessages(_ context.Context, limit int) ([]telegram.Message, error) {
	f.retrievals++
	if f.retrieveErr != nil {
		return nil, f.retrieveErr
	}
	if len(f.messages) > limit {
		return f.messages[:limit], nil
	}
	return f.messages, nil
}

func (f *fakeGateway) MessagesSince(_ context.Context, minDate time.Time) ([]telegram.Message, error) {
	f.retrievals++
	if f.retrieveErr != nil {
		return nil, f.retrieveErr
	}
	if minDate.IsZero() {
		return f.messages, nil
	}
	var out []telegram.Message
	for _, msg := range f.messages {
		if !msg.Date.Before(minDate) {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (f *fakeGateway) MessageImage(_ context.Context, msg telegram.Message) []byte {
	return f.images[msg.ID]
}

func (f *fakeGateway) ChannelInfo(context.Context) (*telegram.ChannelInfo, error) {
	return &telegram.ChannelInfo{ID: 1, Title: "test", Username: "test"}, nil
}

func newTestService(t *testing.T, gw telegram.Gateway) (*Service, database.Store) {
	t.Helper()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "clock_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.CloseDB(db) })

	store := database.NewStore(db, nil)
	return NewService(gw, store, nil), store
}

func channelMessage(id int64, text string, date time.Time) telegram.Message {
	return telegram.Message{ID: id, Text: text, Date: date}
}

func TestFetchAndStore_StoresNewMessages(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	gw := &fakeGateway{
		messages: []telegram.Message{
			channelMessage(3, "🕐 23:42 - Deadline approaching! Time until agreement.", now),
			channelMessage(2, "no clock content here", now.Add(-time.Hour)),
			channelMessage(1, "", now.Add(-2*time.Hour)), // empty text skipped
		},
		images: map[int64][]byte{3: []byte("png-bytes")},
	}
	svc, store := newTestService(t, gw)
	ctx := context.Background()

	count, err := svc.FetchAndStore(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "empty-text message is not stored")
	assert.Equal(t, 1, gw.connects)
	assert.Equal(t, 1, gw.disconnects, "disconnect always runs")

	latest, err := store.LatestUpdate(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), latest.MessageID)
	assert.Equal(t, "23:42:00", latest.TimeValue.String, "parser output is the canonical time_value")
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("png-bytes")), latest.ImageData.String)
	assert.True(t, latest.CreatedAt.Equal(now))

	// The non-clock message has no parser result and no raw token.
	recent, err := store.RecentUpdates(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.False(t, recent[1].TimeValue.Valid)
}

func TestFetchAndStore_TokenFallbackForNonClockMessages(t *testing.T) {
	gw := &fakeGateway{
		messages: []telegram.Message{
			channelMessage(1, "schedule shifted to 18.40 apparently", time.Now().UTC()),
		},
	}
	svc, store := newTestService(t, gw)
	ctx := context.Background()

	count, err := svc.FetchAndStore(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	latest, err := store.LatestUpdate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "18.40", latest.TimeValue.String, "raw gateway token kept when the parser rejects")
}

func TestFetchAndStore_Idempotent(t *testing.T) {
	now := time.Now().UTC()
	gw := &fakeGateway{messages: []telegram.Message{
		channelMessage(1, "time until the deal: 10:00", now),
		channelMessage(2, "deal clock moved to 11:30", now.Add(time.Minute)),
	}}
	svc, store := newTestService(t, gw)
	ctx := context.Background()

	first, err := svc.FetchAndStore(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, first)

	second, err := svc.FetchAndStore(ctx, 5)
	require.NoError(t, err)
	assert.Zero(t, second, "unchanged source yields no new records")

	count, err := store.CountUpdates(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestFetchAndStore_DuplicateWithinBatch(t *testing.T) {
	now := time.Now().UTC()
	gw := &fakeGateway{messages: []telegram.Message{
		channelMessage(9, "the deal closes at 10:00", now),
		channelMessage(9, "the deal closes at 10:00", now),
	}}
	svc, store := newTestService(t, gw)
	ctx := context.Background()

	count, err := svc.FetchAndStore(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	total, err := store.CountUpdates(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestFetchAndStore_ConnectErrorPropagates(t *testing.T) {
	gw := &fakeGateway{connectErr: errors.New("unauthorized")}
	svc, _ := newTestService(t, gw)

	count, err := svc.FetchAndStore(context.Background(), 5)
	assert.Error(t, err)
	assert.Zero(t, count)
}

func TestFetchAndStore_RetrievalErrorSwallowed(t *testing.T) {
	gw := &fakeGateway{retrieveErr: errors.New("flood wait")}
	svc, store := newTestService(t, gw)
	ctx := context.Background()

	count, err := svc.FetchAndStore(ctx, 5)
	assert.NoError(t, err, "post-connect failures are swallowed")
	assert.Zero(t, count)
	assert.Equal(t, 1, gw.disconnects, "disconnect runs even on failure")

	total, err := store.CountUpdates(ctx)
	require.NoError(t, err)
	assert.Zero(t, total, "failed batch leaves no rows")
}

func TestFetchWindow_CutoffApplied(t *testing.T) {
	now := time.Now().UTC()
	gw := &fakeGateway{messages: []telegram.Message{
		channelMessage(3, "deal time 10:00 today", now),
		channelMessage(2, "deal time 10:00 last week", now.AddDate(0, 0, -7)),
		channelMessage(1, "deal time 10:00 long ago", now.AddDate(0, 0, -90)),
	}}
	svc, store := newTestService(t, gw)
	ctx := context.Background()

	count, err := svc.FetchWindow(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "90-day-old message is outside the window")

	total, err := store.CountUpdates(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}

func TestFetchWindow_UnboundedHistory(t *testing.T) {
	now := time.Now().UTC()
	gw := &fakeGateway{messages: []telegram.Message{
		channelMessage(2, "deal time 10:00 today", now),
		channelMessage(1, "deal time 10:00 long ago", now.AddDate(-1, 0, 0)),
	}}
	svc, _ := newTestService(t, gw)

	count, err := svc.FetchWindow(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestFetchWindow_LargeBatchFlushes(t *testing.T) {
	now := time.Now().UTC()
	gw := &fakeGateway{}
	for i := int64(1); i <= 120; i++ {
		gw.messages = append(gw.messages,
			channelMessage(i, "time until the deal keeps shifting", now.Add(-time.Duration(i)*time.Minute)))
	}
	svc, store := newTestService(t, gw)
	ctx := context.Background()

	count, err := svc.FetchWindow(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 120, count)

	total, err := store.CountUpdates(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(120), total)
}

func TestReload_DeletesBeforeRefetch(t *testing.T) {
	now := time.Now().UTC()
	gw := &fakeGateway{messages: []telegram.Message{
		channelMessage(50, "time until the deal: 10:00", now),
	}}
	svc, store := newTestService(t, gw)
	ctx := context.Background()

	_, err := svc.FetchAndStore(ctx, 5)
	require.NoError(t, err)

	// Message 50 still inside the latest-N window: deleted then re-admitted.
	count, err := svc.Reload(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Message no longer served by the channel: deletion still happens even
	// though the refetch finds nothing.
	gw.messages = nil
	count, err = svc.Reload(ctx, 50)
	require.NoError(t, err)
	assert.Zero(t, count)

	exists, err := store.ExistsByMessageID(ctx, 50)
	require.NoError(t, err)
	assert.False(t, exists, "reload guarantees removal, not re-creation")
}

func TestReload_MissingMessageIsNotAnError(t *testing.T) {
	gw := &fakeGateway{}
	svc, _ := newTestService(t, gw)

	count, err := svc.Reload(context.Background(), 999)
	require.NoError(t, err)
	assert.Zero(t, count)
}
