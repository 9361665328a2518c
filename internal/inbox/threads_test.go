package inbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/project-hub/internal/models"
)

const op = "admin@irongraad.com"

func at(sec int) time.Time {
	return time.Date(2024, 5, 1, 12, 0, sec, 0, time.UTC)
}

func TestBuildThreads_LastMessageAndUnread(t *testing.T) {
	msgs := []*models.Message{
		{From: "a@x.com", To: op, Timestamp: at(1), Read: false},
		{From: op, To: "a@x.com", Timestamp: at(2), Read: true},
	}
	threads := BuildThreads(op, msgs)
	require.Len(t, threads, 1)
	assert.Equal(t, "a@x.com", threads[0].ContactEmail)
	assert.Equal(t, at(2), threads[0].LastMessage.Timestamp)
	assert.Equal(t, 1, threads[0].UnreadCount, "the inbound message is still unread")
}

func TestBuildThreads_ReadReplyClearsNothing(t *testing.T) {
	msgs := []*models.Message{
		{From: "a@x.com", To: op, Timestamp: at(1), Read: true},
		{From: op, To: "a@x.com", Timestamp: at(2), Read: true},
	}
	threads := BuildThreads(op, msgs)
	require.Len(t, threads, 1)
	assert.Equal(t, at(2), threads[0].LastMessage.Timestamp)
	assert.Equal(t, 0, threads[0].UnreadCount)
}

func TestBuildThreads_OrderedNewestFirst(t *testing.T) {
	msgs := []*models.Message{
		{From: "a@x.com", To: op, Timestamp: at(1)},
		{From: "b@x.com", To: op, Timestamp: at(2)},
	}
	threads := BuildThreads(op, msgs)
	require.Len(t, threads, 2)
	assert.Equal(t, "b@x.com", threads[0].ContactEmail)
	assert.Equal(t, "a@x.com", threads[1].ContactEmail)
	assert.Equal(t, 1, threads[0].UnreadCount)
	assert.Equal(t, 1, threads[1].UnreadCount)
}

func TestBuildThreads_TiesGoToLaterInsert(t *testing.T) {
	first := &models.Message{ID: "1", From: "a@x.com", To: op, Timestamp: at(5), Seq: 1}
	second := &models.Message{ID: "2", From: op, To: "a@x.com", Timestamp: at(5), Seq: 2}

	threads := BuildThreads(op, []*models.Message{second, first})
	require.Len(t, threads, 1)
	assert.Equal(t, "2", threads[0].LastMessage.ID)

	threads = BuildThreads(op, []*models.Message{first, second})
	assert.Equal(t, "2", threads[0].LastMessage.ID)
}

func TestBuildThreads_TiedThreadsKeepStorageOrder(t *testing.T) {
	msgs := []*models.Message{
		{From: "a@x.com", To: op, Timestamp: at(3), Seq: 1},
		{From: "b@x.com", To: op, Timestamp: at(3), Seq: 2},
	}
	threads := BuildThreads(op, msgs)
	require.Len(t, threads, 2)
	assert.Equal(t, "b@x.com", threads[0].ContactEmail)
}

func TestBuildThreads_OperatorCaseInsensitive(t *testing.T) {
	msgs := []*models.Message{
		{From: "a@x.com", To: "Admin@Irongraad.com", Timestamp: at(1)},
	}
	threads := BuildThreads("ADMIN@irongraad.com", msgs)
	require.Len(t, threads, 1)
	assert.Equal(t, "a@x.com", threads[0].ContactEmail)
	assert.Equal(t, 1, threads[0].UnreadCount)
}

func TestBuildThreads_Empty(t *testing.T) {
	assert.Empty(t, BuildThreads(op, nil))
}
