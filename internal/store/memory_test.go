package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedWaitingNote(t *testing.T, s *MemoryStore, id string) {
	t.Helper()
	require.NoError(t, s.InsertNote(context.Background(), Note{
		ID:               id,
		ConferenceID:     "CONF",
		SenderID:         "p-d",
		RecipientID:      "p-c",
		Body:             "hello",
		Status:           NoteWaiting,
		SenderRole:       "delegate",
		RecipientRole:    "chair",
		RequiresApproval: true,
		CreatedAt:        time.Now().UTC(),
	}))
}

func TestMemoryLockIsMutuallyExclusive(t *testing.T) {
	s := NewMemoryStore()
	seedWaitingNote(t, s, "note-1")

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			moderator := "mod-" + string(rune('a'+i))
			ok, err := s.LockNote(context.Background(), "note-1", moderator, time.Now())
			assert.NoError(t, err)
			if ok {
				atomic.AddInt32(&wins, 1)
			}
		}(i)
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins)
}

func TestMemoryRelockBySameHolder(t *testing.T) {
	s := NewMemoryStore()
	seedWaitingNote(t, s, "note-1")
	ctx := context.Background()

	ok, err := s.LockNote(ctx, "note-1", "mod-a", time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.LockNote(ctx, "note-1", "mod-a", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryTerminalStatesAreFinal(t *testing.T) {
	s := NewMemoryStore()
	seedWaitingNote(t, s, "note-1")
	ctx := context.Background()
	now := time.Now()

	ok, _ := s.ApproveNote(ctx, "note-1", "mod-a", now)
	assert.False(t, ok, "approve without lock")

	ok, _ = s.LockNote(ctx, "note-1", "mod-a", now)
	require.True(t, ok)
	ok, _ = s.ApproveNote(ctx, "note-1", "mod-a", now)
	require.True(t, ok)

	note, err := s.GetNote(ctx, "note-1")
	require.NoError(t, err)
	assert.Equal(t, NoteApproved, note.Status)
	assert.Nil(t, note.LockedBy)

	ok, _ = s.LockNote(ctx, "note-1", "mod-a", now)
	assert.False(t, ok)
	ok, _ = s.RejectNote(ctx, "note-1", "mod-a", "late", now)
	assert.False(t, ok)
}

func TestMemoryPendingHidesOtherLocks(t *testing.T) {
	s := NewMemoryStore()
	seedWaitingNote(t, s, "note-1")
	seedWaitingNote(t, s, "note-2")
	ctx := context.Background()

	ok, _ := s.LockNote(ctx, "note-1", "mod-a", time.Now())
	require.True(t, ok)

	forB, err := s.ListPendingNotes(ctx, "mod-b")
	require.NoError(t, err)
	require.Len(t, forB, 1)
	assert.Equal(t, "note-2", forB[0].ID)

	forA, _ := s.ListPendingNotes(ctx, "mod-a")
	assert.Len(t, forA, 2)

	all, _ := s.ListPendingNotes(ctx, "")
	assert.Len(t, all, 2)
}

func TestMemoryDeleteParticipantReleasesLocks(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.InsertParticipant(ctx, Participant{ID: "mod-a", ConferenceID: "CONF", Email: "M@Example.org", Role: "moderator"}))
	seedWaitingNote(t, s, "note-1")
	ok, _ := s.LockNote(ctx, "note-1", "mod-a", time.Now())
	require.True(t, ok)

	deleted, err := s.DeleteParticipant(ctx, "mod-a")
	require.NoError(t, err)
	assert.True(t, deleted)

	note, _ := s.GetNote(ctx, "note-1")
	assert.Nil(t, note.LockedBy)
}

func TestMemoryParticipantEmailIsCaseInsensitive(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.InsertParticipant(ctx, Participant{ID: "p-1", ConferenceID: "CONF", Email: "Ada@Example.org", Role: "chair"}))

	found, err := s.GetParticipantByEmail(ctx, "ada@example.ORG")
	require.NoError(t, err)
	assert.Equal(t, "p-1", found.ID)

	err = s.InsertParticipant(ctx, Participant{ID: "p-2", ConferenceID: "CONF", Email: "ADA@example.org", Role: "delegate"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestMemoryReturnedNotesDoNotAliasState(t *testing.T) {
	s := NewMemoryStore()
	seedWaitingNote(t, s, "note-1")
	ctx := context.Background()
	ok, _ := s.LockNote(ctx, "note-1", "mod-a", time.Now())
	require.True(t, ok)

	note, _ := s.GetNote(ctx, "note-1")
	*note.LockedBy = "mod-z"

	again, _ := s.GetNote(ctx, "note-1")
	assert.Equal(t, "mod-a", *again.LockedBy)
}

func TestMemoryUpdateParticipantReleasesLocksWhenAsked(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.InsertParticipant(ctx, Participant{ID: "mod-a", ConferenceID: "CONF", Email: "m@example.org", Role: "moderator"}))
	seedWaitingNote(t, s, "note-1")
	ok, _ := s.LockNote(ctx, "note-1", "mod-a", time.Now())
	require.True(t, ok)

	updated, err := s.UpdateParticipant(ctx, "mod-a", ParticipantUpdate{Role: "administrator"})
	require.NoError(t, err)
	require.True(t, updated)
	note, _ := s.GetNote(ctx, "note-1")
	if note.LockedBy == nil {
		t.Fatal("lock released without ReleaseLocks")
	}

	_, err = s.UpdateParticipant(ctx, "mod-a", ParticipantUpdate{Role: "chair", ReleaseLocks: true})
	require.NoError(t, err)
	note, _ = s.GetNote(ctx, "note-1")
	if note.LockedBy != nil {
		t.Fatalf("lock still held by %s", *note.LockedBy)
	}
}
