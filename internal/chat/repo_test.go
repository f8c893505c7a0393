package chat

import (
	"context"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/morphly-app/morphly/internal/artifact"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Chat{}, &Message{}, &Vote{}, &Stream{}, &artifact.Document{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func textMessage(id, chatID, role, text string, at time.Time) Message {
	return Message{
		ID:        id,
		ChatID:    chatID,
		Role:      role,
		Parts:     datatypes.NewJSONType([]Part{{Type: PartText, Text: text}}),
		CreatedAt: at,
	}
}

func TestUpsertVote_Overwrites(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	v := &Vote{ChatID: "chat-vote-1", MessageID: "msg-vote-1", IsUpvote: true}
	if err := repo.UpsertVote(ctx, v); err != nil {
		t.Fatalf("upsert up: %v", err)
	}
	if err := repo.UpsertVote(ctx, &Vote{ChatID: "chat-vote-1", MessageID: "msg-vote-1", IsUpvote: false}); err != nil {
		t.Fatalf("upsert down: %v", err)
	}

	votes, err := repo.ListVotes(ctx, "chat-vote-1")
	if err != nil {
		t.Fatalf("list votes: %v", err)
	}
	if len(votes) != 1 {
		t.Fatalf("expected 1 vote after re-vote, got %d", len(votes))
	}
	if votes[0].IsUpvote {
		t.Fatalf("expected re-vote to overwrite to downvote")
	}
}

func TestListMessages_OrderedByCreation(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	msgs := []Message{
		textMessage("msg-ord-2", "chat-ord-1", RoleAssistant, "second", base.Add(2*time.Minute)),
		textMessage("msg-ord-1", "chat-ord-1", RoleUser, "first", base.Add(1*time.Minute)),
		textMessage("msg-ord-3", "chat-ord-1", RoleUser, "third", base.Add(3*time.Minute)),
	}
	if err := repo.CreateMessages(ctx, msgs); err != nil {
		t.Fatalf("create messages: %v", err)
	}

	got, err := repo.ListMessages(ctx, "chat-ord-1")
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	for i, want := range []string{"msg-ord-1", "msg-ord-2", "msg-ord-3"} {
		if got[i].ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, got[i].ID)
		}
	}

	last, err := repo.LastMessage(ctx, "chat-ord-1")
	if err != nil {
		t.Fatalf("last message: %v", err)
	}
	if last == nil || last.ID != "msg-ord-3" {
		t.Fatalf("expected last message msg-ord-3, got %+v", last)
	}
}

func TestDeleteChat_RemovesEverything(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	if err := repo.CreateChat(ctx, &Chat{ID: "chat-del-1", UserID: 1, Title: "doomed"}); err != nil {
		t.Fatalf("create chat: %v", err)
	}
	if err := repo.CreateChat(ctx, &Chat{ID: "chat-del-2", UserID: 1, Title: "survivor"}); err != nil {
		t.Fatalf("create chat: %v", err)
	}
	if err := repo.CreateMessages(ctx, []Message{
		textMessage("msg-del-1", "chat-del-1", RoleUser, "hi", time.Now()),
		textMessage("msg-del-2", "chat-del-2", RoleUser, "hi", time.Now()),
	}); err != nil {
		t.Fatalf("create messages: %v", err)
	}
	if err := repo.UpsertVote(ctx, &Vote{ChatID: "chat-del-1", MessageID: "msg-del-1", IsUpvote: true}); err != nil {
		t.Fatalf("create vote: %v", err)
	}
	if err := repo.CreateStream(ctx, &Stream{ID: "01HDELSTREAM00000000000001", ChatID: "chat-del-1"}); err != nil {
		t.Fatalf("create stream: %v", err)
	}
	if err := db.Create(&artifact.Document{
		DocID: "doc-del-1", ChatID: "chat-del-1", UserID: 1, Title: "gear", Content: "code", Kind: "code",
	}).Error; err != nil {
		t.Fatalf("create document: %v", err)
	}

	if err := repo.DeleteChat(ctx, "chat-del-1"); err != nil {
		t.Fatalf("delete chat: %v", err)
	}

	var n int64
	if err := db.Model(&Chat{}).Where("id = ?", "chat-del-1").Count(&n).Error; err != nil || n != 0 {
		t.Fatalf("expected chat gone, count=%d err=%v", n, err)
	}
	for name, model := range map[string]any{
		"messages": &Message{}, "votes": &Vote{}, "streams": &Stream{}, "documents": &artifact.Document{},
	} {
		if err := db.Model(model).Where("chat_id = ?", "chat-del-1").Count(&n).Error; err != nil {
			t.Fatalf("count %s: %v", name, err)
		}
		if n != 0 {
			t.Fatalf("expected no %s rows for deleted chat, got %d", name, n)
		}
	}

	survivor, err := repo.GetChatByID(ctx, "chat-del-2")
	if err != nil || survivor == nil {
		t.Fatalf("expected other chat untouched, got %+v err=%v", survivor, err)
	}
	msgs, err := repo.ListMessages(ctx, "chat-del-2")
	if err != nil || len(msgs) != 1 {
		t.Fatalf("expected other chat's messages untouched, got %d err=%v", len(msgs), err)
	}
}

func TestLatestStream(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	latest, err := repo.LatestStream(ctx, "chat-ls-1")
	if err != nil {
		t.Fatalf("latest stream: %v", err)
	}
	if latest != nil {
		t.Fatalf("expected nil for chat with no streams")
	}

	// ULIDs sort lexicographically by creation time.
	if err := repo.CreateStream(ctx, &Stream{ID: "01HLATEST00000000000000001", ChatID: "chat-ls-1"}); err != nil {
		t.Fatalf("create stream: %v", err)
	}
	if err := repo.CreateStream(ctx, &Stream{ID: "01HLATEST00000000000000002", ChatID: "chat-ls-1"}); err != nil {
		t.Fatalf("create stream: %v", err)
	}

	latest, err = repo.LatestStream(ctx, "chat-ls-1")
	if err != nil {
		t.Fatalf("latest stream: %v", err)
	}
	if latest == nil || latest.ID != "01HLATEST00000000000000002" {
		t.Fatalf("expected newest stream, got %+v", latest)
	}
}
