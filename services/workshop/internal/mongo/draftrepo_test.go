package mongo

import (
	"context"
	"testing"

	"github.com/aquamarinepk/aqm"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func newTestDraftRepo(mt *mtest.T) *DraftRepo {
	repo := NewDraftRepo(nil, aqm.NewNoopLogger())
	repo.coll = mt.Coll
	return repo
}

func namespace(mt *mtest.T) string {
	return mt.Coll.Database().Name() + "." + mt.Coll.Name()
}

func TestDraftRepo(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()

	mt.Run("getFound", func(mt *mtest.T) {
		repo := newTestDraftRepo(mt)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "jobcard:draft:u1"},
			{Key: "value", Value: []byte(`{"notes":"x"}`)},
		}))

		value, ok, err := repo.Get(ctx, "jobcard:draft:u1")
		if err != nil {
			mt.Fatalf("Get() error = %v", err)
		}
		if !ok || string(value) != `{"notes":"x"}` {
			mt.Errorf("Get() = %q, %v", value, ok)
		}
	})

	mt.Run("getMissing", func(mt *mtest.T) {
		repo := newTestDraftRepo(mt)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch))

		value, ok, err := repo.Get(ctx, "jobcard:draft:nobody")
		if err != nil {
			mt.Fatalf("Get() error = %v", err)
		}
		if ok || value != nil {
			mt.Errorf("Get() = %q, %v; want nothing", value, ok)
		}
	})

	mt.Run("getError", func(mt *mtest.T) {
		repo := newTestDraftRepo(mt)
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 2, Message: "bad query"}))

		if _, _, err := repo.Get(ctx, "jobcard:draft:u1"); err == nil {
			mt.Error("Get() error = nil")
		}
	})

	mt.Run("setUpserts", func(mt *mtest.T) {
		repo := newTestDraftRepo(mt)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}))

		if err := repo.Set(ctx, "jobcard:draft:u1", []byte(`{}`)); err != nil {
			mt.Fatalf("Set() error = %v", err)
		}
		started := mt.GetStartedEvent()
		if started == nil || started.CommandName != "update" {
			mt.Fatalf("command = %+v, want update", started)
		}
		upsert, err := started.Command.LookupErr("updates", "0", "upsert")
		if flag, ok := upsert.BooleanOK(); err != nil || !ok || !flag {
			mt.Errorf("upsert flag = %v (%v), want true", upsert, err)
		}
	})

	mt.Run("setError", func(mt *mtest.T) {
		repo := newTestDraftRepo(mt)
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 11000, Message: "duplicate"}))

		if err := repo.Set(ctx, "jobcard:draft:u1", []byte(`{}`)); err == nil {
			mt.Error("Set() error = nil")
		}
	})

	mt.Run("remove", func(mt *mtest.T) {
		repo := newTestDraftRepo(mt)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}))

		if err := repo.Remove(ctx, "jobcard:draft:u1"); err != nil {
			mt.Fatalf("Remove() error = %v", err)
		}
		if started := mt.GetStartedEvent(); started == nil || started.CommandName != "delete" {
			mt.Errorf("command = %+v, want delete", started)
		}
	})
}

func TestDraftRepoNotStarted(t *testing.T) {
	repo := NewDraftRepo(nil, nil)
	ctx := context.Background()

	if _, _, err := repo.Get(ctx, "k"); err == nil {
		t.Error("Get() error = nil before Start")
	}
	if err := repo.Set(ctx, "k", nil); err == nil {
		t.Error("Set() error = nil before Start")
	}
	if err := repo.Remove(ctx, "k"); err == nil {
		t.Error("Remove() error = nil before Start")
	}
	if err := repo.Stop(ctx); err != nil {
		t.Errorf("Stop() before Start error = %v", err)
	}
}
