package mongo

import (
	"errors"
	"fmt"
	"testing"

	"go.mongodb.org/mongo-driver/mongo"
)

func TestIsStoreError(t *testing.T) {
	if IsStoreError(nil) {
		t.Fatal("nil is not a store error")
	}
	if IsStoreError(errors.New("boom")) {
		t.Fatal("plain errors are not store errors")
	}
	wrapped := fmt.Errorf("insert: %w", mongo.CommandError{Code: 11000, Message: "duplicate key"})
	if !IsStoreError(wrapped) {
		t.Fatal("expected wrapped command error to be a store error")
	}
}

func TestDatabaseFromURI(t *testing.T) {
	cases := map[string]string{
		"mongodb://localhost:27017/audit": "audit",
		"mongodb://localhost:27017":       defaultDatabase,
		"not a uri":                       defaultDatabase,
	}
	for uri, want := range cases {
		if got := databaseFromURI(uri); got != want {
			t.Fatalf("databaseFromURI(%q) = %q, want %q", uri, got, want)
		}
	}
}
