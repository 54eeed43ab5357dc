package dynamodb_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/Mu-L/linera-protocol/storage/kv"
	"github.com/Mu-L/linera-protocol/storage/kv/dynamodb"
	"github.com/Mu-L/linera-protocol/utils/uuid"
	"github.com/google/go-cmp/cmp"
)

func TestCheckNamespace(t *testing.T) {
	valid := []string{
		"abc",
		"table-1",
		"my_table.v2",
		strings.Repeat("a", 255),
	}

	for _, namespace := range valid {
		if err := dynamodb.CheckNamespace(namespace); err != nil {
			t.Errorf("expected %q to be accepted: %s", namespace, err.Error())
		}
	}

	invalid := []string{
		"",
		"ab",
		strings.Repeat("a", 256),
		"has space",
		"has/slash",
		"hash#table",
	}

	for _, namespace := range invalid {
		err := dynamodb.CheckNamespace(namespace)

		if !errors.Is(err, kv.ErrInvalidNamespace) {
			t.Errorf("expected %q to be rejected with ErrInvalidNamespace, got %v", namespace, err)
		}
	}
}

func TestDefaultLimitsMatchServiceConstraints(t *testing.T) {
	expected := kv.Limits{
		MaxKeySize:         1024,
		MaxValueSize:       409600,
		MaxInlineValueSize: 409600,
		MaxBatchItems:      100,
		MaxBatchBytes:      4_000_000,
	}

	if diff := cmp.Diff(expected, dynamodb.DefaultLimits()); diff != "" {
		t.Fatalf(diff)
	}
}

func TestChunkingAgainstDefaultLimits(t *testing.T) {
	batch := kv.NewBatch()

	for i := 0; i < 250; i++ {
		batch.Put([]byte{byte(i), byte(i >> 8), 1}, []byte{1})
	}

	chunks, err := batch.Chunks(dynamodb.DefaultLimits())

	if err != nil {
		t.Fatalf("could not chunk: %s", err.Error())
	}

	if len(chunks) != 3 {
		t.Fatalf("expected 250 items to form 3 transactions of at most 100, got %d", len(chunks))
	}

	for _, chunk := range chunks {
		if len(chunk) > 100 {
			t.Fatalf("transaction exceeds the 100 item cap: %d", len(chunk))
		}
	}
}

// Integration tests run only against DynamoDB Local.

func localConfig(t *testing.T) dynamodb.Config {
	t.Helper()

	if os.Getenv(dynamodb.EndpointEnv) == "" {
		t.Skipf("set %s to run DynamoDB integration tests", dynamodb.EndpointEnv)
	}

	return dynamodb.Config{}
}

func TestIntegrationRoundTrip(t *testing.T) {
	config := localConfig(t)
	ctx := context.Background()
	namespace := "test-" + uuid.MustUUID()

	if err := dynamodb.CreateNamespace(ctx, config, namespace); err != nil {
		t.Fatalf("could not create namespace: %s", err.Error())
	}

	defer func() {
		if err := dynamodb.DeleteNamespace(ctx, config, namespace); err != nil {
			t.Errorf("could not delete namespace: %s", err.Error())
		}
	}()

	db, err := dynamodb.Connect(ctx, config, namespace)

	if err != nil {
		t.Fatalf("could not connect: %s", err.Error())
	}

	store, err := db.Open([]byte("root"))

	if err != nil {
		t.Fatalf("could not open store: %s", err.Error())
	}

	batch := kv.NewBatch().
		Put([]byte("alpha"), []byte("1")).
		Put([]byte("beta"), []byte("2"))

	if err := store.WriteBatch(ctx, batch); err != nil {
		t.Fatalf("could not write: %s", err.Error())
	}

	value, err := store.ReadValue(ctx, []byte("alpha"))

	if err != nil {
		t.Fatalf("could not read: %s", err.Error())
	}

	if !bytes.Equal(value, []byte("1")) {
		t.Fatalf("expected %q, got %q", "1", value)
	}

	keys, err := store.FindKeysByPrefix(ctx, []byte("a"))

	if err != nil {
		t.Fatalf("could not scan: %s", err.Error())
	}

	if diff := cmp.Diff([][]byte{[]byte("alpha")}, keys); diff != "" {
		t.Fatalf(diff)
	}

	rootKeys, err := db.ListRootKeys(ctx)

	if err != nil {
		t.Fatalf("could not list root keys: %s", err.Error())
	}

	if diff := cmp.Diff([][]byte{[]byte("root")}, rootKeys); diff != "" {
		t.Fatalf(diff)
	}
}
