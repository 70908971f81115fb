package natskv

import (
	"context"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

var validKey = regexp.MustCompile(`^[-/_=.a-zA-Z0-9]+$`)

func TestKey(t *testing.T) {
	for _, in := range []string{"idem:POST:/api/approve/abc", "key with spaces", "ünïcode*>"} {
		k, err := Key(in)
		if err != nil {
			t.Fatalf("Key(%q): %v", in, err)
		}
		if !validKey.MatchString(k) {
			t.Errorf("Key(%q) = %q, not a valid KV key", in, k)
		}
	}
	if _, err := Key(""); err == nil {
		t.Error("expected error for empty key")
	}
}

func TestCacheRoundTrip(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}
	ctx := context.Background()

	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(nc.Close)
	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatalf("jetstream: %v", err)
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: "hitl-test-kv", TTL: time.Minute})
	if err != nil {
		t.Fatalf("kv: %v", err)
	}
	c := New(kv)

	if err := c.Set(ctx, "idem:a b", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val, found, err := c.Get(ctx, "idem:a b")
	if err != nil || !found || string(val) != "v" {
		t.Fatalf("Get = %q, %v, %v", val, found, err)
	}
	if err := c.Delete(ctx, "idem:a b"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, found, _ := c.Get(ctx, "idem:a b"); found {
		t.Error("expected miss after Delete")
	}
	if err := c.Delete(ctx, "never-there"); err != nil {
		t.Errorf("Delete missing: %v", err)
	}
}
