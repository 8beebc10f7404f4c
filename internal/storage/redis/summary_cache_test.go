package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"BloodBank-Chain/internal/records"
)

// fakeRedis 以 hook 的方式截获命令，测试无需真实 Redis。
type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
	args map[string][]any
	fail error
}

func newFakeClient(t *testing.T) (*goredis.Client, *fakeRedis) {
	t.Helper()
	fake := &fakeRedis{data: make(map[string]string), args: make(map[string][]any)}
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"})
	client.AddHook(fake)
	t.Cleanup(func() { _ = client.Close() })
	return client, fake
}

func (f *fakeRedis) DialHook(next goredis.DialHook) goredis.DialHook { return next }

func (f *fakeRedis) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return next
}

func (f *fakeRedis) ProcessHook(goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.fail != nil {
			return f.fail
		}
		args := cmd.Args()
		f.args[cmd.Name()] = args
		key := fmt.Sprint(args[1])
		switch c := cmd.(type) {
		case *goredis.StringCmd:
			value, ok := f.data[key]
			if !ok {
				return goredis.Nil
			}
			c.SetVal(value)
		case *goredis.StatusCmd:
			switch v := args[2].(type) {
			case []byte:
				f.data[key] = string(v)
			default:
				f.data[key] = fmt.Sprint(v)
			}
			c.SetVal("OK")
		case *goredis.IntCmd:
			var n int64
			if _, ok := f.data[key]; ok {
				delete(f.data, key)
				n = 1
			}
			c.SetVal(n)
		default:
			return fmt.Errorf("unexpected command %s", cmd.Name())
		}
		return nil
	}
}

func TestSummaryCacheRoundTrip(t *testing.T) {
	client, fake := newFakeClient(t)
	cache := NewSummaryCache(client, "", time.Minute)
	ctx := context.Background()

	if _, ok, err := cache.Get(ctx); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	summary := []records.InventorySummary{
		{BloodType: "A+", Quantity: 5, Available: 3, Reserved: 2},
		{BloodType: "O-", Quantity: 1, Available: 1},
	}
	if err := cache.Set(ctx, summary); err != nil {
		t.Fatalf("set: %v", err)
	}
	setArgs := fake.args["set"]
	if len(setArgs) != 5 || setArgs[1] != defaultSummaryKey {
		t.Fatalf("unexpected set args: %v", setArgs)
	}

	got, ok, err := cache.Get(ctx)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if len(got) != 2 || got[0] != summary[0] || got[1] != summary[1] {
		t.Fatalf("unexpected summary: %+v", got)
	}

	if err := cache.Invalidate(ctx); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok, _ := cache.Get(ctx); ok {
		t.Fatalf("expected miss after invalidate")
	}
}

func TestSummaryCacheWithoutTTL(t *testing.T) {
	client, fake := newFakeClient(t)
	cache := NewSummaryCache(client, "custom", 0)
	if err := cache.Set(context.Background(), nil); err != nil {
		t.Fatalf("set: %v", err)
	}
	if args := fake.args["set"]; len(args) != 3 {
		t.Fatalf("expected no expiry arguments, got %v", args)
	}
	if fake.data["custom"] != "[]" {
		t.Fatalf("unexpected payload %q", fake.data["custom"])
	}
}

func TestSummaryCacheCorruptPayloadIsMiss(t *testing.T) {
	client, fake := newFakeClient(t)
	fake.data[defaultSummaryKey] = "{not json"
	cache := NewSummaryCache(client, "", time.Minute)

	if _, ok, err := cache.Get(context.Background()); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if _, exists := fake.data[defaultSummaryKey]; exists {
		t.Fatalf("corrupt entry should be removed")
	}
}

func TestSummaryCacheErrors(t *testing.T) {
	client, fake := newFakeClient(t)
	fake.fail = errors.New("connection refused")
	cache := NewSummaryCache(client, "", time.Minute)
	ctx := context.Background()

	if _, _, err := cache.Get(ctx); err == nil {
		t.Fatalf("expected get error")
	}
	if err := cache.Set(ctx, nil); err == nil {
		t.Fatalf("expected set error")
	}
	if err := cache.Invalidate(ctx); err == nil {
		t.Fatalf("expected invalidate error")
	}
}

func TestServiceUsesSummaryCache(t *testing.T) {
	client, fake := newFakeClient(t)
	cache := NewSummaryCache(client, "", time.Minute)
	svc := records.NewService(records.NewMemoryStore(), records.WithSummaryCache(cache))
	ctx := context.Background()

	if _, err := svc.AddInventory(ctx, records.InventoryInput{BloodType: "B+", Quantity: 4}); err != nil {
		t.Fatalf("add inventory: %v", err)
	}
	first, err := svc.InventorySummary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if len(first) != 1 || first[0].Available != 4 {
		t.Fatalf("unexpected summary: %+v", first)
	}
	if _, ok := fake.data[defaultSummaryKey]; !ok {
		t.Fatalf("summary should be cached")
	}

	svc.InvalidateSummary(ctx)
	if _, ok := fake.data[defaultSummaryKey]; ok {
		t.Fatalf("summary should be invalidated")
	}
}
