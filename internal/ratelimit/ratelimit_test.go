package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestCheckDeniesPastLimit(t *testing.T) {
	l := NewMemoryLimiter()
	ctx := context.Background()

	for i := 1; i <= 20; i++ {
		res, err := l.Check(ctx, CustomerBucket("t1", "+201000000001"), 20)
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("check %d should be allowed", i)
		}
		if want := 20 - i; res.Remaining != want {
			t.Errorf("check %d: remaining = %d, want %d", i, res.Remaining, want)
		}
	}

	// 21st through 25th are denied with a positive window remainder.
	for i := 21; i <= 25; i++ {
		res, err := l.Check(ctx, CustomerBucket("t1", "+201000000001"), 20)
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if res.Allowed {
			t.Fatalf("check %d should be denied", i)
		}
		if res.RetryIn <= 0 {
			t.Errorf("check %d: RetryIn = %v, want > 0", i, res.RetryIn)
		}
	}
}

func TestCheckResetsAfterWindow(t *testing.T) {
	l := NewMemoryLimiter()
	now := time.Now()
	l.SetClock(func() time.Time { return now })
	ctx := context.Background()

	bucket := TenantInboundBucket("t1")
	for i := 0; i < 3; i++ {
		l.Check(ctx, bucket, 3)
	}
	if res, _ := l.Check(ctx, bucket, 3); res.Allowed {
		t.Fatal("4th check in window should be denied")
	}

	now = now.Add(DefaultWindow + time.Second)
	res, _ := l.Check(ctx, bucket, 3)
	if !res.Allowed {
		t.Fatal("check after window reset should be allowed")
	}
	if res.Remaining != 2 {
		t.Errorf("remaining after reset = %d, want 2", res.Remaining)
	}
}

func TestBucketsIndependent(t *testing.T) {
	l := NewMemoryLimiter()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		l.Check(ctx, CustomerBucket("t1", "+201000000001"), 5)
	}
	if res, _ := l.Check(ctx, CustomerBucket("t1", "+201000000001"), 5); res.Allowed {
		t.Fatal("exhausted customer should be denied")
	}
	if res, _ := l.Check(ctx, CustomerBucket("t1", "+201000000002"), 5); !res.Allowed {
		t.Fatal("other customer should not share the bucket")
	}
	if res, _ := l.Check(ctx, TenantInboundBucket("t1"), 5); !res.Allowed {
		t.Fatal("tenant bucket should not share the customer bucket")
	}
}

func TestZeroLimitDisablesBucket(t *testing.T) {
	l := NewMemoryLimiter()
	res, err := l.Check(context.Background(), GlobalWebhookBucket(), 0)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Allowed {
		t.Fatal("limit <= 0 means the bucket is not enforced")
	}
}
