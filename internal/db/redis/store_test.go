package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/rueidis"
	"github.com/redis/rueidis/mock"
	"go.uber.org/mock/gomock"

	"github.com/kailas-cloud/oppfinder/internal/db"
)

func newMockStore(t *testing.T, timeout time.Duration) (*Store, *mock.Client) {
	t.Helper()
	c := mock.NewClient(gomock.NewController(t))
	return newStore(c, timeout), c
}

func requireOp(t *testing.T, err error, op string) {
	t.Helper()
	var dbErr *db.Error
	if !errors.As(err, &dbErr) || dbErr.Op != op {
		t.Fatalf("expected db.Error with %s op, got %v", op, err)
	}
}

func TestNewStore_RequiresAddrs(t *testing.T) {
	if _, err := NewStore(Config{}); err == nil {
		t.Fatal("expected error for empty addrs")
	}
}

func TestPing(t *testing.T) {
	s, c := newMockStore(t, 0)
	c.EXPECT().Do(gomock.Any(), mock.Match("PING")).Return(mock.Result(mock.RedisString("PONG")))
	c.EXPECT().Do(gomock.Any(), mock.Match("PING")).Return(mock.ErrorResult(context.DeadlineExceeded))

	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("first ping: %v", err)
	}
	requireOp(t, s.Ping(context.Background()), db.OpPing)
}

func TestWaitForReady_RecoversAfterFailures(t *testing.T) {
	s, c := newMockStore(t, 0)
	gomock.InOrder(
		c.EXPECT().Do(gomock.Any(), mock.Match("PING")).Return(mock.ErrorResult(errors.New("loading"))).Times(2),
		c.EXPECT().Do(gomock.Any(), mock.Match("PING")).Return(mock.Result(mock.RedisString("PONG"))),
	)

	if err := s.WaitForReady(context.Background(), 2*time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWaitForReady_Timeout(t *testing.T) {
	s, c := newMockStore(t, 0)
	c.EXPECT().Do(gomock.Any(), mock.Match("PING")).
		Return(mock.ErrorResult(errors.New("connection refused"))).
		AnyTimes()

	err := s.WaitForReady(context.Background(), 200*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout")
	}
	requireOp(t, err, db.OpPing)
}

func TestCommandTimeout(t *testing.T) {
	s, c := newMockStore(t, 50*time.Millisecond)
	c.EXPECT().Do(gomock.Any(), mock.Match("GET", "k")).
		DoAndReturn(func(ctx context.Context, _ rueidis.Completed) rueidis.RedisResult {
			deadline, ok := ctx.Deadline()
			if !ok || time.Until(deadline) > 50*time.Millisecond {
				t.Errorf("command context deadline = %v, %v", deadline, ok)
			}
			return mock.Result(mock.RedisBlobString("v"))
		})

	if _, err := s.Get(context.Background(), "k"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGet(t *testing.T) {
	tests := []struct {
		name    string
		reply   rueidis.RedisResult
		want    string
		wantErr error
		op      string
	}{
		{"hit", mock.Result(mock.RedisBlobString("value")), "value", nil, ""},
		{"miss", mock.Result(mock.RedisNil()), "", db.ErrKeyNotFound, ""},
		{"network", mock.ErrorResult(errors.New("broken pipe")), "", nil, db.OpGet},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, c := newMockStore(t, 0)
			c.EXPECT().Do(gomock.Any(), mock.Match("GET", "oppfinder:resp:abc")).Return(tt.reply)

			data, err := s.Get(context.Background(), "oppfinder:resp:abc")
			switch {
			case tt.op != "":
				if errors.Is(err, db.ErrKeyNotFound) {
					t.Fatal("network errors must not read as a miss")
				}
				requireOp(t, err, tt.op)
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
			default:
				if err != nil || string(data) != tt.want {
					t.Fatalf("Get() = %q, %v", data, err)
				}
			}
		})
	}
}

func TestSet(t *testing.T) {
	s, c := newMockStore(t, 0)
	c.EXPECT().Do(gomock.Any(), mock.Match("SET", "k", "v")).Return(mock.Result(mock.RedisString("OK")))

	if err := s.Set(context.Background(), "k", []byte("v")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSetWithTTL(t *testing.T) {
	tests := []struct {
		name string
		ttl  time.Duration
		ex   string
	}{
		{"response cache ttl", 30 * time.Minute, "1800"},
		{"sub-second rounds up", 200 * time.Millisecond, "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, c := newMockStore(t, 0)
			c.EXPECT().Do(gomock.Any(), mock.Match("SET", "k", "v", "EX", tt.ex)).
				Return(mock.Result(mock.RedisString("OK")))

			if err := s.SetWithTTL(context.Background(), "k", []byte("v"), tt.ttl); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestSetWithTTL_Error(t *testing.T) {
	s, c := newMockStore(t, 0)
	c.EXPECT().Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
		return cmd[0] == "SET" && cmd[1] == "k"
	})).Return(mock.ErrorResult(errors.New("OOM")))

	requireOp(t, s.SetWithTTL(context.Background(), "k", []byte("v"), time.Minute), db.OpSet)
}

func TestIncrBy(t *testing.T) {
	s, c := newMockStore(t, 0)
	c.EXPECT().Do(gomock.Any(), mock.Match("INCRBY", "counter", "5")).Return(mock.Result(mock.RedisInt64(5)))
	c.EXPECT().Do(gomock.Any(), mock.Match("INCRBY", "counter", "1")).
		Return(mock.Result(mock.RedisError("ERR value is not an integer or out of range")))

	if err := s.IncrBy(context.Background(), "counter", 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.IncrBy(context.Background(), "counter", 1); !errors.Is(err, db.ErrNotInteger) {
		t.Fatalf("expected ErrNotInteger, got %v", err)
	}
}

func TestIncrByWithTTL_Pipelined(t *testing.T) {
	key := "oppfinder:budget:openai:daily:2024-03-15"
	tests := []struct {
		name    string
		replies []rueidis.RedisResult
		op      string
	}{
		{"ok", []rueidis.RedisResult{mock.Result(mock.RedisInt64(7)), mock.Result(mock.RedisInt64(1))}, ""},
		{"incr fails", []rueidis.RedisResult{mock.ErrorResult(errors.New("READONLY")), mock.Result(mock.RedisInt64(0))}, db.OpIncrBy},
		{"expire fails", []rueidis.RedisResult{mock.Result(mock.RedisInt64(7)), mock.ErrorResult(errors.New("timeout"))}, db.OpExpire},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, c := newMockStore(t, 0)
			c.EXPECT().DoMulti(gomock.Any(),
				mock.Match("INCRBY", key, "7"),
				mock.Match("EXPIRE", key, "172800", "NX"),
			).Return(tt.replies)

			err := s.IncrByWithTTL(context.Background(), key, 7, 48*time.Hour)
			if tt.op == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			requireOp(t, err, tt.op)
		})
	}
}

func TestExpire(t *testing.T) {
	tests := []struct {
		name string
		nx   bool
		args []string
	}{
		{"plain", false, []string{"EXPIRE", "k", "300"}},
		{"nx", true, []string{"EXPIRE", "k", "300", "NX"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, c := newMockStore(t, 0)
			c.EXPECT().Do(gomock.Any(), mock.Match(tt.args...)).Return(mock.Result(mock.RedisInt64(1)))

			if err := s.Expire(context.Background(), "k", 5*time.Minute, tt.nx); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestDel(t *testing.T) {
	s, c := newMockStore(t, 0)
	c.EXPECT().Do(gomock.Any(), mock.Match("DEL", "k")).Return(mock.Result(mock.RedisInt64(0)))

	if err := s.Del(context.Background(), "k"); err != nil {
		t.Fatalf("missing key should not error: %v", err)
	}
}

func TestExists(t *testing.T) {
	for reply, want := range map[int64]bool{1: true, 0: false} {
		s, c := newMockStore(t, 0)
		c.EXPECT().Do(gomock.Any(), mock.Match("EXISTS", "k")).Return(mock.Result(mock.RedisInt64(reply)))

		got, err := s.Exists(context.Background(), "k")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != want {
			t.Errorf("Exists() with reply %d = %v", reply, got)
		}
	}
}
