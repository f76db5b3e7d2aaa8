package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/rueidis"
	"github.com/redis/rueidis/mock"
	"go.uber.org/mock/gomock"

	"github.com/kailas-cloud/ragchat/internal/db"
)

func newMockStore(t *testing.T) (*Store, *mock.Client) {
	t.Helper()
	c := mock.NewClient(gomock.NewController(t))
	return &Store{client: c}, c
}

// cmdNamed matches any command whose first word is name.
func cmdNamed(name string) gomock.Matcher {
	return mock.MatchFn(func(cmd []string) bool { return len(cmd) > 0 && cmd[0] == name })
}

func requireOp(t *testing.T, err error, op string) {
	t.Helper()
	var dbErr *db.Error
	if !errors.As(err, &dbErr) {
		t.Fatalf("err = %v (%T), want *db.Error", err, err)
	}
	if dbErr.Op != op {
		t.Errorf("Op = %q, want %q", dbErr.Op, op)
	}
}

func TestPing(t *testing.T) {
	tests := []struct {
		name    string
		reply   rueidis.RedisResult
		wantErr bool
	}{
		{name: "pong", reply: mock.Result(mock.RedisString("PONG"))},
		{name: "timeout", reply: mock.ErrorResult(context.DeadlineExceeded), wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, c := newMockStore(t)
			c.EXPECT().Do(gomock.Any(), mock.Match("PING")).Return(tc.reply)

			err := s.Ping(context.Background())
			if !tc.wantErr {
				if err != nil {
					t.Fatalf("Ping: %v", err)
				}
				return
			}
			requireOp(t, err, db.OpPing)
		})
	}
}

func TestWaitForReady(t *testing.T) {
	t.Run("ready after retry", func(t *testing.T) {
		s, c := newMockStore(t)
		gomock.InOrder(
			c.EXPECT().Do(gomock.Any(), mock.Match("PING")).Return(mock.ErrorResult(errors.New("connection refused"))),
			c.EXPECT().Do(gomock.Any(), mock.Match("PING")).Return(mock.Result(mock.RedisString("PONG"))),
		)
		if err := s.WaitForReady(context.Background(), 5*time.Second); err != nil {
			t.Fatalf("WaitForReady: %v", err)
		}
	})

	t.Run("timeout keeps last ping error", func(t *testing.T) {
		s, c := newMockStore(t)
		refused := errors.New("connection refused")
		c.EXPECT().Do(gomock.Any(), mock.Match("PING")).Return(mock.ErrorResult(refused)).MinTimes(1)

		err := s.WaitForReady(context.Background(), 3*readyPoll/2)
		if !errors.Is(err, context.DeadlineExceeded) || !errors.Is(err, refused) {
			t.Fatalf("err = %v, want deadline and ping error", err)
		}
	})
}

func TestNewStore_RequiresAddrs(t *testing.T) {
	if _, err := NewStore(Config{}); err == nil {
		t.Fatal("expected error without addresses")
	}
}

func TestIsRedisErr(t *testing.T) {
	serverErr := mock.Result(mock.RedisError("ERR Unknown Index name")).Error()
	if !isRedisErr(serverErr, "unknown index NAME") {
		t.Error("server reply should match case-insensitively")
	}
	if isRedisErr(errors.New("unknown index name"), "unknown index name") {
		t.Error("client-side errors must not match")
	}
}
