package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestRedisSink_Emit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sink := NewRedisSink(client, "cloudidada", time.Second, zerolog.Nop())
	require.Equal(t, "cloudidada:fileUploaded", sink.Channel(EventFileUploaded))

	sub := client.Subscribe(context.Background(), sink.Channel(EventFileUploaded))
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)

	sink.Emit(EventFileUploaded, map[string]any{"userId": "user_1", "fileId": "file_1"})

	select {
	case msg := <-sub.Channel():
		var got Message
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		require.Equal(t, EventFileUploaded, got.Event)
		require.Equal(t, map[string]any{"userId": "user_1", "fileId": "file_1"}, got.Payload)
		require.False(t, got.Timestamp.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("event was not published")
	}
}

func TestRedisSink_UnreachableDoesNotBlock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	sink := NewRedisSink(client, "cloudidada", 50*time.Millisecond, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		sink.Emit(EventFileUploaded, "payload")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked")
	}
}

func TestNop(t *testing.T) {
	require.NotPanics(t, func() { Nop{}.Emit(EventFileUploaded, nil) })
}
