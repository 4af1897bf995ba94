package store

import (
	"testing"
	"time"

	"yubal/app/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeAndPublish(t *testing.T) {
	feed := NewLogFeed()

	ch1, cancel1 := feed.Subscribe(4)
	ch2, cancel2 := feed.Subscribe(4)
	defer cancel1()
	defer cancel2()

	assert.Equal(t, 2, feed.SubscriberCount())

	feed.Publish(model.LogEntry{JobID: "a", Message: "m1"})

	for _, ch := range []<-chan model.LogEntry{ch1, ch2} {
		select {
		case entry := <-ch:
			assert.Equal(t, "m1", entry.Message)
		case <-time.After(time.Second):
			t.Fatal("订阅者没有收到日志")
		}
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	feed := NewLogFeed()

	ch, cancel := feed.Subscribe(2)
	defer cancel()

	done := make(chan struct{})
	go func() {
		// 缓冲只有 2，多发几条也必须立即返回
		for i := 0; i < 10; i++ {
			feed.Publish(model.LogEntry{Message: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish 被慢消费者阻塞")
	}

	// 只留下了缓冲能装下的
	assert.Len(t, ch, 2)
}

func TestCancelClosesChannel(t *testing.T) {
	feed := NewLogFeed()

	ch, cancel := feed.Subscribe(1)
	cancel()

	_, ok := <-ch
	assert.False(t, ok, "退订后通道必须关闭")
	assert.Zero(t, feed.SubscriberCount())

	// 重复退订是安全的
	cancel()

	// 退订后的推送不会 panic
	require.NotPanics(t, func() {
		feed.Publish(model.LogEntry{Message: "after"})
	})
}

func TestSubscribeDefaultBuffer(t *testing.T) {
	feed := NewLogFeed()

	ch, cancel := feed.Subscribe(0)
	defer cancel()

	assert.Equal(t, 64, cap(ch))
}
