package store

import (
	"sync"

	"yubal/app/model"
)

// LogFeed 日志多路分发器，把追加的日志实时推送给所有订阅者。
// 推送是非阻塞的：订阅者的缓冲满了就丢弃这条日志，消费慢的一方
// 永远不能拖住任务执行，补齐靠轮询接口的全量快照。
type LogFeed struct {
	mu     sync.Mutex
	subs   map[int]chan model.LogEntry
	nextID int
}

// NewLogFeed 创建日志分发器
func NewLogFeed() *LogFeed {
	return &LogFeed{
		subs: make(map[int]chan model.LogEntry),
	}
}

// Subscribe 订阅后续追加的日志，返回接收通道和退订函数。
// buffer 是通道缓冲大小，退订后通道会被关闭。
func (f *LogFeed) Subscribe(buffer int) (<-chan model.LogEntry, func()) {
	if buffer <= 0 {
		buffer = 64
	}

	f.mu.Lock()
	id := f.nextID
	f.nextID++
	ch := make(chan model.LogEntry, buffer)
	f.subs[id] = ch
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if sub, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish 向所有订阅者推送一条日志
func (f *LogFeed) Publish(entry model.LogEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ch := range f.subs {
		select {
		case ch <- entry:
		default:
			// 订阅者太慢，丢弃
		}
	}
}

// SubscriberCount 当前订阅者数量
func (f *LogFeed) SubscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
