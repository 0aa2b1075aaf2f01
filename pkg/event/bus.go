package event

import (
	"log"
	"sync"
)

// Handler はイベントを受け取るコールバック。
type Handler func(e *Event)

// Bus はイベントを購読者に同期的に配信する。
// ゼロ値のまま使用できる。
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers []subscription
}

// subscription は購読者の登録情報。
type subscription struct {
	id      int
	handler Handler
}

// NewBus は購読者のいないBusを生成する。
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe はhandlerを登録し、登録を解除する関数を返す。
func (b *Bus) Subscribe(handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, subscription{id: id, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

// remove は指定IDの購読を解除する。
func (b *Bus) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.handlers {
		if s.id == id {
			b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
			return
		}
	}
}

// Publish はeを登録順にすべての購読者へ配信する。
// 購読者がパニックしても残りの購読者への配信は続ける。
func (b *Bus) Publish(e *Event) {
	b.mu.RLock()
	handlers := make([]subscription, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, s := range handlers {
		deliver(s.handler, e)
	}
}

// deliver は1つの購読者にイベントを渡す。
func deliver(h Handler, e *Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Event] 購読者がパニックしました: type=%s, panic=%v", e.Type, r)
		}
	}()
	h(e)
}
