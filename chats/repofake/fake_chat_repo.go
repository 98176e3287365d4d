package repofake

import (
	"sync"

	"github.com/jrsteele09/go-chat-server/chats"
)

var _ chats.Repo = (*FakeChatRepo)(nil)

type FakeChatRepo struct {
	rooms map[string]*chats.ChatRoom
	lock  sync.RWMutex
}

func NewFakeChatRepo() *FakeChatRepo {
	return &FakeChatRepo{
		rooms: make(map[string]*chats.ChatRoom),
	}
}

func (r *FakeChatRepo) Create(room *chats.ChatRoom) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.rooms[room.ChatName]; ok {
		return chats.ErrChatExists
	}
	stored := *room
	r.rooms[room.ChatName] = &stored
	return nil
}

func (r *FakeChatRepo) List() ([]*chats.ChatRoom, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	rooms := make([]*chats.ChatRoom, 0, len(r.rooms))
	for _, v := range r.rooms {
		room := *v
		rooms = append(rooms, &room)
	}
	return rooms, nil
}
