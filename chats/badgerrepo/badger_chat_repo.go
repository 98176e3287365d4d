package badgerrepo

import (
	"encoding/json"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/jrsteele09/go-chat-server/chats"
	"github.com/pkg/errors"
)

var _ chats.Repo = (*ChatRepo)(nil)

const keyPrefix = "chat:"

type ChatRepo struct {
	db *badger.DB
}

func New(db *badger.DB) *ChatRepo {
	return &ChatRepo{db: db}
}

// Open opens (or creates) a badger database in dir.
func Open(dir string) (*badger.DB, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open badger at %s", dir)
	}
	return db, nil
}

type storedRoom struct {
	ChatName  string `json:"chatName"`
	CreatedBy string `json:"createdBy"`
	CreatedAt int64  `json:"createdAt"`
}

func (r *ChatRepo) Create(room *chats.ChatRoom) error {
	data, err := json.Marshal(storedRoom{
		ChatName:  room.ChatName,
		CreatedBy: room.CreatedBy,
		CreatedAt: room.CreatedAt.UnixMilli(),
	})
	if err != nil {
		return errors.Wrap(err, "marshal failed")
	}

	return r.db.Update(func(txn *badger.Txn) error {
		key := []byte(keyPrefix + room.ChatName)
		if _, err := txn.Get(key); err == nil {
			return chats.ErrChatExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return errors.Wrap(err, "failed to check chat")
		}
		return txn.Set(key, data)
	})
}

func (r *ChatRepo) List() ([]*chats.ChatRoom, error) {
	rooms := make([]*chats.ChatRoom, 0)
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var stored storedRoom
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &stored)
			}); err != nil {
				return errors.Wrap(err, "unmarshal failed")
			}
			rooms = append(rooms, toChatRoom(stored))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rooms, nil
}

func toChatRoom(s storedRoom) *chats.ChatRoom {
	return &chats.ChatRoom{
		ChatName:  s.ChatName,
		CreatedBy: s.CreatedBy,
		CreatedAt: time.UnixMilli(s.CreatedAt).UTC(),
	}
}
