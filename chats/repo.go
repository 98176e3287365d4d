package chats

type Repo interface {
	// Create stores room unless its name is taken, in which case it returns ErrChatExists.
	Create(room *ChatRoom) error
	List() ([]*ChatRoom, error)
}
