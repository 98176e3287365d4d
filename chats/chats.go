package chats

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrChatExists      = errors.New("chat already exists")
	ErrInvalidChatName = errors.New("invalid chat name")
)

// ConflictMessage is the body returned to callers when a room name is taken.
const ConflictMessage = "Chat name already exists"

// ChatRoom is a directory entry. The room name doubles as the messaging topic.
type ChatRoom struct {
	ChatName  string    `json:"chatName" validate:"required,min=1,max=64,excludesall=/"`
	CreatedBy string    `json:"-"`
	CreatedAt time.Time `json:"-"`
}

// ConflictError is returned by CreateRoom when the name is already registered.
type ConflictError struct {
	ChatName string
}

func (e *ConflictError) Error() string {
	return ConflictMessage
}

func (e *ConflictError) Unwrap() error {
	return ErrChatExists
}

type Service struct {
	repo     Repo
	validate *validator.Validate
	nowFunc  func() time.Time
	logger   zerolog.Logger
}

type ServiceOption func(*Service)

func WithNowFunc(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowFunc = now
	}
}

func WithLogger(logger zerolog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

func NewService(repo Repo, options ...ServiceOption) *Service {
	s := &Service{
		repo:     repo,
		validate: validator.New(),
		nowFunc:  time.Now,
		logger:   log.Logger.With().Str("component", "chats").Logger(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// CreateRoom registers chatName. Creation is conditional: an existing name yields a ConflictError
// and the stored room is left untouched.
func (s *Service) CreateRoom(chatName, createdBy string) (*ChatRoom, error) {
	room := &ChatRoom{
		ChatName:  strings.TrimSpace(chatName),
		CreatedBy: createdBy,
		CreatedAt: s.nowFunc().UTC(),
	}
	if err := s.validate.Struct(room); err != nil {
		return nil, errors.Join(ErrInvalidChatName, err)
	}

	if err := s.repo.Create(room); err != nil {
		if errors.Is(err, ErrChatExists) {
			return nil, &ConflictError{ChatName: room.ChatName}
		}
		return nil, err
	}
	s.logger.Info().Str("chat_name", room.ChatName).Str("created_by", createdBy).Msg("Chat room created")
	return room, nil
}

// ListRooms returns every room sorted by name.
func (s *Service) ListRooms() ([]*ChatRoom, error) {
	rooms, err := s.repo.List()
	if err != nil {
		return nil, err
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].ChatName < rooms[j].ChatName
	})
	return rooms, nil
}
