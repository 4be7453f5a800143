package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ashita-ai/tasklane/internal/contextpack"
)

// Session is the state of one conversation (user + channel).
type Session struct {
	Key              string
	SlackUserID      string
	Channel          string
	ActiveClientID   string
	ActiveClientName string
	Pending          Pending
	History          []contextpack.Exchange
	UpdatedAt        time.Time
}

// KeyFor returns the session key for a user in a channel.
func KeyFor(slackUserID, channel string) string {
	return "slack:" + slackUserID + ":" + channel
}

// New returns an empty session for a user in a channel.
func New(slackUserID, channel string) *Session {
	return &Session{
		Key:         KeyFor(slackUserID, channel),
		SlackUserID: slackUserID,
		Channel:     channel,
		Pending:     NoPending{},
	}
}

type pendingEnvelope struct {
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

type sessionJSON struct {
	Key              string                 `json:"key"`
	SlackUserID      string                 `json:"slack_user_id"`
	Channel          string                 `json:"channel"`
	ActiveClientID   string                 `json:"active_client_id,omitempty"`
	ActiveClientName string                 `json:"active_client_name,omitempty"`
	Pending          pendingEnvelope        `json:"pending"`
	History          []contextpack.Exchange `json:"history,omitempty"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// MarshalJSON encodes the pending action as a {kind, data} envelope.
func (s Session) MarshalJSON() ([]byte, error) {
	env := pendingEnvelope{Kind: KindNone}
	if s.Pending != nil && s.Pending.Kind() != KindNone {
		data, err := json.Marshal(s.Pending)
		if err != nil {
			return nil, fmt.Errorf("session: marshal pending: %w", err)
		}
		env = pendingEnvelope{Kind: s.Pending.Kind(), Data: data}
	}
	return json.Marshal(sessionJSON{
		Key:              s.Key,
		SlackUserID:      s.SlackUserID,
		Channel:          s.Channel,
		ActiveClientID:   s.ActiveClientID,
		ActiveClientName: s.ActiveClientName,
		Pending:          env,
		History:          s.History,
		UpdatedAt:        s.UpdatedAt,
	})
}

// UnmarshalJSON decodes a session written by MarshalJSON. An unknown pending
// kind decodes as NoPending.
func (s *Session) UnmarshalJSON(data []byte) error {
	var raw sessionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("session: unmarshal: %w", err)
	}
	pending, err := decodePending(raw.Pending)
	if err != nil {
		return err
	}
	*s = Session{
		Key:              raw.Key,
		SlackUserID:      raw.SlackUserID,
		Channel:          raw.Channel,
		ActiveClientID:   raw.ActiveClientID,
		ActiveClientName: raw.ActiveClientName,
		Pending:          pending,
		History:          raw.History,
		UpdatedAt:        raw.UpdatedAt,
	}
	return nil
}

func decodePending(env pendingEnvelope) (Pending, error) {
	var (
		p   Pending
		err error
	)
	switch env.Kind {
	case KindConfirmOrDetails:
		var v AwaitingConfirmOrDetails
		err = json.Unmarshal(env.Data, &v)
		p = v
	case KindASINOrPending:
		var v AwaitingASINOrPending
		err = json.Unmarshal(env.Data, &v)
		p = v
	case KindBrand:
		var v AwaitingBrand
		err = json.Unmarshal(env.Data, &v)
		p = v
	default:
		return NoPending{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: unmarshal pending %s: %w", env.Kind, err)
	}
	return p, nil
}

// Store persists encoded sessions. GetSession returns (nil, nil) when the
// key has no session.
type Store interface {
	GetSession(ctx context.Context, key string) ([]byte, error)
	SaveSession(ctx context.Context, key string, data []byte) error
}

// Service loads and saves sessions. Callers assume no two concurrent updates
// target the same key; the transport delivers one user's messages serially.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates a Service.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Load returns the stored session or a fresh one.
func (s *Service) Load(ctx context.Context, slackUserID, channel string) (*Session, error) {
	key := KeyFor(slackUserID, channel)
	data, err := s.store.GetSession(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("session: load %s: %w", key, err)
	}
	if data == nil {
		return New(slackUserID, channel), nil
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Save stamps UpdatedAt and writes the session.
func (s *Service) Save(ctx context.Context, sess *Session) error {
	sess.UpdatedAt = s.now().UTC()
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session: encode %s: %w", sess.Key, err)
	}
	if err := s.store.SaveSession(ctx, sess.Key, data); err != nil {
		return fmt.Errorf("session: save %s: %w", sess.Key, err)
	}
	return nil
}
