// ABOUTME: Presentation-facing operations on a session: handles, channels,
// ABOUTME: outbound text and avatar management.

package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/2389/gadu-bridge/internal/avatar"
	"github.com/2389/gadu-bridge/internal/channel"
	"github.com/2389/gadu-bridge/internal/handle"
)

var (
	// ErrInvalidHandle indicates a requested identifier cannot address
	// anything on this protocol.
	ErrInvalidHandle = errors.New("invalid handle identifier")

	// ErrNotAvailable indicates the operation is not supported for the
	// requested handle or channel type.
	ErrNotAvailable = errors.New("not available")

	// ErrNotConnected indicates the session has no live client.
	ErrNotConnected = errors.New("session not connected")
)

// RequestHandles resolves identity strings to handles. Contact identifiers
// must be numeric account numbers; anything that does not parse is rejected
// before any handle is created.
func (s *Session) RequestHandles(t handle.Type, names []string) ([]*handle.Handle, error) {
	switch t {
	case handle.TypeContact:
	case handle.TypeList, handle.TypeGroup, handle.TypeRoom:
		// List, group and room names are free-form.
		out := make([]*handle.Handle, len(names))
		for i, name := range names {
			out[i] = s.registry.ResolveOrCreate(t, name)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: handle type %s", ErrNotAvailable, t)
	}

	for _, name := range names {
		if _, err := strconv.ParseUint(name, 10, 32); err != nil {
			return nil, fmt.Errorf("%w: %q is not an account number", ErrInvalidHandle, name)
		}
	}
	out := make([]*handle.Handle, len(names))
	for i, name := range names {
		out[i] = s.registry.ResolveOrCreate(handle.TypeContact, name)
	}
	return out, nil
}

// RequestChannel resolves (or creates) the conversation channel for a handle
// the presentation layer already holds. Requested channels share identity
// with channels created by inbound traffic.
func (s *Session) RequestChannel(t handle.Type, id uint32) (*channel.Channel, error) {
	target, err := s.registry.ByID(t, id)
	if err != nil {
		return nil, err
	}

	switch t {
	case handle.TypeContact, handle.TypeRoom:
		ch, _ := s.channels.ResolveOrCreate(channel.TextProps(target), target, s.self, false)
		return ch, nil
	case handle.TypeList, handle.TypeGroup:
		ch, _ := s.channels.ResolveOrCreate(channel.ListProps(target), target, s.self, false)
		return ch, nil
	default:
		return nil, fmt.Errorf("%w: channels for %s handles", ErrNotAvailable, t)
	}
}

// SendText delivers outbound text on a channel. For a room channel the text
// goes to every member except the sender.
func (s *Session) SendText(ctx context.Context, ch *channel.Channel, text string) error {
	client := s.currentClient()
	if client == nil {
		return ErrNotConnected
	}

	switch ch.Target.Type {
	case handle.TypeContact:
		uin, err := strconv.ParseUint(ch.Target.Name, 10, 32)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidHandle, ch.Target.Name)
		}
		return client.SendMessage(ctx, uint32(uin), text)

	case handle.TypeRoom:
		selfName := s.self.Name
		for _, member := range ch.Members() {
			if member.Name == selfName {
				continue
			}
			uin, err := strconv.ParseUint(member.Name, 10, 32)
			if err != nil {
				return fmt.Errorf("%w: %q", ErrInvalidHandle, member.Name)
			}
			if err := client.SendMessage(ctx, uint32(uin), text); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("%w: sending to %s channels", ErrNotAvailable, ch.Target.Type)
	}
}

// AvatarRequirements reports the static constraints avatars must meet.
func (s *Session) AvatarRequirements() avatar.Requirements {
	return avatar.StaticRequirements()
}

// SetAvatar uploads avatar bytes for the logged-in account and returns the
// token the presentation layer should associate with the self handle. The
// self token is derived from the account number, not the image content.
func (s *Session) SetAvatar(ctx context.Context, data []byte, mimeType string) (string, error) {
	client := s.currentClient()
	if client == nil {
		return "", ErrNotConnected
	}

	ext, err := extensionFor(mimeType)
	if err != nil {
		return "", err
	}
	if len(data) > avatar.MaximumBytes {
		return "", fmt.Errorf("%w: avatar exceeds %d bytes", ErrNotAvailable, avatar.MaximumBytes)
	}
	if err := client.UploadAvatar(ctx, data, ext); err != nil {
		return "", err
	}
	return hex.EncodeToString([]byte(formatUIN(s.settings.UIN))), nil
}

// RequestAvatars starts an avatar fetch for each contact handle. Results
// arrive asynchronously as avatar notifications; handles of other types are
// skipped.
func (s *Session) RequestAvatars(ctx context.Context, handles []*handle.Handle) {
	for _, h := range handles {
		if h.Type != handle.TypeContact {
			continue
		}
		s.avatars.Request(ctx, h)
	}
}

// KnownAvatarTokens reports the avatar tokens already fetched for the given
// handles. Handles without a fetched avatar are simply absent.
func (s *Session) KnownAvatarTokens(handles []*handle.Handle) map[uint32]string {
	out := make(map[uint32]string)
	for _, h := range handles {
		if h.Type == handle.TypeSelf {
			out[h.ID] = hex.EncodeToString([]byte(h.Name))
			continue
		}
		if token, ok := s.avatars.KnownToken(h); ok {
			out[h.ID] = token
		}
	}
	return out
}

func extensionFor(mimeType string) (string, error) {
	switch mimeType {
	case "image/png":
		return "png", nil
	case "image/jpeg":
		return "jpg", nil
	case "image/gif":
		return "gif", nil
	default:
		return "", fmt.Errorf("%w: avatar type %q", ErrNotAvailable, mimeType)
	}
}
