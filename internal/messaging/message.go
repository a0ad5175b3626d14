package messaging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrUnsupportedMedia = errors.New("unsupported media type")

type Kind string

const (
	KindText  Kind = "text"
	KindMedia Kind = "media"
)

// Media is a binary attachment.
type Media struct {
	MIMEType string
	Filename string
	Data     []byte
}

// Message is the payload sent to every contact of a run. It is built once
// before dispatch starts and shared read-only by all workers.
type Message struct {
	Kind   Kind
	Text   string // body for KindText, caption for KindMedia
	Media  *Media
	Source string // conversation id when the message was picked from a chat
	IsTest bool
}

func TextMessage(body string) Message {
	return Message{Kind: KindText, Text: body}
}

func MediaMessage(m Media, caption string) Message {
	return Message{Kind: KindMedia, Text: caption, Media: &m}
}

// Validate rejects messages a session cannot deliver.
func (m Message) Validate() error {
	switch m.Kind {
	case KindText:
		if strings.TrimSpace(m.Text) == "" {
			return errors.New("message body is empty")
		}
	case KindMedia:
		if m.Media == nil || len(m.Media.Data) == 0 {
			return errors.New("media payload is empty")
		}
		if strings.TrimSpace(m.Media.MIMEType) == "" {
			return errors.New("media mime type is empty")
		}
	default:
		return fmt.Errorf("unknown message kind %q", m.Kind)
	}
	return nil
}

// Summary is a short human-readable description used in prompts and logs.
func (m Message) Summary() string {
	switch m.Kind {
	case KindMedia:
		if m.Media == nil {
			return "media"
		}
		return fmt.Sprintf("media %s (%s, %d bytes)", m.Media.Filename, m.Media.MIMEType, len(m.Media.Data))
	default:
		body := strings.TrimSpace(m.Text)
		if r := []rune(body); len(r) > 40 {
			body = string(r[:40]) + "..."
		}
		return fmt.Sprintf("text %q", body)
	}
}

// MIMETypeFor maps a file extension to the MIME type the chat service accepts.
func MIMETypeFor(path string) (string, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	switch ext {
	case "png", "jpg", "jpeg":
		return "image/" + ext, nil
	case "mp4", "mov":
		return "video/" + ext, nil
	case "mp3", "wav":
		return "audio/" + ext, nil
	case "pdf":
		return "application/pdf", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMedia, filepath.Ext(path))
	}
}

// LoadMedia reads a file and tags it with its MIME type.
func LoadMedia(path string) (Media, error) {
	mt, err := MIMETypeFor(path)
	if err != nil {
		return Media{}, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Media{}, err
	}
	return Media{MIMEType: mt, Filename: filepath.Base(path), Data: b}, nil
}
