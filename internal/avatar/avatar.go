// ABOUTME: Two-stage avatar retrieval: metadata document, then image bytes.
// ABOUTME: Hashes the source URL for the token and sniffs the MIME type.

package avatar

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/2389/gadu-bridge/internal/dedupe"
	"github.com/2389/gadu-bridge/internal/event"
	"github.com/2389/gadu-bridge/internal/handle"
)

// Static avatar requirements exposed to the presentation layer.
const (
	MinimumPixels     = 96
	RecommendedPixels = 96
	MaximumPixels     = 256
	MaximumBytes      = 500 * 1024
)

// SupportedMIMETypes lists the image formats accepted for avatars.
var SupportedMIMETypes = []string{"image/png", "image/jpeg", "image/gif"}

// Requirements bundles the static avatar constraints for a single query.
type Requirements struct {
	SupportedMIMETypes []string
	MinimumPixels      int
	RecommendedPixels  int
	MaximumPixels      int
	MaximumBytes       int
}

// StaticRequirements returns the fixed avatar requirements.
func StaticRequirements() Requirements {
	return Requirements{
		SupportedMIMETypes: SupportedMIMETypes,
		MinimumPixels:      MinimumPixels,
		RecommendedPixels:  RecommendedPixels,
		MaximumPixels:      MaximumPixels,
		MaximumBytes:       MaximumBytes,
	}
}

// DefaultMetadataURL is the per-contact avatar metadata document; %s
// receives the contact's account number.
const DefaultMetadataURL = "http://api.gadu-gadu.pl/avatars/%s/0.xml"

// maxImageBytes bounds how much image data a fetch will read.
const maxImageBytes = 4 << 20

// Pipeline fetches avatars in two stages and publishes the result on the
// event bus. Fetches run asynchronously; failures are logged and the
// attempt ends with no notification and no retry.
type Pipeline struct {
	metadataURL string
	client      *http.Client
	bus         *event.Bus
	recent      *dedupe.Cache
	logger      *slog.Logger

	mu     sync.RWMutex
	tokens map[uint32]string
}

// New creates a pipeline publishing to the given bus.
func New(bus *event.Bus, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		metadataURL: DefaultMetadataURL,
		client:      &http.Client{Timeout: 20 * time.Second},
		bus:         bus,
		recent:      dedupe.New(time.Minute, 1024),
		logger:      logger.With("component", "avatars"),
		tokens:      make(map[uint32]string),
	}
}

// KnownToken reports the token of the last avatar fetched for a handle.
func (p *Pipeline) KnownToken(h *handle.Handle) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	token, ok := p.tokens[h.ID]
	return token, ok
}

// SetMetadataURL overrides the metadata document template. Used by tests.
func (p *Pipeline) SetMetadataURL(url string) { p.metadataURL = url }

// Close releases the dedupe cache.
func (p *Pipeline) Close() { p.recent.Close() }

// Request starts a stage-one fetch for the contact's avatar metadata. If the
// document reports a blank avatar the pipeline stops silently; otherwise it
// proceeds to the image fetch.
func (p *Pipeline) Request(ctx context.Context, contact *handle.Handle) {
	go func() {
		url := fmt.Sprintf(p.metadataURL, contact.Name)
		imageURL, err := p.fetchMetadata(ctx, url)
		if err != nil {
			p.logger.Info("avatar metadata unavailable", "contact", contact.Name, "url", url, "error", err)
			return
		}
		if imageURL == "" {
			// Blank avatar: nothing to fetch, nothing to notify.
			return
		}
		p.fetchAndNotify(ctx, contact, imageURL)
	}()
}

// FetchImage starts a stage-two fetch of a known avatar URL, as delivered
// by an avatar-changed server event.
func (p *Pipeline) FetchImage(ctx context.Context, contact *handle.Handle, url string) {
	if p.recent.CheckAndMark(url) {
		p.logger.Debug("avatar fetch suppressed, recently fetched", "url", url)
		return
	}
	go func() {
		if !p.fetchAndNotify(ctx, contact, url) {
			p.recent.Forget(url)
		}
	}()
}

// Token derives the content token for an avatar source URL. The digest is
// of the URL string itself, not the image bytes.
func Token(url string) string {
	sum := md5.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}

// SniffMIME determines the image MIME type from content, defaulting to
// jpeg when sniffing is inconclusive.
func SniffMIME(data []byte) string {
	t := http.DetectContentType(data)
	if !strings.HasPrefix(t, "image/") {
		return "image/jpeg"
	}
	return t
}

// xmlMetadata mirrors the avatar metadata document. Only the blank flag and
// the full-size URL matter.
type xmlMetadata struct {
	Avatar struct {
		Blank     string `xml:"blank,attr"`
		BigAvatar string `xml:"bigAvatar"`
	} `xml:"avatar"`
}

// fetchMetadata retrieves and parses the metadata document. An empty return
// with nil error means the avatar is blank.
func (p *Pipeline) fetchMetadata(ctx context.Context, url string) (string, error) {
	body, err := p.get(ctx, url)
	if err != nil {
		return "", err
	}

	var doc xmlMetadata
	if err := xml.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("parsing avatar metadata: %w", err)
	}

	if doc.Avatar.Blank == "1" {
		return "", nil
	}
	imageURL := strings.TrimSpace(doc.Avatar.BigAvatar)
	if imageURL == "" {
		return "", fmt.Errorf("avatar metadata has no image URL")
	}
	return imageURL, nil
}

// fetchAndNotify performs the image fetch and publishes the retrieval
// notification. Reports whether the notification was delivered.
func (p *Pipeline) fetchAndNotify(ctx context.Context, contact *handle.Handle, url string) bool {
	data, err := p.get(ctx, url)
	if err != nil {
		p.logger.Info("avatar not retrieved", "contact", contact.Name, "url", url, "error", err)
		return false
	}
	if len(data) == 0 {
		p.logger.Info("avatar fetch returned no data", "contact", contact.Name, "url", url)
		return false
	}

	token := Token(url)
	p.mu.Lock()
	p.tokens[contact.ID] = token
	p.mu.Unlock()

	p.bus.Publish(event.AvatarRetrieved{
		Contact:  contact,
		Token:    token,
		Data:     data,
		MIMEType: SniffMIME(data),
	})
	p.logger.Debug("avatar retrieved", "contact", contact.Name, "url", url)
	return true
}

func (p *Pipeline) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	if len(body) > maxImageBytes {
		return nil, fmt.Errorf("fetching %s: body exceeds %d bytes", url, maxImageBytes)
	}
	return body, nil
}
