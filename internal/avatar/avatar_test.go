// ABOUTME: Tests for the avatar pipeline: staging, token, sniffing, blanks.

package avatar

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/2389/gadu-bridge/internal/event"
	"github.com/2389/gadu-bridge/internal/handle"
)

// pngHeader is a minimal PNG signature, enough for content sniffing.
var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

func TestToken_IsDigestOfURLString(t *testing.T) {
	// md5("http://x/a.png")
	assert.Equal(t, "d4eaaf0e8567cb8ffc6ecf52cbf06662", Token("http://x/a.png"))
	assert.Equal(t, Token("http://x/a.png"), Token("http://x/a.png"))
	assert.NotEqual(t, Token("http://x/a.png"), Token("http://x/b.png"))
}

func TestSniffMIME(t *testing.T) {
	assert.Equal(t, "image/png", SniffMIME(pngHeader))
	assert.Equal(t, "image/gif", SniffMIME([]byte("GIF89a\x01\x00\x01\x00")))
	assert.Equal(t, "image/jpeg", SniffMIME([]byte("definitely not an image")),
		"inconclusive sniff defaults to jpeg")
}

func waitForAvatar(t *testing.T, ch <-chan event.Event) event.AvatarRetrieved {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-ch:
			if av, ok := evt.(event.AvatarRetrieved); ok {
				return av
			}
		case <-deadline:
			t.Fatal("no avatar notification")
		}
	}
}

func TestPipeline_FetchImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(pngHeader)
	}))
	defer srv.Close()

	bus := event.NewBus(nil)
	defer bus.Close()
	ch, _ := bus.Subscribe(context.Background())

	p := New(bus, nil)
	defer p.Close()

	reg := handle.NewRegistry(nil)
	contact := reg.ResolveOrCreate(handle.TypeContact, "4634020")
	url := srv.URL + "/small/4634020"
	p.FetchImage(context.Background(), contact, url)

	av := waitForAvatar(t, ch)
	assert.Same(t, contact, av.Contact)
	assert.Equal(t, Token(url), av.Token)
	assert.Equal(t, pngHeader, av.Data)
	assert.Equal(t, "image/png", av.MIMEType)
}

func TestPipeline_FetchImage_DedupesRecentURLs(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write(pngHeader)
	}))
	defer srv.Close()

	bus := event.NewBus(nil)
	defer bus.Close()
	ch, _ := bus.Subscribe(context.Background())

	p := New(bus, nil)
	defer p.Close()

	reg := handle.NewRegistry(nil)
	contact := reg.ResolveOrCreate(handle.TypeContact, "100")
	url := srv.URL + "/a.png"

	p.FetchImage(context.Background(), contact, url)
	waitForAvatar(t, ch)
	p.FetchImage(context.Background(), contact, url)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), hits.Load())
}

func TestPipeline_Request_TwoStage(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/avatars/4634020/0.xml", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<avatars><avatar blank="0"><bigAvatar>` + srv.URL + `/big/4634020</bigAvatar></avatar></avatars>`))
	})
	mux.HandleFunc("/big/4634020", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(pngHeader)
	})

	bus := event.NewBus(nil)
	defer bus.Close()
	ch, _ := bus.Subscribe(context.Background())

	p := New(bus, nil)
	defer p.Close()
	p.SetMetadataURL(srv.URL + "/avatars/%s/0.xml")

	reg := handle.NewRegistry(nil)
	contact := reg.ResolveOrCreate(handle.TypeContact, "4634020")
	p.Request(context.Background(), contact)

	av := waitForAvatar(t, ch)
	assert.Equal(t, Token(srv.URL+"/big/4634020"), av.Token)
	assert.Equal(t, "image/png", av.MIMEType)
}

func TestPipeline_Request_BlankAvatarStops(t *testing.T) {
	var imageFetched atomic.Bool
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/avatars/100/0.xml", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<avatars><avatar blank="1"></avatar></avatars>`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		imageFetched.Store(true)
	})

	bus := event.NewBus(nil)
	defer bus.Close()
	ch, _ := bus.Subscribe(context.Background())

	p := New(bus, nil)
	defer p.Close()
	p.SetMetadataURL(srv.URL + "/avatars/%s/0.xml")

	reg := handle.NewRegistry(nil)
	p.Request(context.Background(), reg.ResolveOrCreate(handle.TypeContact, "100"))

	select {
	case evt := <-ch:
		t.Fatalf("unexpected notification %T", evt)
	case <-time.After(200 * time.Millisecond):
	}
	assert.False(t, imageFetched.Load())
}

func TestPipeline_FetchFailureProducesNoNotification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	bus := event.NewBus(nil)
	defer bus.Close()
	ch, _ := bus.Subscribe(context.Background())

	p := New(bus, nil)
	defer p.Close()

	reg := handle.NewRegistry(nil)
	p.FetchImage(context.Background(), reg.ResolveOrCreate(handle.TypeContact, "1"), srv.URL+"/x.png")

	select {
	case evt := <-ch:
		t.Fatalf("unexpected notification %T", evt)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestPipeline_OversizedBodyIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(pngHeader)
		_, _ = w.Write(bytes.Repeat([]byte{0}, maxImageBytes))
	}))
	defer srv.Close()

	bus := event.NewBus(nil)
	defer bus.Close()
	ch, _ := bus.Subscribe(context.Background())

	p := New(bus, nil)
	defer p.Close()

	reg := handle.NewRegistry(nil)
	p.FetchImage(context.Background(), reg.ResolveOrCreate(handle.TypeContact, "1"), srv.URL+"/huge.png")

	// A body over the read limit must fail the fetch, never deliver a
	// truncated image.
	select {
	case evt := <-ch:
		t.Fatalf("unexpected notification %T", evt)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestStaticRequirements(t *testing.T) {
	req := StaticRequirements()
	assert.Equal(t, []string{"image/png", "image/jpeg", "image/gif"}, req.SupportedMIMETypes)
	assert.Equal(t, 96, req.MinimumPixels)
	assert.Equal(t, 96, req.RecommendedPixels)
	assert.Equal(t, 256, req.MaximumPixels)
	assert.Equal(t, 500*1024, req.MaximumBytes)
}
