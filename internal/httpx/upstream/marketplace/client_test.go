package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vadim/prodesk/internal/auth"
	"github.com/vadim/prodesk/internal/chat/entity"
)

func TestListConversations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/chat" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("auth header = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[{"id":"r1","participants":[{"id":"p1"},{"id":"c1"}],"updated_at":"2026-02-01T10:00:00Z"}]`)
	}))
	defer srv.Close()

	c := New(srv.URL, auth.StaticToken("tok"))
	out, err := c.ListConversations(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 1 || out[0].ID != "r1" || len(out[0].Participants) != 2 {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestGetConversationNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":"conversation not found"}`)
	}))
	defer srv.Close()

	c := New(srv.URL, auth.StaticToken("tok"))
	_, err := c.GetConversation(context.Background(), "nope")
	if !errors.Is(err, entity.ErrConversationNotFound) {
		t.Fatalf("err = %v, want ErrConversationNotFound", err)
	}
}

func TestGetConversationEmptyID(t *testing.T) {
	c := New("http://unused", auth.StaticToken("tok"))
	if _, err := c.GetConversation(context.Background(), ""); !errors.Is(err, entity.ErrEmptyRoomID) {
		t.Fatalf("err = %v, want ErrEmptyRoomID", err)
	}
}

func TestUnauthorizedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, auth.StaticToken("stale"))
	_, err := c.ListConversations(context.Background())
	if !errors.Is(err, entity.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestAPIErrorMessageDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		io.WriteString(w, `{"error":"already exists"}`)
	}))
	defer srv.Close()

	c := New(srv.URL, auth.StaticToken("tok"))
	_, err := c.CreateConversation(context.Background(), "c1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusConflict || apiErr.Message != "already exists" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestCreateConversation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/chat" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var in CreateConversationInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.TargetUserID != "c1" {
			t.Errorf("request body decoded to %+v (err %v)", in, err)
		}
		io.WriteString(w, `{"id":"r9","participants":[{"id":"p1"},{"id":"c1"}]}`)
	}))
	defer srv.Close()

	c := New(srv.URL, auth.StaticToken("tok"))
	out, err := c.CreateConversation(context.Background(), "c1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if out.ID != "r9" {
		t.Errorf("id = %q, want r9", out.ID)
	}

	if _, err := c.CreateConversation(context.Background(), ""); !errors.Is(err, entity.ErrInvalidRecipient) {
		t.Errorf("empty target err = %v, want ErrInvalidRecipient", err)
	}
}

func TestUploadAttachment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/attachment" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("reading file field: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		if header.Filename != "pic.png" {
			t.Errorf("filename = %q", header.Filename)
		}
		body, _ := io.ReadAll(file)
		if string(body) != "pngbytes" {
			t.Errorf("file content = %q", body)
		}
		io.WriteString(w, `{"url":"/uploads/abc.png","type":"image"}`)
	}))
	defer srv.Close()

	c := New(srv.URL, auth.StaticToken("tok"))
	att, err := c.UploadAttachment(context.Background(), UploadAttachmentInput{
		Filename:    "pic.png",
		ContentType: "image/png",
		Size:        int64(len("pngbytes")),
		Reader:      strings.NewReader("pngbytes"),
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if att.Kind != entity.AttachmentImage || att.URL != "/uploads/abc.png" {
		t.Errorf("attachment = %+v", att)
	}
}

func TestUploadAttachmentTooLarge(t *testing.T) {
	c := New("http://unused", auth.StaticToken("tok"))

	// Declared size over the ceiling is rejected before any read.
	_, err := c.UploadAttachment(context.Background(), UploadAttachmentInput{
		Filename: "big.bin",
		Size:     MaxAttachmentSize + 1,
		Reader:   bytes.NewReader(nil),
	})
	if !errors.Is(err, entity.ErrAttachmentTooLarge) {
		t.Fatalf("declared-size err = %v, want ErrAttachmentTooLarge", err)
	}

	// A reader that lies about its size is caught while buffering.
	_, err = c.UploadAttachment(context.Background(), UploadAttachmentInput{
		Filename: "liar.bin",
		Size:     1,
		Reader:   io.LimitReader(neverEnding('x'), MaxAttachmentSize+10),
	})
	if !errors.Is(err, entity.ErrAttachmentTooLarge) {
		t.Fatalf("oversized-stream err = %v, want ErrAttachmentTooLarge", err)
	}
}

type neverEnding byte

func (b neverEnding) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(b)
	}
	return len(p), nil
}

func TestCustomHTTPClient(t *testing.T) {
	custom := &http.Client{Timeout: time.Second}
	c := New("http://unused", auth.StaticToken("tok"), WithHTTPClient(custom))
	if c.httpClient != custom {
		t.Error("WithHTTPClient not applied")
	}
}
