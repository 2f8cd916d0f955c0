package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestEscapeMarkdownV2(t *testing.T) {
	cases := map[string]string{
		"plain":          "plain",
		"1.5":            `1\.5`,
		"a_b*c":          `a\_b\*c`,
		"(x)[y]{z}":      `\(x\)\[y\]\{z\}`,
		"Тошкент, 12-уй": `Тошкент, 12\-уй`,
	}
	for in, want := range cases {
		if got := EscapeMarkdownV2(in); got != want {
			t.Fatalf("EscapeMarkdownV2(%q) = %q, want %q", in, got, want)
		}
	}
}

// formValues reads sendMessage fields whichever encoding the client chose.
func formValues(t *testing.T, r *http.Request) map[string]string {
	t.Helper()
	out := map[string]string{}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		var raw map[string]any
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Errorf("decode json: %v", err)
			return out
		}
		for k, v := range raw {
			switch val := v.(type) {
			case string:
				out[k] = val
			default:
				b, _ := json.Marshal(val)
				out[k] = string(b)
			}
		}
	case "multipart/form-data":
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return out
		}
		for k, v := range r.MultipartForm.Value {
			out[k] = v[0]
		}
	default:
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
			return out
		}
		for k := range r.PostForm {
			out[k] = r.PostForm.Get(k)
		}
	}
	return out
}

func TestSendMessage(t *testing.T) {
	var got map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		got = formValues(t, r)
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":42,"date":1700000000,"chat":{"id":-100,"type":"group"}}}`))
	}))
	defer srv.Close()

	client, err := NewClient("123:abc", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	msg, err := client.SendMessage(context.Background(), "-100", "hello")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.MessageID != 42 || msg.ChatID != "-100" {
		t.Fatalf("unexpected message %#v", msg)
	}
	if path != "/bot123:abc/sendMessage" {
		t.Fatalf("unexpected path %s", path)
	}
	if strings.Trim(got["chat_id"], `"`) != "-100" || got["parse_mode"] != "MarkdownV2" || got["text"] != "hello" {
		t.Fatalf("unexpected request %#v", got)
	}
}

func TestSendMessageClassifiesAPIErrors(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		permanent bool
	}{
		{"bad request", http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities"}`, true},
		{"forbidden", http.StatusForbidden, `{"ok":false,"error_code":403,"description":"Forbidden: bot was kicked"}`, true},
		{"rate limited", http.StatusTooManyRequests, `{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":3}}`, false},
		{"gateway", http.StatusBadGateway, `{"ok":false,"error_code":502,"description":"Bad Gateway"}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			client, err := NewClient("t", WithBaseURL(srv.URL))
			if err != nil {
				t.Fatalf("NewClient: %v", err)
			}
			_, err = client.SendMessage(context.Background(), "1", "x")
			if err == nil {
				t.Fatal("expected error")
			}
			var apiErr *APIError
			permanent := errors.As(err, &apiErr) && apiErr.Permanent()
			if permanent != tc.permanent {
				t.Fatalf("permanent = %v, want %v (err %v)", permanent, tc.permanent, err)
			}
		})
	}
}

func TestSendMessageTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client, err := NewClient("t", WithBaseURL(srv.URL), WithTimeout(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := client.SendMessage(context.Background(), "1", "x"); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestSendMessageRedactsToken(t *testing.T) {
	client, err := NewClient("123:secret", WithBaseURL("http://127.0.0.1:1"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = client.SendMessage(context.Background(), "1", "x")
	if err == nil {
		t.Fatal("expected transport error")
	}
	if strings.Contains(err.Error(), "123:secret") {
		t.Fatalf("token leaked in %q", err)
	}
}

func TestNewClientRequiresToken(t *testing.T) {
	if _, err := NewClient("  "); err == nil {
		t.Fatal("expected error")
	}
}
