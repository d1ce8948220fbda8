package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pinharvest/internal/domain"
	"pinharvest/internal/logging"
	"pinharvest/internal/storage"
)

var started = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func TestFormatSummary(t *testing.T) {
	text := FormatSummary(storage.Run{
		ID:        "0f8fad5b-d9cb-469f-a165-70867728950e",
		Query:     "data science",
		Status:    storage.RunSucceeded,
		Collected: 1500,
		Cleaned:   1480,
		Load:      storage.UpsertResult{Inserted: 1200, Updated: 280},
		Stats: domain.Stats{
			TotalRecords:      12345,
			RecordsWithImages: 12000,
			AverageSaveCount:  1234.5,
		},
		StartedAt:  started,
		FinishedAt: started.Add(95 * time.Second),
	})

	assert.Contains(t, text, "run 0f8fad5b succeeded")
	assert.Contains(t, text, `Query: "data science"`)
	assert.Contains(t, text, "Collected: 1,500, cleaned: 1,480")
	assert.Contains(t, text, "Loaded: 1,200 new, 280 updated, 0 errors")
	assert.Contains(t, text, "Store: 12,345 pins, 12,000 with images, 1,234.50 saves on average")
	assert.Contains(t, text, "Took 1m35s")
}

func TestFormatFailure(t *testing.T) {
	text := FormatFailure(storage.Run{
		ID:         "abc",
		Query:      "go",
		Status:     storage.RunFailed,
		Stage:      "collect",
		Error:      "navigation timed out",
		StartedAt:  started,
		FinishedAt: started.Add(-time.Second),
	})

	assert.Contains(t, text, "run abc failed in stage collect")
	assert.Contains(t, text, "Error: navigation timed out")
	assert.Contains(t, text, "Took 0s")
}

func TestNop(t *testing.T) {
	var n Notifier = Nop{}
	assert.NoError(t, n.Notify(context.Background(), "ignored"))
}

// fakeBotAPI records sendMessage calls made against a Bot API server.
type fakeBotAPI struct {
	mu     sync.Mutex
	texts  []string
	chats  []string
	status int
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
		http.NotFound(w, r)
		return
	}
	_ = r.ParseMultipartForm(1 << 20)

	f.mu.Lock()
	f.texts = append(f.texts, r.FormValue("text"))
	f.chats = append(f.chats, r.FormValue("chat_id"))
	status := f.status
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status != 0 && status != http.StatusOK {
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":          false,
			"error_code":  status,
			"description": "Bad Request: chat not found",
		})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok": true,
		"result": map[string]any{
			"message_id": 1,
			"date":       0,
			"chat":       map[string]any{"id": 42, "type": "private"},
		},
	})
}

func newTestTelegram(t *testing.T, api *fakeBotAPI) *Telegram {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	tg, err := NewTelegram("123:abc", 42, logging.Discard(), tgbot.WithServerURL(srv.URL))
	require.NoError(t, err)
	return tg
}

func TestTelegram_Notify(t *testing.T) {
	api := &fakeBotAPI{}
	tg := newTestTelegram(t, api)

	require.NoError(t, tg.Notify(context.Background(), "run finished"))

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, []string{"run finished"}, api.texts)
	assert.Equal(t, []string{"42"}, api.chats)
}

func TestTelegram_NotifyError(t *testing.T) {
	api := &fakeBotAPI{status: http.StatusBadRequest}
	tg := newTestTelegram(t, api)

	assert.Error(t, tg.Notify(context.Background(), "run finished"))
}

func TestNewTelegram_UnreachableAPI(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	tg, err := NewTelegram("123:abc", 42, logging.Discard(), tgbot.WithServerURL(srv.URL))
	require.NoError(t, err, "construction must not call the API")

	mu.Lock()
	assert.Empty(t, paths)
	mu.Unlock()

	assert.Error(t, tg.Notify(context.Background(), "run finished"))
}
