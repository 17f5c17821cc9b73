package bot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSendMessage(t *testing.T) {
	var gotPath string
	var gotPayload map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ok":     true,
			"result": map[string]interface{}{"message_id": 42},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "123:abc")
	msgID, err := c.SendMessage(context.Background(), 555, "hello", nil)
	require.NoError(t, err)

	assert.Equal(t, int64(42), msgID)
	assert.Equal(t, "/bot123:abc/sendMessage", gotPath)
	assert.Equal(t, float64(555), gotPayload["chat_id"])
	assert.Equal(t, "hello", gotPayload["text"])
	assert.NotContains(t, gotPayload, "reply_markup")
}

func TestClientSendMessageWithKeyboard(t *testing.T) {
	var gotPayload map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ok":     true,
			"result": map[string]interface{}{"message_id": 1},
		})
	}))
	defer srv.Close()

	markup := &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{
		{{Text: "Irina", CallbackData: "book_master_3"}},
	}}

	_, err := NewClient(srv.URL, "123:abc").SendMessage(context.Background(), 555, "Choose a master:", markup)
	require.NoError(t, err)
	assert.Contains(t, gotPayload, "reply_markup")
}

func TestClientAPIErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ok":          false,
			"error_code":  403,
			"description": "Forbidden: bot was blocked by the user",
		})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "123:abc").SendMessage(context.Background(), 555, "hello", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked by the user")
}

func TestClientEditAndAnswer(t *testing.T) {
	var paths []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "result": true})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "123:abc")
	require.NoError(t, c.EditMessageText(context.Background(), 555, 2, "Choose a service:", nil))
	require.NoError(t, c.AnswerCallbackQuery(context.Background(), "cb-1", ""))

	assert.Equal(t, []string{"/bot123:abc/editMessageText", "/bot123:abc/answerCallbackQuery"}, paths)
}

func TestUserDisplayName(t *testing.T) {
	assert.Equal(t, "@anna", (&User{Username: "anna"}).DisplayName())
	assert.Equal(t, "Anna Ivanova", (&User{FirstName: "Anna", LastName: "Ivanova"}).DisplayName())
	assert.Equal(t, "tg:555", (&User{ID: 555}).DisplayName())
	assert.Equal(t, "", (*User)(nil).DisplayName())
}
