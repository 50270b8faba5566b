package telegram

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type apiCall struct {
	endpoint string
	params   tgbotapi.Params
}

// fakeAPI answers raw Bot API requests the way Telegram would.
type fakeAPI struct {
	mu        sync.Mutex
	calls     []apiCall
	nextMsg   int
	nextTopic int
	admins    map[string]bool
	fail      map[string]error
	updates   string
}

func newFakeAPI(adminIDs ...int64) *fakeAPI {
	f := &fakeAPI{admins: make(map[string]bool), fail: make(map[string]error)}
	for _, id := range adminIDs {
		f.admins[fmt.Sprint(id)] = true
	}
	return f
}

func (f *fakeAPI) MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, apiCall{endpoint: endpoint, params: params})
	if err := f.fail[endpoint]; err != nil {
		return nil, err
	}
	result := "true"
	switch endpoint {
	case "sendMessage":
		f.nextMsg++
		result = fmt.Sprintf(`{"message_id":%d,"date":0,"chat":{"id":%s,"type":"supergroup"}}`, f.nextMsg, params["chat_id"])
	case "createForumTopic":
		f.nextTopic++
		result = fmt.Sprintf(`{"message_thread_id":%d,"name":%q,"icon_color":0}`, f.nextTopic, params["name"])
	case "getChatMember":
		status := "member"
		if f.admins[params["user_id"]] {
			status = "administrator"
		}
		result = fmt.Sprintf(`{"status":%q,"user":{"id":%s,"is_bot":false,"first_name":"x"}}`, status, params["user_id"])
	case "getUpdates":
		result = f.updates
		if result == "" {
			result = "[]"
		}
	}
	return &tgbotapi.APIResponse{Ok: true, Result: json.RawMessage(result)}, nil
}

// find returns the calls to endpoint whose params contain every key/value of want.
func (f *fakeAPI) find(endpoint string, want map[string]string) []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []apiCall
	for _, c := range f.calls {
		if c.endpoint != endpoint {
			continue
		}
		match := true
		for k, v := range want {
			if !strings.Contains(c.params[k], v) {
				match = false
				break
			}
		}
		if match {
			out = append(out, c)
		}
	}
	return out
}
