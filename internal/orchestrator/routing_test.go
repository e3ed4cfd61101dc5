package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jivan-ai/nexus/pkg/domain"
)

func TestRequiredToolPlan_KeywordRoutes(t *testing.T) {
	cases := []struct {
		text string
		tool string
		args map[string]any
	}{
		{"weather in Yerevan", "weather", map[string]any{"city": "yerevan"}},
		{"what's the weather Paris", "weather", map[string]any{"city": "paris"}},
		{"tell me a joke", "joke", map[string]any{"language": "en"}},
		{"calculate 12% of 340", "wolframalpha", map[string]any{"query": "calculate 12% of 340"}},
		{"2+2", "wolframalpha", map[string]any{"query": "2+2"}},
		{"who is Alan Turing", "wikipedia", map[string]any{"topic": "Alan Turing"}},
		{"what is recursion", "wikipedia", map[string]any{"topic": "recursion"}},
		{"what is 5 squared", "wolframalpha", map[string]any{"query": "what is 5 squared"}},
		{"any news today", "news", map[string]any{}},
		{"what's my ip address", "ip_address", map[string]any{}},
		{"what time is it", "get_time", map[string]any{}},
		{"what's the date", "get_date", map[string]any{}},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			plan := requiredToolPlan(tc.text, nil)
			require.NotNil(t, plan)
			assert.Equal(t, tc.tool, plan.Name)
			for k, v := range tc.args {
				assert.Equal(t, v, plan.Args[k])
			}
		})
	}
}

func TestRequiredToolPlan_TimerIsNotTime(t *testing.T) {
	assert.Nil(t, requiredToolPlan("set a timer for five minutes", nil))
}

func TestRequiredToolPlan_Protocols(t *testing.T) {
	plan := requiredToolPlan("run protocol monday", nil)
	require.NotNil(t, plan)
	assert.Equal(t, "run_protocol", plan.Name)
	assert.Equal(t, "monday", plan.Args["name"])
	assert.Equal(t, true, plan.Args["confirm"])

	plan = requiredToolPlan("monday morning", nil)
	require.NotNil(t, plan)
	assert.Equal(t, "monday_morning", plan.Args["name"])
}

func TestRequiredToolPlan_JokeLanguage(t *testing.T) {
	plan := requiredToolPlan("расскажи joke", nil)
	require.NotNil(t, plan)
	assert.Equal(t, "ru", plan.Args["language"])
}

func TestRequiredToolPlan_Meme(t *testing.T) {
	plan := requiredToolPlan("meme top text | bottom text", nil)
	require.NotNil(t, plan)
	assert.Equal(t, "imgflip_meme", plan.Name)
	assert.Equal(t, "top text", plan.Args["top_text"])
	assert.Equal(t, "bottom text", plan.Args["bottom_text"])
}

func TestRequiredToolPlan_NoRoute(t *testing.T) {
	assert.Nil(t, requiredToolPlan("tell me something interesting about yourself", nil))
	assert.Nil(t, requiredToolPlan("", nil))
}

func TestTelegramPlan_Send(t *testing.T) {
	plan := telegramPlan("telegram send hello there", nil)
	require.NotNil(t, plan)
	assert.Equal(t, "mcp_execute", plan.Name)
	assert.Equal(t, "TELEGRAM_SEND_MESSAGE", plan.Args["tool_name"])
	input := plan.Args["tool_input"].(map[string]any)
	assert.Equal(t, "hello there", input["text"])
}

func TestTelegramPlan_NaturalVariants(t *testing.T) {
	for _, text := range []string{
		"send hello to telegram",
		"send to telegram hello",
		"send hello to telly",
	} {
		t.Run(text, func(t *testing.T) {
			plan := telegramPlan(text, nil)
			require.NotNil(t, plan)
			assert.Equal(t, "TELEGRAM_SEND_MESSAGE", plan.Args["tool_name"])
			input := plan.Args["tool_input"].(map[string]any)
			assert.Equal(t, "hello", input["text"])
		})
	}
}

func TestTelegramPlan_ReplyAndEdit(t *testing.T) {
	plan := telegramPlan("telegram reply sounds good", nil)
	require.NotNil(t, plan)
	input := plan.Args["tool_input"].(map[string]any)
	assert.Equal(t, true, input["_reply_to_last"])

	plan = telegramPlan("telegram edit 42 :: updated text", nil)
	require.NotNil(t, plan)
	assert.Equal(t, "TELEGRAM_EDIT_MESSAGE", plan.Args["tool_name"])
	input = plan.Args["tool_input"].(map[string]any)
	assert.Equal(t, "updated text", input["text"])
	assert.Equal(t, 42, input["message_id"])
	assert.Equal(t, true, input["_use_last_message_id"])

	plan = telegramPlan("telegram edit just the new text", nil)
	require.NotNil(t, plan)
	input = plan.Args["tool_input"].(map[string]any)
	assert.Equal(t, "just the new text", input["text"])
	_, hasID := input["message_id"]
	assert.False(t, hasID)
}

func TestTelegramPlan_Poll(t *testing.T) {
	plan := telegramPlan("telegram poll lunch? | pizza | sushi", nil)
	require.NotNil(t, plan)
	assert.Equal(t, "TELEGRAM_SEND_POLL", plan.Args["tool_name"])
	input := plan.Args["tool_input"].(map[string]any)
	assert.Equal(t, "lunch?", input["question"])
	assert.Equal(t, []any{"pizza", "sushi"}, input["options"])

	assert.Nil(t, telegramPlan("telegram poll lunch? | pizza", nil))
}

func TestTelegramPlan_ContinuationTurn(t *testing.T) {
	recent := []domain.Message{
		{Role: domain.RoleUser, Content: "send a telegram message"},
		{Role: domain.RoleAssistant, Content: "Sure, what would you like the message to say on Telegram?"},
	}
	plan := telegramPlan("say running late, be there soon", recent)
	require.NotNil(t, plan)
	input := plan.Args["tool_input"].(map[string]any)
	assert.Equal(t, "running late, be there soon", input["text"])

	assert.Nil(t, telegramPlan("say running late", nil))
}

func TestNoauthCapabilityPlan(t *testing.T) {
	plan := noauthCapabilityPlan("hacker news top stories today")
	require.NotNil(t, plan)
	assert.Equal(t, "AUTO:hackernews", plan.Args["tool_name"])

	plan = noauthCapabilityPlan("code interpreter print('hi')")
	require.NotNil(t, plan)
	assert.Equal(t, "AUTO:codeinterpreter", plan.Args["tool_name"])
	input := plan.Args["tool_input"].(map[string]any)
	assert.Equal(t, "print('hi')", input["code"])
	assert.Equal(t, "EXECUTE", input["_action_hint"])

	plan = noauthCapabilityPlan("send me a gif of a cat")
	require.NotNil(t, plan)
	assert.Equal(t, "AUTO:giphy", plan.Args["tool_name"])

	assert.Nil(t, noauthCapabilityPlan("just chatting"))
}
