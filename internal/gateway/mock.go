package gateway

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/akarpov/minichat/internal/domain"
)

// mockSnippetLen caps how much of the user's message a mock reply echoes.
const mockSnippetLen = 30

// mockTemplates are the canned reply shapes for mock mode. Entries that
// contain a %q verb receive a snippet of the last user message.
var mockTemplates = []string{
	"This is a mock reply to your message %q. Set a valid API key to get real model responses.",
	"Hello! This is a canned test response. Your question was %q.",
	"The chat client is running in mock mode. This reply was generated without calling the API.",
	"Mock mode is active. Configure a valid OpenAI API key to receive real responses.",
}

// mockReply synthesizes a placeholder assistant reply without any network
// call. The template is picked deterministically from the last message so
// the same input always yields the same reply.
func mockReply(messages []domain.Message) string {
	last := messages[len(messages)-1].Content

	h := fnv.New32a()
	h.Write([]byte(last))
	template := mockTemplates[int(h.Sum32())%len(mockTemplates)]
	if !strings.Contains(template, "%q") {
		return template
	}

	snippet := []rune(last)
	if len(snippet) > mockSnippetLen {
		return fmt.Sprintf(template, string(snippet[:mockSnippetLen])+"...")
	}
	return fmt.Sprintf(template, last)
}
