package selector

import (
	"strings"
	"unicode/utf8"

	"github.com/capitalize-ai/chat-assistant/internal/model"
)

// TaskType is the class of a request used to pick a model chain.
type TaskType string

const (
	TaskShort   TaskType = "short"
	TaskCoding  TaskType = "coding"
	TaskComplex TaskType = "complex"
	TaskChat    TaskType = "chat"
	TaskAudio   TaskType = "audio"
)

// shortLimit is the rune length under which a question-less message is short.
const shortLimit = 20

var codingKeywords = []string{
	"code", "coding", "kode", "bug", "debug", "error", "exception", "stack trace",
	"function", "fungsi", "script", "compile", "syntax", "regex", "sql", "query",
	"python", "javascript", "typescript", "golang", "html", "css",
}

var complexKeywords = []string{
	"explain", "jelaskan", "build", "buatkan", "bikinkan", "analyze", "analyse",
	"analisis", "analisa", "design", "rancang", "compare", "bandingkan", "summarize",
	"ringkas", "evaluate",
}

// Classify inspects the most recent message and returns its task type.
func Classify(history []model.Message) TaskType {
	if len(history) == 0 {
		return TaskChat
	}
	last := history[len(history)-1]
	if last.Image != nil && strings.HasPrefix(last.Image.MimeType, "audio/") {
		return TaskAudio
	}

	body := strings.ToLower(strings.TrimSpace(MessageBody(last.Text)))
	if utf8.RuneCountInString(body) < shortLimit && !strings.Contains(body, "?") {
		return TaskShort
	}
	if containsAny(body, codingKeywords) {
		return TaskCoding
	}
	if containsAny(body, complexKeywords) {
		return TaskComplex
	}
	return TaskChat
}

// MessageBody strips the identity header written by the assistant in front of user messages.
func MessageBody(text string) string {
	if !strings.HasPrefix(text, "[") {
		return text
	}
	if i := strings.Index(text, "] : "); i >= 0 {
		return text[i+len("] : "):]
	}
	return text
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
