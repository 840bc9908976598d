// Package autocomplete produces canned completions for the editor. It is a
// placeholder for a real completion backend and keeps no state.
package autocomplete

import "strings"

const NoSuggestion = "// no suggestion"

type Request struct {
	Code           string `json:"code"`
	CursorPosition int    `json:"cursorPosition"`
	Language       string `json:"language"`
}

type Response struct {
	Suggestion string `json:"suggestion"`
}

// Suggest looks only at the last token of the buffer. CursorPosition is
// accepted for the client's sake but not used yet.
func Suggest(req Request) Response {
	if req.Language != "python" {
		return Response{Suggestion: NoSuggestion}
	}

	code := strings.TrimSpace(req.Code)
	switch {
	case strings.HasSuffix(code, "def"):
		return Response{Suggestion: " my_function():\n    pass"}
	case strings.HasSuffix(code, "for"):
		return Response{Suggestion: " i in range(10):\n    print(i)"}
	default:
		return Response{Suggestion: "\n# TODO: implement"}
	}
}
