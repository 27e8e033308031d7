package stream

import (
	"errors"

	"github.com/tidwall/gjson"
)

var errInvalidJSON = errors.New("chunk is not valid JSON")

// Chunk is what a provider record contributes to the canonical stream.
// An empty FinishReason means the record carried none. Error holds the raw
// "error" object when the provider reported a failure in a plain data record.
type Chunk struct {
	Content      string
	FinishReason string
	Error        string
}

// Extractor reads a Chunk from one record's data payload
type Extractor func(data []byte) (Chunk, error)

// OpenAIExtractor reads choices[0].delta.content and choices[0].finish_reason
func OpenAIExtractor(data []byte) (Chunk, error) {
	if !gjson.ValidBytes(data) {
		return Chunk{}, errInvalidJSON
	}
	res := gjson.GetManyBytes(data, "error", "choices.0.delta.content", "choices.0.finish_reason")
	if res[0].IsObject() {
		return Chunk{Error: res[0].Raw}, nil
	}
	res = res[1:]
	return Chunk{
		Content:      res[0].String(),
		FinishReason: stringOrEmpty(res[1]),
	}, nil
}

// GeminiExtractor joins the text parts of candidates[0] and reads its
// finishReason
func GeminiExtractor(data []byte) (Chunk, error) {
	if !gjson.ValidBytes(data) {
		return Chunk{}, errInvalidJSON
	}
	if e := gjson.GetBytes(data, "error"); e.IsObject() {
		return Chunk{Error: e.Raw}, nil
	}
	var text string
	for _, part := range gjson.GetBytes(data, "candidates.0.content.parts").Array() {
		text += part.Get("text").String()
	}
	return Chunk{
		Content:      text,
		FinishReason: stringOrEmpty(gjson.GetBytes(data, "candidates.0.finishReason")),
	}, nil
}

func stringOrEmpty(r gjson.Result) string {
	if r.Type != gjson.String {
		return ""
	}
	return r.Str
}
