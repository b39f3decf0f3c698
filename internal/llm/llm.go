// Package llm invokes the generative model behind a strict structured-output
// contract. It performs no retries; retry policy lives in the engine.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gitscribe/gitscribe/model"
)

// Sentinel terminates a delta stream. Chunks before it reassemble by plain
// concatenation; it never appears inside generated content.
const Sentinel = "[DONE]"

// Client is a generative model client. Complete returns the full raw response
// in one call; Stream delivers text deltas to fn as they arrive and returns
// once the provider signals the end of the stream. A non-nil error from fn
// aborts the stream.
type Client interface {
	Complete(ctx context.Context, system, user string) (string, error)
	Stream(ctx context.Context, system, user string, fn func(delta string) error) error
}

// ParseStrict enforces the structured-output contract: the raw response must
// be a single JSON object with exactly two non-empty string fields, title and
// content. Markdown code fences around the object are tolerated and stripped.
// Any other shape yields model.ErrInvalidOutputContract.
func ParseStrict(raw string) (*model.GeneratedPost, error) {
	cleaned := stripFences(raw)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &fields); err != nil {
		return nil, fmt.Errorf("%w: response is not a JSON object: %v", model.ErrInvalidOutputContract, err)
	}
	if len(fields) != 2 {
		return nil, fmt.Errorf("%w: expected exactly fields title and content, got %d fields", model.ErrInvalidOutputContract, len(fields))
	}

	title, err := stringField(fields, "title")
	if err != nil {
		return nil, err
	}
	content, err := stringField(fields, "content")
	if err != nil {
		return nil, err
	}

	return &model.GeneratedPost{Title: title, Content: content, Format: "markdown"}, nil
}

func stringField(fields map[string]json.RawMessage, key string) (string, error) {
	raw, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("%w: missing field %q", model.ErrInvalidOutputContract, key)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: field %q is not a string", model.ErrInvalidOutputContract, key)
	}
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: field %q is empty", model.ErrInvalidOutputContract, key)
	}
	return s, nil
}

// stripFences removes a surrounding markdown code fence, with or without a
// language tag. Models add these despite instructions not to.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// Assembler reassembles a delta stream up to its sentinel. It is decoupled
// from any transport: feed it chunks in arrival order and read the result
// once Done. The sentinel may be split across chunk boundaries.
type Assembler struct {
	sentinel string
	out      strings.Builder

	// pending holds trailing bytes that could be a sentinel prefix.
	pending string
	done    bool
}

// NewAssembler creates an Assembler for the given sentinel. An empty sentinel
// defaults to Sentinel.
func NewAssembler(sentinel string) *Assembler {
	if sentinel == "" {
		sentinel = Sentinel
	}
	return &Assembler{sentinel: sentinel}
}

// Feed consumes one chunk and reports whether the sentinel has been seen.
// Chunks after the sentinel are ignored.
func (a *Assembler) Feed(chunk string) bool {
	if a.done {
		return true
	}
	s := a.pending + chunk
	if idx := strings.Index(s, a.sentinel); idx >= 0 {
		a.out.WriteString(s[:idx])
		a.pending = ""
		a.done = true
		return true
	}

	// Hold back the longest suffix that is a sentinel prefix; flush the rest.
	hold := len(a.sentinel) - 1
	if hold > len(s) {
		hold = len(s)
	}
	for ; hold > 0; hold-- {
		if strings.HasPrefix(a.sentinel, s[len(s)-hold:]) {
			break
		}
	}
	a.out.WriteString(s[:len(s)-hold])
	a.pending = s[len(s)-hold:]
	return false
}

// Done reports whether the sentinel has been consumed.
func (a *Assembler) Done() bool { return a.done }

// String returns the content assembled so far, excluding the sentinel. If the
// stream ended without a sentinel, held-back bytes are included.
func (a *Assembler) String() string {
	if a.done {
		return a.out.String()
	}
	return a.out.String() + a.pending
}

// New picks a provider client from the configured keys. Anthropic is
// preferred when both keys are set.
func New(anthropicKey, openaiKey, model_ string) (Client, error) {
	if anthropicKey != "" {
		return NewAnthropicClient(anthropicKey, model_), nil
	}
	if openaiKey != "" {
		return NewOpenAIClient(openaiKey, model_), nil
	}
	return nil, fmt.Errorf("no generation provider key configured")
}

// providerError wraps a transport or provider-side failure so callers can
// distinguish it from contract violations.
func providerError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", model.ErrProviderFailure, fmt.Sprintf(format, args...))
}

// readSSE reads "data: ..." lines from an SSE body and hands each payload to
// fn until fn reports it is finished or the body ends. Context cancellation
// closes the body through the request, which unblocks the scanner.
func readSSE(body io.Reader, fn func(payload string) (stop bool, err error)) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		stop, err := fn(strings.TrimPrefix(line, "data: "))
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return providerError("reading stream: %v", err)
	}
	return nil
}

func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload any) (*http.Response, error) {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, providerError("calling provider: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, providerError("provider returned %d: %s", resp.StatusCode, string(respBody))
	}
	return resp, nil
}
