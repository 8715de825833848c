// Package deepgram provides a Deepgram-backed ASR provider using the
// streaming WebSocket API with diarization enabled. It implements the
// asr.Provider interface.
//
// Although the wire protocol is streaming, the provider exposes the same
// batch contract as the other backends: the segment's PCM is streamed in
// chunks, a CloseStream message flushes the pipeline, and the diarized words
// from all final results are grouped into speaker turns.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/coder/websocket"

	"github.com/oasis-home/earshot/pkg/provider/asr"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"

	// chunkBytes is the size of each binary audio message. 8 KiB ≈ 250 ms of
	// 16 kHz mono PCM, comfortably under Deepgram's message limits.
	chunkBytes = 8192
)

// Compile-time assertion that Provider implements asr.Provider.
var _ asr.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model (e.g. "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithEndpoint overrides the WebSocket endpoint, mainly for tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// Provider implements asr.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey   string
	model    string
	endpoint string
}

// New creates a Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements [asr.Provider].
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, sampleRate int, hints asr.Hints) (*asr.Result, error) {
	wsURL, err := p.buildURL(sampleRate, hints)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// Writer: stream the segment and flush. Errors surface through errCh so
	// the read loop below is not abandoned mid-handshake.
	errCh := make(chan error, 1)
	go func() {
		for off := 0; off < len(pcm); off += chunkBytes {
			end := off + chunkBytes
			if end > len(pcm) {
				end = len(pcm)
			}
			if err := conn.Write(ctx, websocket.MessageBinary, pcm[off:end]); err != nil {
				errCh <- fmt.Errorf("deepgram: write audio: %w", err)
				return
			}
		}
		if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
			errCh <- fmt.Errorf("deepgram: close stream: %w", err)
			return
		}
		errCh <- nil
	}()

	// Reader: collect diarized words from every final result until the
	// server closes the connection after flushing.
	var (
		words    []word
		language string
	)
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			var closeErr websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.StatusNormalClosure {
				break
			}
			if ctx.Err() != nil {
				return nil, fmt.Errorf("deepgram: read: %w", ctx.Err())
			}
			// Deepgram closes abruptly after the final flush; treat EOF after
			// at least one result as completion.
			if len(words) > 0 {
				break
			}
			return nil, fmt.Errorf("deepgram: read: %w", err)
		}

		var resp response
		if err := json.Unmarshal(msg, &resp); err != nil || resp.Type != "Results" || !resp.IsFinal {
			continue
		}
		if len(resp.Channel.Alternatives) == 0 {
			continue
		}
		alt := resp.Channel.Alternatives[0]
		if len(alt.Languages) > 0 && language == "" {
			language = alt.Languages[0]
		}
		words = append(words, alt.Words...)
	}

	if err := <-errCh; err != nil {
		return nil, err
	}
	return groupWords(words, language), nil
}

// buildURL constructs the streaming endpoint URL with diarization enabled.
func (p *Provider) buildURL(sampleRate int, hints asr.Hints) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", p.model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", "1")
	q.Set("punctuate", "true")
	q.Set("diarize", "true")
	if hints.Language != "" {
		q.Set("language", hints.Language)
	} else {
		q.Set("detect_language", "true")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// response is the subset of the Deepgram Results message this provider reads.
type response struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string   `json:"transcript"`
			Confidence float64  `json:"confidence"`
			Languages  []string `json:"languages"`
			Words      []word   `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// word is one diarized word from a final result.
type word struct {
	Word           string  `json:"word"`
	PunctuatedWord string  `json:"punctuated_word"`
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	Confidence     float64 `json:"confidence"`
	Speaker        int     `json:"speaker"`
}

// groupWords folds consecutive same-speaker words into speaker turns.
func groupWords(words []word, language string) *asr.Result {
	res := &asr.Result{Language: language}
	var cur *asr.Utterance
	var confSum float64
	var confN int

	flush := func() {
		if cur == nil {
			return
		}
		if confN > 0 {
			cur.Confidence = confSum / float64(confN)
		}
		res.Utterances = append(res.Utterances, *cur)
		cur, confSum, confN = nil, 0, 0
	}

	for _, w := range words {
		text := w.PunctuatedWord
		if text == "" {
			text = w.Word
		}
		tag := fmt.Sprintf("SPEAKER_%02d", w.Speaker)
		if cur == nil || cur.Speaker != tag {
			flush()
			cur = &asr.Utterance{
				Speaker: tag,
				Text:    text,
				Start:   time.Duration(w.Start * float64(time.Second)),
				End:     time.Duration(w.End * float64(time.Second)),
			}
		} else {
			cur.Text += " " + text
			cur.End = time.Duration(w.End * float64(time.Second))
		}
		confSum += w.Confidence
		confN++
	}
	flush()
	return res
}
