package rbs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/aussiebroadwan/rbs/pkg/httpx"
	"github.com/aussiebroadwan/rbs/pkg/idx"
	"github.com/aussiebroadwan/rbs/pkg/slogx"
)

// Dispatcher sends actions. Token acquisition goes through the session's
// lane; the action calls themselves run concurrently.
type Dispatcher struct {
	cfg     Config
	session *Session
	http    httpx.Transport
	log     *slog.Logger

	// onToken runs after every successful token check, before the action.
	onToken func(TokenRecord)

	completions chan func()
	done        chan struct{}
	inflight    sync.WaitGroup
	mu          sync.RWMutex
	closed      bool
}

func newDispatcher(cfg Config, session *Session, transport httpx.Transport, log *slog.Logger, onToken func(TokenRecord)) *Dispatcher {
	d := &Dispatcher{
		cfg:         cfg,
		session:     session,
		http:        transport,
		log:         log.With("component", "dispatcher"),
		onToken:     onToken,
		completions: make(chan func(), 64),
		done:        make(chan struct{}),
	}
	go d.deliverCompletions()
	return d
}

// Send runs an action and returns its result items.
func (d *Dispatcher) Send(ctx context.Context, req ActionRequest) ([]any, error) {
	name, err := ParseActionName(req.Action)
	if err != nil {
		return nil, err
	}
	ctx = slogx.WithContext(ctx, d.log)
	ctx = slogx.WithAction(ctx, name.String())

	rec, err := d.session.EnsureToken(ctx)
	if err != nil {
		return nil, err
	}
	if d.onToken != nil {
		d.onToken(rec)
	}

	httpReq, err := d.buildRequest(name, req, rec.AccessToken)
	if err != nil {
		return nil, err
	}

	resp, err := d.http.Do(ctx, httpReq)
	if err != nil {
		return nil, fmt.Errorf("rbs: send %s: %w", name, err)
	}
	if !resp.IsSuccess() {
		aerr := decodeActionError(resp)
		slogx.FromContext(ctx).Debug("action failed", "status", aerr.HTTPStatusCode, "code", aerr.Code)
		return nil, aerr
	}
	return decodeItems(resp.Body), nil
}

// SendAsync runs Send in the background. Exactly one of onSuccess or onError
// is called, on the dispatcher's completion goroutine, so callbacks never
// run concurrently with each other. Either callback may be nil. Once the
// client is closed, onError(ErrClosed) is called before SendAsync returns.
func (d *Dispatcher) SendAsync(ctx context.Context, req ActionRequest, onSuccess func([]any), onError func(error)) {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		if onError != nil {
			onError(ErrClosed)
		}
		return
	}
	d.inflight.Add(1)
	d.mu.RUnlock()

	go func() {
		defer d.inflight.Done()

		items, err := d.Send(ctx, req)
		d.completions <- func() {
			switch {
			case err != nil && onError != nil:
				onError(err)
			case err == nil && onSuccess != nil:
				onSuccess(items)
			}
		}
	}()
}

// GeneratePublicGetActionURL returns the URL that runs a get action without
// going through the SDK. No token is embedded and no I/O happens.
func (d *Dispatcher) GeneratePublicGetActionURL(action string, payload map[string]any) (string, error) {
	name, err := ParseActionName(action)
	if err != nil {
		return "", err
	}
	if !name.IsGet() {
		return "", &ConfigurationError{Field: "action", Reason: fmt.Sprintf("%q is not a get action", action)}
	}
	return d.publicURL(name, payload)
}

func (d *Dispatcher) publicURL(name ActionName, payload map[string]any) (string, error) {
	data, err := encodePayload(payload)
	if err != nil {
		return "", err
	}
	q := url.Values{"data": {base64.StdEncoding.EncodeToString(data)}}
	return d.cfg.BaseURL + pathPublicAction + url.PathEscape(d.cfg.ProjectID) + "/" + url.PathEscape(name.String()) + "?" + q.Encode(), nil
}

func (d *Dispatcher) buildRequest(name ActionName, req ActionRequest, accessToken string) (httpx.Request, error) {
	out := httpx.Request{Header: http.Header{}}

	if name.IsGet() {
		u, err := d.publicURL(name, req.Payload)
		if err != nil {
			return httpx.Request{}, err
		}
		out.Method = http.MethodGet
		out.URL = u
	} else {
		body, err := encodePayload(req.Payload)
		if err != nil {
			return httpx.Request{}, err
		}
		out.Method = http.MethodPost
		out.URL = d.cfg.BaseURL + pathUserAction + url.PathEscape(d.cfg.ProjectID) + "/" + url.PathEscape(name.String())
		out.Body = body
		out.Header.Set(httpx.HeaderContentType, httpx.ContentTypeJSON)
	}

	for k, v := range req.Headers {
		out.Header.Set(k, v)
	}

	culture := d.cfg.Culture
	if req.Culture != "" {
		culture = req.Culture
	}
	out.Header.Set(httpx.HeaderAuthorization, httpx.Bearer(accessToken))
	out.Header.Set(httpx.HeaderAcceptLanguage, culture)
	out.Header.Set(httpx.HeaderOperationChannel, operationChannel)
	if out.Header.Get(slogx.RequestIDHeader) == "" {
		out.Header.Set(slogx.RequestIDHeader, idx.New().String())
	}
	return out, nil
}

func (d *Dispatcher) deliverCompletions() {
	defer close(d.done)
	for fn := range d.completions {
		fn()
	}
}

// close waits for in-flight SendAsync calls and their callbacks.
func (d *Dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.inflight.Wait()
	close(d.completions)
	<-d.done
}

func encodePayload(payload map[string]any) ([]byte, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, &ConfigurationError{Field: "payload", Reason: err.Error()}
	}
	return b, nil
}

// decodeItems turns a 2xx body into result items. Arrays are returned as is,
// any other JSON value becomes a single item, and an empty or undecodable
// body yields no items.
func decodeItems(body []byte) []any {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return []any{}
	}

	var v any
	if err := json.Unmarshal(body, &v); err != nil || v == nil {
		return []any{}
	}
	if items, ok := v.([]any); ok {
		return items
	}
	return []any{v}
}

// decodeActionError reads {code, message} from a failed response. Without a
// usable body only the status is known and Code is CodeUnknown.
func decodeActionError(resp httpx.Response) *ActionError {
	aerr := &ActionError{HTTPStatusCode: resp.StatusCode, Code: CodeUnknown}

	var body struct {
		Code    *int   `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return aerr
	}
	if body.Code != nil {
		aerr.Code = *body.Code
	}
	aerr.Message = body.Message
	return aerr
}
