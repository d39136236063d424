package firebase

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/Tiliavir/trivial-work-log/internal/remote"
)

// ErrStreamCanceled is reported when the server cancels a stream, which it
// does when security rules stop allowing the read.
var ErrStreamCanceled = errors.New("firebase stream canceled by server")

const maxEventSize = 16 << 20

// Subscribe implements remote.Store. The initial request runs synchronously
// so that permission errors surface here; events are then read on a
// goroutine until ctx is done or the returned function is called.
func (c *Client) Subscribe(ctx context.Context, path string, onChange remote.ChangeFunc, onError remote.ErrorFunc) (remote.Unsubscribe, error) {
	p, err := remote.CleanPath(path)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	body, err := c.openStream(streamCtx, p)
	if err != nil {
		cancel()
		return nil, err
	}

	cache, _ := remote.NewTree(nil)
	s := &stream{
		client:   c,
		ctx:      streamCtx,
		path:     p,
		cache:    cache,
		onChange: onChange,
		onError:  onError,
	}
	go s.run(body)
	return sync.OnceFunc(cancel), nil
}

func (c *Client) openStream(ctx context.Context, path string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path), nil)
	if err != nil {
		return nil, fmt.Errorf("creating stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("firebase stream failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return resp.Body, nil
}

type stream struct {
	client   *Client
	ctx      context.Context
	path     string
	cache    *remote.Tree
	onChange remote.ChangeFunc
	onError  remote.ErrorFunc
}

type event struct {
	name string
	data string
}

type eventPayload struct {
	Path string          `json:"path"`
	Data json.RawMessage `json:"data"`
}

var errAuthRevoked = errors.New("auth revoked")

func (s *stream) run(body io.ReadCloser) {
	for {
		err := s.consume(body)
		body.Close()
		if s.ctx.Err() != nil {
			return
		}
		if !errors.Is(err, errAuthRevoked) {
			s.fail(err)
			return
		}
		// The token expired mid-stream; the server expects a new request
		// with a fresh token and replays the full value first.
		s.client.log.Debug("stream auth revoked, reopening", "path", s.path)
		body, err = s.client.openStream(s.ctx, s.path)
		if err != nil {
			if s.ctx.Err() == nil {
				s.fail(err)
			}
			return
		}
	}
}

func (s *stream) fail(err error) {
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	s.client.log.Warn("stream ended", "path", s.path, "error", err)
	if s.onError != nil {
		s.onError(err)
	}
}

// consume reads events until the body ends or a terminal event arrives.
func (s *stream) consume(body io.Reader) error {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 64*1024), maxEventSize)

	var ev event
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if ev.name != "" {
				if err := s.handle(ev); err != nil {
					return err
				}
			}
			ev = event{}
		case strings.HasPrefix(line, "event:"):
			ev.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			ev.data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	return io.ErrUnexpectedEOF
}

func (s *stream) handle(ev event) error {
	switch ev.name {
	case "put", "patch":
		var payload eventPayload
		if err := json.Unmarshal([]byte(ev.data), &payload); err != nil {
			return fmt.Errorf("decoding %s event: %w", ev.name, err)
		}
		if err := s.apply(ev.name, payload); err != nil {
			return err
		}
		if s.ctx.Err() == nil {
			s.onChange(remote.Snapshot{Path: s.path, Value: s.cache.Get("")})
		}
		return nil
	case "keep-alive":
		return nil
	case "cancel":
		return ErrStreamCanceled
	case "auth_revoked":
		return errAuthRevoked
	default:
		s.client.log.Debug("ignoring stream event", "event", ev.name)
		return nil
	}
}

func (s *stream) apply(kind string, payload eventPayload) error {
	rel, err := remote.CleanPath(payload.Path)
	if err != nil {
		return err
	}
	var data any
	if len(payload.Data) > 0 {
		if err := json.Unmarshal(payload.Data, &data); err != nil {
			return fmt.Errorf("decoding %s data: %w", kind, err)
		}
	}
	if kind == "put" {
		return s.cache.Set(rel, data)
	}
	fields, ok := data.(map[string]any)
	if !ok {
		return fmt.Errorf("patch data at %q is not an object", payload.Path)
	}
	return s.cache.Update(rel, fields)
}
