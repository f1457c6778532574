package shoji

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"scrunch/lib/restyutil"
	"scrunch/lib/telemetry"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/net/publicsuffix"
)

var tracer = otel.Tracer("scrunch/shoji")

const DefaultBaseUrl = "https://app.crunch.io/api/"

type Session struct {
	Root  *url.URL
	http  *resty.Client
	flags map[string]bool
}

type SessionOptions struct {
	BaseUrl  string
	Username string
	Password string
	// ApiKey takes precedence over username/password when set.
	ApiKey  string
	Timeout time.Duration
	// Output receives full request/response dumps, it can be nil.
	Output restyutil.InstrumentOutput
	// Transport replaces the default http transport, used by tests.
	Transport http.RoundTripper
}

func NewSession(ctx context.Context, opts SessionOptions) (*Session, error) {
	ctx, span := tracer.Start(ctx, "session:new")
	defer span.End()

	base := opts.BaseUrl
	if base == "" {
		base = DefaultBaseUrl
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	root, err := url.Parse(base)
	if err != nil {
		span.SetStatus(codes.Error, "invalid base url")
		return nil, err
	}

	client := resty.New()
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.SetHeader("user-agent", "scrunch-go/1.0")
	client.SetHeader("accept", "application/json")
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	} else {
		client.SetTimeout(time.Minute)
	}
	if opts.Transport != nil {
		client.SetTransport(opts.Transport)
	}

	telemetry.InstrumentResty(client, "scrunch/shoji/http")
	restyutil.InstrumentClient(client, opts.Output)

	s := &Session{Root: root, http: client}

	switch {
	case opts.ApiKey != "":
		client.SetAuthToken(opts.ApiKey)
	case opts.Username != "":
		err = s.login(ctx, opts.Username, opts.Password)
		if err != nil {
			span.SetStatus(codes.Error, "failed to login")
			return nil, err
		}
	}

	return s, nil
}

func (s *Session) login(ctx context.Context, username, password string) error {
	ctx, span := tracer.Start(ctx, "session:login")
	defer span.End()
	span.SetAttributes(attribute.String("custom.username", username))

	_, err := s.Post(ctx, s.Resolve("public/login/"), map[string]string{
		"email":    username,
		"password": password,
	})
	if err != nil {
		span.SetStatus(codes.Error, "login request failed")
		if StatusCode(err) == http.StatusUnauthorized {
			return ErrInvalidCredentials
		}
		return err
	}
	slog.DebugContext(ctx, "logged in", "username", username, "root", s.Root.String())
	return nil
}

// Resolve makes ref absolute against the api root.
func (s *Session) Resolve(ref string) string {
	parsed, err := s.Root.Parse(ref)
	if err != nil {
		return ref
	}
	return parsed.String()
}

// FeatureFlags returns the flags the server exposes through the root
// document's "flags" view. A missing view yields no flags.
func (s *Session) FeatureFlags(ctx context.Context) (map[string]bool, error) {
	if s.flags != nil {
		return s.flags, nil
	}
	root, err := s.Get(ctx, s.Root.String(), nil)
	if err != nil {
		return nil, err
	}
	flags := map[string]bool{}
	if link, ok := root.Link("flags"); ok {
		view, err := s.Get(ctx, link, nil)
		if err != nil {
			return nil, err
		}
		if len(view.Value) > 0 {
			err = json.Unmarshal(view.Value, &flags)
			if err != nil {
				return nil, fmt.Errorf("decode feature flags: %w", err)
			}
		}
	}
	s.flags = flags
	return flags, nil
}

func (s *Session) SetFeatureFlags(flags map[string]bool) {
	s.flags = flags
}

func (s *Session) Flag(ctx context.Context, name string) bool {
	flags, err := s.FeatureFlags(ctx)
	if err != nil {
		slog.WarnContext(ctx, "failed to load feature flags", "err", err)
		return false
	}
	return flags[name]
}

// Response is the raw outcome of a non-GET request.
type Response struct {
	StatusCode int
	Location   string
	Body       []byte
}

func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

func (s *Session) do(ctx context.Context, method, target string, params url.Values, body any) (*resty.Response, error) {
	req := s.http.R().SetContext(ctx)
	if params != nil {
		req.SetQueryParamsFromValues(params)
	}
	if body != nil {
		req.SetHeader("content-type", "application/json")
		switch b := body.(type) {
		case []byte, string:
			req.SetBody(b)
		default:
			serialized, err := json.Marshal(b)
			if err != nil {
				return nil, err
			}
			req.SetBody(serialized)
		}
	}
	res, err := req.Execute(method, s.Resolve(target))
	if err != nil {
		return nil, err
	}
	if res.StatusCode() >= 400 {
		return res, &Error{
			Method:     method,
			URL:        res.Request.URL,
			StatusCode: res.StatusCode(),
			Body:       res.Body(),
		}
	}
	return res, nil
}

func (s *Session) Get(ctx context.Context, target string, params url.Values) (*Document, error) {
	res, err := s.do(ctx, http.MethodGet, target, params, nil)
	if err != nil {
		return nil, err
	}
	doc := &Document{}
	err = json.Unmarshal(res.Body(), doc)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", target, err)
	}
	if doc.Self == "" {
		doc.Self = s.Resolve(target)
	}
	doc.session = s
	return doc, nil
}

// GetJSON fetches target and decodes the raw body into v, for
// resources that are not shoji documents.
func (s *Session) GetJSON(ctx context.Context, target string, params url.Values, v any) error {
	res, err := s.do(ctx, http.MethodGet, target, params, nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(res.Body(), v)
}

func (s *Session) send(ctx context.Context, method, target string, body any) (*Response, error) {
	res, err := s.do(ctx, method, target, nil, body)
	if err != nil {
		return nil, err
	}
	out := &Response{
		StatusCode: res.StatusCode(),
		Location:   res.Header().Get("Location"),
		Body:       res.Body(),
	}
	if out.Location != "" {
		out.Location = s.Resolve(out.Location)
	}
	return out, nil
}

func (s *Session) Post(ctx context.Context, target string, body any) (*Response, error) {
	return s.send(ctx, http.MethodPost, target, body)
}

func (s *Session) Put(ctx context.Context, target string, body any) (*Response, error) {
	return s.send(ctx, http.MethodPut, target, body)
}

func (s *Session) Patch(ctx context.Context, target string, body any) (*Response, error) {
	return s.send(ctx, http.MethodPatch, target, body)
}

func (s *Session) Delete(ctx context.Context, target string) error {
	_, err := s.send(ctx, http.MethodDelete, target, nil)
	return err
}

// Download writes the body of target to path. file:// urls are copied
// from the local filesystem. Urls outside the api host are fetched
// without the session's credentials.
func (s *Session) Download(ctx context.Context, target, path string) error {
	ctx, span := tracer.Start(ctx, "session:download")
	defer span.End()
	span.SetAttributes(attribute.String("custom.target", target))

	if local, ok := strings.CutPrefix(target, "file://"); ok {
		contents, err := os.ReadFile(local)
		if err != nil {
			span.SetStatus(codes.Error, "failed to read local export")
			return err
		}
		return os.WriteFile(path, contents, 0644)
	}

	client := s.http
	parsed, err := url.Parse(target)
	if err == nil && parsed.Host != "" && parsed.Host != s.Root.Host {
		client = resty.New()
		telemetry.InstrumentResty(client, "scrunch/shoji/download")
	}
	res, err := client.R().
		SetContext(ctx).
		SetOutput(path).
		Get(target)
	if err != nil {
		span.SetStatus(codes.Error, "download failed")
		return err
	}
	if res.StatusCode() >= 400 {
		span.SetStatus(codes.Error, "download failed")
		return &Error{
			Method:     http.MethodGet,
			URL:        target,
			StatusCode: res.StatusCode(),
		}
	}
	return nil
}
