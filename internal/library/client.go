package library

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/example/seat-scheduler/internal/application/usecases"
	"github.com/example/seat-scheduler/internal/config"
	"github.com/example/seat-scheduler/internal/domain/history"
	"github.com/example/seat-scheduler/internal/domain/reservation"
	"github.com/example/seat-scheduler/internal/timeutil"
)

// Client drives the library site's HTML pages over HTTP. It keeps one
// cookie session; Logout discards it.
type Client struct {
	base   string
	hc     *http.Client
	logger *zap.Logger
}

func New(cfg config.LibraryConfig, logger *zap.Logger) (*Client, error) {
	if _, err := url.Parse(cfg.URL); err != nil || cfg.URL == "" {
		return nil, fmt.Errorf("invalid LIBRARY_URL %q", cfg.URL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	jar, _ := cookiejar.New(nil)
	return &Client{
		base:   strings.TrimRight(cfg.URL, "/"),
		hc:     &http.Client{Timeout: timeout, Jar: jar},
		logger: logger,
	}, nil
}

var _ usecases.Library = (*Client)(nil)

var successMarks = []string{"预定好了", "预约成功", "操作成功", "成功", "success"}
var failureMarks = []string{"预约失败", "已有1个有效预约", "失败", "failed"}

func (c *Client) Login(ctx context.Context, cr usecases.Credentials) error {
	form := url.Values{"username": {cr.Username}, "password": {cr.Password}}
	doc, err := c.page(ctx, http.MethodPost, "/login", nil, form)
	if err != nil {
		return err
	}
	if n := findFirst(doc, byID("loginError")); n != nil {
		return fmt.Errorf("login rejected: %s", text(n))
	}
	c.logger.Debug("logged in", zap.String("user", cr.Username))
	return nil
}

func (c *Client) Logout(ctx context.Context) error {
	_, err := c.page(ctx, http.MethodGet, "/logout", nil, nil)
	jar, _ := cookiejar.New(nil)
	c.hc.Jar = jar
	return err
}

func (c *Client) OpenHistory(ctx context.Context) (history.Feed, error) {
	return &historyFeed{c: c}, nil
}

type historyFeed struct {
	c    *Client
	page int
	done bool
}

func (f *historyFeed) FetchPage(ctx context.Context) ([]history.Entry, error) {
	if f.done {
		return nil, history.ErrFeedExhausted
	}
	f.page++
	q := url.Values{"type": {"SEAT"}, "page": {strconv.Itoa(f.page)}}
	doc, err := f.c.page(ctx, http.MethodGet, "/history", q, nil)
	if err != nil {
		return nil, err
	}
	f.done = !hasMore(doc)
	return historyEntries(doc), nil
}

func seatQuery(req reservation.ReserveRequest) url.Values {
	return url.Values{
		"date":     {req.Date.Format(timeutil.DateLayout)},
		"building": {req.Place},
		"floor":    {req.Floor},
		"room":     {req.Room},
		"seat":     {req.SeatID},
	}
}

func (c *Client) OpenSeat(ctx context.Context, req reservation.ReserveRequest) (usecases.SeatSession, error) {
	q := seatQuery(req)
	doc, err := c.page(ctx, http.MethodGet, "/seat", q, nil)
	if err != nil {
		return nil, err
	}
	begins, ok := timeOptions(doc, "startTime")
	if !ok {
		return nil, fmt.Errorf("seat %s has no time picker", req.SeatID)
	}
	return &seatSession{c: c, query: q, begins: begins}, nil
}

type seatSession struct {
	c      *Client
	query  url.Values
	begins []reservation.SlotOption
}

func (s *seatSession) BeginOptions(context.Context) ([]reservation.SlotOption, error) {
	return s.begins, nil
}

func (s *seatSession) EndOptions(ctx context.Context, begin reservation.SlotOption) ([]reservation.SlotOption, error) {
	q := cloneValues(s.query)
	q.Set("start", begin.Value)
	doc, err := s.c.page(ctx, http.MethodGet, "/seat/end", q, nil)
	if err != nil {
		return nil, err
	}
	ends, _ := timeOptions(doc, "endTime")
	return ends, nil
}

func (s *seatSession) Submit(ctx context.Context, begin, end reservation.SlotOption) error {
	form := cloneValues(s.query)
	form.Set("start", begin.Value)
	form.Set("end", end.Value)
	doc, err := s.c.page(ctx, http.MethodPost, "/seat/reserve", nil, form)
	if err != nil {
		return err
	}
	return layoutResult(doc)
}

// layoutResult reads the ".layoutSeat" result panel: dt is the title, dd
// items carry the details or the failure reason.
func layoutResult(doc *html.Node) error {
	panel := findFirst(doc, byClass("layoutSeat"))
	if panel == nil {
		return errors.New("no reservation result on page")
	}
	var title string
	if dt := findFirst(panel, byTag("dt")); dt != nil {
		title = text(dt)
	}
	var details []string
	for _, dd := range findAll(panel, byTag("dd")) {
		if t := text(dd); t != "" {
			details = append(details, t)
		}
	}
	for _, d := range details {
		if containsAny(d, failureMarks) {
			return fmt.Errorf("reservation refused: %s", strings.Join(details, "; "))
		}
	}
	if containsAny(title, successMarks) {
		return nil
	}
	return fmt.Errorf("unexpected reservation result %q", title)
}

func (c *Client) CheckIn(ctx context.Context) error {
	doc, err := c.page(ctx, http.MethodPost, "/checkin", nil, url.Values{})
	if err != nil {
		return err
	}
	return resultMessage(doc)
}

func recordQuery(rec history.Record) url.Values {
	return url.Values{
		"date":  {rec.Date.Format(timeutil.DateLayout)},
		"begin": {strconv.Itoa(rec.Begin)},
		"end":   {strconv.Itoa(rec.End)},
	}
}

func (c *Client) RenewOptions(ctx context.Context, rec history.Record) ([]reservation.SlotOption, error) {
	doc, err := c.page(ctx, http.MethodGet, "/renew", recordQuery(rec), nil)
	if err != nil {
		return nil, err
	}
	opts, ok := timeOptions(doc, "renewTime")
	if !ok {
		return nil, errors.New("renewal is not offered")
	}
	return opts, nil
}

func (c *Client) Renew(ctx context.Context, rec history.Record, end reservation.SlotOption) error {
	form := recordQuery(rec)
	form.Set("to", end.Value)
	doc, err := c.page(ctx, http.MethodPost, "/renew", nil, form)
	if err != nil {
		return err
	}
	return resultMessage(doc)
}

// resultMessage reads the ".resultMessage" dialog shown after check-in and
// renewal.
func resultMessage(doc *html.Node) error {
	n := findFirst(doc, byClass("resultMessage"))
	if n == nil {
		return errors.New("no result message on page")
	}
	msg := text(n)
	if containsAny(msg, failureMarks) || !containsAny(msg, successMarks) {
		return fmt.Errorf("site refused: %s", msg)
	}
	return nil
}

func (c *Client) page(ctx context.Context, method, path string, query, form url.Values) (*html.Node, error) {
	var body []byte
	contentType := ""
	if form != nil {
		body = []byte(form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}
	status, b, err := c.do(ctx, method, c.base+path, contentType, query, body)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, fmt.Errorf("%s %s failed (status=%d)", method, path, status)
	}
	doc, err := parse(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

func (c *Client) do(ctx context.Context, method, rawURL, contentType string, query url.Values, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Add("user-agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.0.0 Safari/537.36")
	req.Header.Add("cache-control", "no-cache")
	if contentType != "" {
		req.Header.Add("content-type", contentType)
	}
	if query != nil {
		req.URL.RawQuery = query.Encode()
	}

	start := time.Now()
	res, err := c.hc.Do(req)
	if err != nil {
		if isTimeout(err) {
			return 0, nil, fmt.Errorf("%w: %s %s", usecases.ErrExternalTimeout, method, req.URL.Path)
		}
		return 0, nil, err
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		if isTimeout(err) {
			return res.StatusCode, nil, fmt.Errorf("%w: %s %s", usecases.ErrExternalTimeout, method, req.URL.Path)
		}
		return res.StatusCode, nil, err
	}
	c.logger.Debug("library request",
		zap.String("method", method),
		zap.String("path", req.URL.Path),
		zap.Int("status", res.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)
	return res.StatusCode, b, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func containsAny(s string, marks []string) bool {
	lower := strings.ToLower(s)
	for _, m := range marks {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
