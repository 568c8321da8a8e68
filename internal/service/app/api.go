package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"haine/internal/apperr"
	"haine/internal/model"
	"haine/internal/service/updates"

	"github.com/pkg/errors"
)

const authHeader = "auth"

type (
	// Client talks to the server's HTTP API on behalf of one logged-in user.
	Client struct {
		base  string
		http  *http.Client
		token string
		id    int64
	}

	UserInfo struct {
		ID       int64  `json:"id"`
		Name     string `json:"name"`
		LastSeen int64  `json:"last_seen"`
	}

	envelope struct {
		Result  json.RawMessage `json:"result"`
		Error   int             `json:"error"`
		Message string          `json:"message"`
	}
)

func NewClient(base string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{base: strings.TrimRight(base, "/"), http: hc}
}

func (c *Client) ID() int64 {
	return c.id
}

// call performs one API request. Server-reported failures come back as
// *apperr.Error.
func (c *Client) call(ctx context.Context, method, path string, params url.Values, out any) error {
	target := c.base + path
	var body io.Reader
	if method == http.MethodPost {
		body = strings.NewReader(params.Encode())
	} else if len(params) > 0 {
		target += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return errors.Wrapf(err, "build %s request", path)
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if c.token != "" {
		req.Header.Set(authHeader, c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "call %s", path)
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return errors.Wrapf(err, "decode %s response (status %d)", path, resp.StatusCode)
	}
	if env.Error != 0 {
		return &apperr.Error{Code: env.Error, Message: env.Message}
	}
	if out == nil {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(env.Result, out), "decode %s result", path)
}

func (c *Client) SignUp(ctx context.Context, name, password string) (int64, error) {
	var id int64
	err := c.call(ctx, http.MethodPost, "/auth.signUp", url.Values{
		"name":     {name},
		"password": {password},
	}, &id)
	return id, err
}

// LogIn stores the returned token; every later call is made as that user.
func (c *Client) LogIn(ctx context.Context, name, password string) error {
	var res struct {
		Token string `json:"token"`
		ID    int64  `json:"id"`
	}
	err := c.call(ctx, http.MethodPost, "/auth.logIn", url.Values{
		"name":     {name},
		"password": {password},
	}, &res)
	if err != nil {
		return err
	}
	c.token, c.id = res.Token, res.ID
	return nil
}

func (c *Client) User(ctx context.Context, id int64) (*UserInfo, error) {
	var u UserInfo
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/user.get/%d", id), nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) Send(ctx context.Context, toID int64, text string) (int64, error) {
	var id int64
	err := c.call(ctx, http.MethodPost, "/messages.send", url.Values{
		"to_id": {strconv.FormatInt(toID, 10)},
		"text":  {text},
	}, &id)
	return id, err
}

func (c *Client) History(ctx context.Context, peerID int64, count int) ([]model.MessageView, error) {
	var views []model.MessageView
	err := c.call(ctx, http.MethodGet, "/messages.getHistory", url.Values{
		"peer_id": {strconv.FormatInt(peerID, 10)},
		"count":   {strconv.Itoa(count)},
	}, &views)
	return views, err
}

// Poll blocks for up to the server's poll timeout.
func (c *Client) Poll(ctx context.Context, cur updates.Cursor) (*model.Updates, error) {
	var upd model.Updates
	err := c.call(ctx, http.MethodGet, "/updates.poll", url.Values{
		"next_message_from":  {strconv.FormatInt(cur.NextMessageFrom, 10)},
		"next_exchange_from": {strconv.FormatInt(cur.NextExchangeFrom, 10)},
	}, &upd)
	if err != nil {
		return nil, err
	}
	return &upd, nil
}

func (c *Client) Commit(ctx context.Context, p, g, public string, toID int64) error {
	return c.call(ctx, http.MethodPost, "/exchange.commit", url.Values{
		"p":      {p},
		"g":      {g},
		"public": {public},
		"to_id":  {strconv.FormatInt(toID, 10)},
	}, nil)
}

func (c *Client) DHParams(ctx context.Context) (string, string, error) {
	var res struct {
		P string `json:"p"`
		G string `json:"g"`
	}
	if err := c.call(ctx, http.MethodGet, "/dh.getParams", nil, &res); err != nil {
		return "", "", err
	}
	return res.P, res.G, nil
}
