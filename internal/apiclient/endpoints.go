package apiclient

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"flowershop/internal/domain"
	"flowershop/internal/pricing"
)

type ListParams struct {
	Category string
	Search   string
	InStock  *bool
	MinPrice string
	MaxPrice string
	Sort     string
	Page     int
	PageSize int
}

func (p ListParams) values() url.Values {
	v := url.Values{}
	set := func(k, val string) {
		if val != "" {
			v.Set(k, val)
		}
	}
	set("category", p.Category)
	set("q", p.Search)
	set("min_price", p.MinPrice)
	set("max_price", p.MaxPrice)
	set("sort", p.Sort)
	if p.InStock != nil {
		v.Set("in_stock", strconv.FormatBool(*p.InStock))
	}
	if p.Page > 0 {
		v.Set("page", strconv.Itoa(p.Page))
	}
	if p.PageSize > 0 {
		v.Set("page_size", strconv.Itoa(p.PageSize))
	}
	return v
}

func (c *Client) ListFlowers(ctx context.Context, p ListParams) (domain.Page[domain.Flower], error) {
	var out domain.Page[domain.Flower]
	err := c.do(ctx, call{method: http.MethodGet, path: "/flowers", query: p.values()}, &out)
	return out, err
}

func (c *Client) GetFlower(ctx context.Context, id string) (domain.Flower, error) {
	var out domain.Flower
	err := c.do(ctx, call{method: http.MethodGet, path: "/flowers/" + url.PathEscape(id)}, &out)
	return out, err
}

// CreateOrder submits once. The idempotency key lets the backend collapse a
// resubmission whose first response was lost.
func (c *Client) CreateOrder(ctx context.Context, req domain.OrderRequest, idempotencyKey string) (domain.Order, error) {
	var out domain.Order
	cl := call{method: http.MethodPost, path: "/orders", body: req, authed: true}
	if idempotencyKey != "" {
		cl.headers = map[string]string{"Idempotency-Key": idempotencyKey}
	}
	err := c.do(ctx, cl, &out)
	return out, err
}

func (c *Client) ListOrders(ctx context.Context, page, pageSize int) (domain.Page[domain.Order], error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		q.Set("page_size", strconv.Itoa(pageSize))
	}
	var out domain.Page[domain.Order]
	err := c.do(ctx, call{method: http.MethodGet, path: "/orders", query: q, authed: true}, &out)
	return out, err
}

func (c *Client) Me(ctx context.Context) (domain.User, error) {
	var out domain.User
	err := c.do(ctx, call{method: http.MethodGet, path: "/users/me", authed: true}, &out)
	return out, err
}

func (c *Client) Login(ctx context.Context, email, password string) (domain.AuthResult, error) {
	var out domain.AuthResult
	body := map[string]string{"email": email, "password": password}
	err := c.do(ctx, call{method: http.MethodPost, path: "/auth/login", body: body}, &out)
	return out, err
}

// Refresh satisfies session.Refresher.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	var out domain.TokenPair
	body := map[string]string{"refresh_token": refreshToken}
	err := c.do(ctx, call{method: http.MethodPost, path: "/auth/refresh", body: body}, &out)
	return out, err
}

// TelegramAuth forwards the Login Widget callback fields untouched.
func (c *Client) TelegramAuth(ctx context.Context, fields map[string]string) (domain.AuthResult, error) {
	var out domain.AuthResult
	err := c.do(ctx, call{method: http.MethodPost, path: "/auth/telegram-auth", body: fields}, &out)
	return out, err
}

func (c *Client) TelegramMiniApp(ctx context.Context, initData string) (domain.AuthResult, error) {
	var out domain.AuthResult
	body := map[string]string{"init_data": initData}
	err := c.do(ctx, call{method: http.MethodPost, path: "/auth/telegram-miniapp", body: body}, &out)
	return out, err
}

func (c *Client) LookupPromo(ctx context.Context, code string) (domain.PromoCode, error) {
	var out domain.PromoCode
	err := c.do(ctx, call{method: http.MethodGet, path: "/promo-codes/" + url.PathEscape(code)}, &out)
	return out, err
}

// PromoResolver validates codes against the backend instead of a table
// shipped with the client.
type PromoResolver struct {
	Client *Client
}

func (r PromoResolver) Resolve(ctx context.Context, code string) (int, error) {
	code = pricing.NormalizeCode(code)
	if code == "" {
		return 0, pricing.ErrUnknownPromo
	}
	p, err := r.Client.LookupPromo(ctx, code)
	if IsStatus(err, http.StatusNotFound) {
		return 0, pricing.ErrUnknownPromo
	}
	if err != nil {
		return 0, err
	}
	if !p.Active {
		return 0, pricing.ErrUnknownPromo
	}
	return p.Percentage, nil
}

var _ pricing.PromoResolver = PromoResolver{}

// Ping checks the backend health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, call{method: http.MethodGet, path: "/health"}, nil)
}
