package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"flowershop/internal/domain"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListFlowers(c *gin.Context) {
	f := domain.FlowerFilter{
		Category: c.Query("category"),
		Search:   c.Query("q"),
		Sort:     c.Query("sort"),
		Page:     atoi(c.Query("page")),
		PageSize: atoi(c.Query("page_size")),
	}
	if v := c.Query("in_stock"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.err(c, http.StatusBadRequest, "BadRequest", "in_stock must be true or false")
			return
		}
		f.InStock = &b
	}
	for key, dst := range map[string]**decimal.Decimal{"min_price": &f.MinPrice, "max_price": &f.MaxPrice} {
		v := c.Query(key)
		if v == "" {
			continue
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			s.err(c, http.StatusBadRequest, "BadRequest", key+" must be a number")
			return
		}
		*dst = &d
	}
	page, err := s.catalog.List(c.Request.Context(), f)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) handleGetFlower(c *gin.Context) {
	f, err := s.catalog.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

func (s *Server) handlePromo(c *gin.Context) {
	p, err := s.promos.Lookup(c.Request.Context(), c.Param("code"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type registerReq struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name"`
}

func (s *Server) handleRegister(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.err(c, http.StatusBadRequest, "BadRequest", "invalid request body: "+err.Error())
		return
	}
	res, err := s.auth.Register(c.Request.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

type loginReq struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.err(c, http.StatusBadRequest, "BadRequest", "invalid request body: "+err.Error())
		return
	}
	res, err := s.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type refreshReq struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func (s *Server) handleRefresh(c *gin.Context) {
	var req refreshReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.err(c, http.StatusBadRequest, "BadRequest", "invalid request body: "+err.Error())
		return
	}
	pair, err := s.auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

// handleTelegramAuth takes the Login Widget fields as a flat JSON object.
// Numeric fields arrive as numbers from some widgets, so values are
// stringified before hashing.
func (s *Server) handleTelegramAuth(c *gin.Context) {
	var raw map[string]any
	if err := c.ShouldBindJSON(&raw); err != nil {
		s.err(c, http.StatusBadRequest, "BadRequest", "invalid json")
		return
	}
	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		switch t := v.(type) {
		case string:
			fields[k] = t
		case float64:
			fields[k] = strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			fields[k] = strconv.FormatBool(t)
		}
	}
	res, err := s.auth.TelegramLogin(c.Request.Context(), fields)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type miniAppReq struct {
	InitData string `json:"init_data" binding:"required"`
}

func (s *Server) handleTelegramMiniApp(c *gin.Context) {
	var req miniAppReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.err(c, http.StatusBadRequest, "BadRequest", "invalid request body: "+err.Error())
		return
	}
	res, err := s.auth.TelegramMiniApp(c.Request.Context(), req.InitData)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleMe(c *gin.Context) {
	u, err := s.auth.Me(c.Request.Context(), c.GetString(ctxUserID))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (s *Server) handleCreateOrder(c *gin.Context) {
	var req domain.OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.err(c, http.StatusBadRequest, "BadRequest", "invalid json")
		return
	}
	o, created, err := s.orders.Create(c.Request.Context(), c.GetString(ctxUserID), c.GetHeader("Idempotency-Key"), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, o)
}

func (s *Server) handleListOrders(c *gin.Context) {
	page := s.orders.List(c.Request.Context(), c.GetString(ctxUserID), atoi(c.Query("page")), atoi(c.Query("page_size")))
	c.JSON(http.StatusOK, page)
}

func atoi(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
