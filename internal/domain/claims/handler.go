package claims

import (
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/claims/internal/platform/auth"
	"github.com/ehr/claims/internal/platform/db"
	"github.com/ehr/claims/pkg/pagination"
)

// maxRemittanceBody caps raw 835 uploads.
const maxRemittanceBody = 10 << 20

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – admin, billing
	readGroup := api.Group("", auth.RequireRole("admin", "billing"))
	readGroup.GET("/claims/:id/submissions", h.ListSubmissions)
	readGroup.GET("/claims/:id/history", h.ListHistory)
	readGroup.GET("/claims/:id/payments", h.ListPayments)
	readGroup.GET("/claim-batches/:id", h.GetBatch)
	readGroup.GET("/remittances/:id", h.GetRemittance)
	readGroup.GET("/clearinghouses", h.ListClearinghouses)
	readGroup.GET("/clearinghouses/:id", h.GetClearinghouse)

	// Write endpoints – admin, billing
	writeGroup := api.Group("", auth.RequireRole("admin", "billing"))
	writeGroup.POST("/claims/:id/submit", h.Submit)
	writeGroup.POST("/claims/:id/poll", h.Poll)
	writeGroup.POST("/claims/:id/resubmit", h.Resubmit)
	writeGroup.POST("/claim-batches", h.SubmitBatch)
	writeGroup.POST("/remittances", h.IngestRemittance)
	writeGroup.POST("/clearinghouses", h.CreateClearinghouse)
	writeGroup.PUT("/clearinghouses/:id", h.UpdateClearinghouse)
}

// httpError maps domain error categories onto HTTP statuses.
func httpError(err error) error {
	switch {
	case IsValidation(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case IsInvalidStatus(err), IsCannotResubmit(err):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case IsConfiguration(err):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case IsTransport(err):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func tenantID(c echo.Context) string {
	return db.TenantFromContext(c.Request().Context())
}

func actor(c echo.Context) string {
	return auth.UserIDFromContext(c.Request().Context())
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// bindOptional binds a JSON body when one was sent.
func bindOptional(c echo.Context, v interface{}) error {
	if c.Request().ContentLength == 0 {
		return nil
	}
	if err := c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// -- Submission Handlers --

func (h *Handler) Submit(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in SubmitInput
	if err := bindOptional(c, &in); err != nil {
		return err
	}
	in.TenantID = tenantID(c)
	in.ClaimID = id
	in.Actor = actor(c)
	sub, err := h.svc.Submit(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, sub)
}

func (h *Handler) Poll(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	sub, err := h.svc.PollStatus(c.Request().Context(), tenantID(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sub)
}

func (h *Handler) Resubmit(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in ResubmitInput
	if err := bindOptional(c, &in); err != nil {
		return err
	}
	in.TenantID = tenantID(c)
	in.ClaimID = id
	in.Actor = actor(c)
	sub, err := h.svc.Resubmit(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, sub)
}

func (h *Handler) ListSubmissions(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListSubmissions(c.Request().Context(), tenantID(c), id, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListHistory(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListHistory(c.Request().Context(), tenantID(c), id, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListPayments(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListPayments(c.Request().Context(), tenantID(c), id)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Payment{}
	}
	return c.JSON(http.StatusOK, items)
}

// -- Batch Handlers --

func (h *Handler) SubmitBatch(c echo.Context) error {
	var in BatchInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in.TenantID = tenantID(c)
	in.Actor = actor(c)
	res, err := h.svc.SubmitBatch(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) GetBatch(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.GetBatch(c.Request().Context(), tenantID(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

// -- Remittance Handlers --

// IngestRemittance accepts raw 835 text, or a decoded advice as JSON.
func (h *Handler) IngestRemittance(c echo.Context) error {
	ctx := c.Request().Context()
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		var advice RemittanceAdvice
		if err := c.Bind(&advice); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		out, err := h.svc.ProcessRemittance(ctx, tenantID(c), &advice, actor(c))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusCreated, out)
	}

	raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxRemittanceBody))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(string(raw)) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "empty remittance")
	}
	out, err := h.svc.IngestRemittance(ctx, tenantID(c), string(raw), actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) GetRemittance(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.GetRemittance(c.Request().Context(), tenantID(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

// -- Clearinghouse Handlers --

// clearinghouseRequest accepts the API key, which responses never echo.
type clearinghouseRequest struct {
	ClearinghouseConfig
	APIKey string `json:"api_key"`
}

func bindClearinghouse(c echo.Context) (ClearinghouseConfig, error) {
	var req clearinghouseRequest
	if err := c.Bind(&req); err != nil {
		return ClearinghouseConfig{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cfg := req.ClearinghouseConfig
	cfg.APIKey = req.APIKey
	cfg.TenantID = tenantID(c)
	return cfg, nil
}

func (h *Handler) CreateClearinghouse(c echo.Context) error {
	cfg, err := bindClearinghouse(c)
	if err != nil {
		return err
	}
	if err := h.svc.CreateClearinghouse(c.Request().Context(), &cfg); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, cfg)
}

func (h *Handler) UpdateClearinghouse(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	cfg, err := bindClearinghouse(c)
	if err != nil {
		return err
	}
	cfg.ID = id
	if err := h.svc.UpdateClearinghouse(c.Request().Context(), &cfg); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, cfg)
}

func (h *Handler) GetClearinghouse(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	cfg, err := h.svc.GetClearinghouse(c.Request().Context(), tenantID(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, cfg)
}

func (h *Handler) ListClearinghouses(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListClearinghouses(c.Request().Context(), tenantID(c), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
