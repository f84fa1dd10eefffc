package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"talentgrid-controlplane/pkg/errutil"
	"talentgrid-controlplane/pkg/health"
	"talentgrid-controlplane/pkg/middleware"
	"talentgrid-controlplane/services/allocation"
	"talentgrid-controlplane/services/audit"
	"talentgrid-controlplane/services/consultant"
	"talentgrid-controlplane/services/licensee"
	"talentgrid-controlplane/services/settlement"
	"talentgrid-controlplane/services/territory"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi.module",
	fx.Provide(NewHandler, ProvideRouter),
)

type Handler struct {
	territories *territory.Service
	licensees   *licensee.Service
	consultants *consultant.Service
	allocations *allocation.Service
	settlements *settlement.Service
	audits      *audit.Service
}

type HandlerParams struct {
	fx.In
	Territories *territory.Service
	Licensees   *licensee.Service
	Consultants *consultant.Service
	Allocations *allocation.Service
	Settlements *settlement.Service
	Audits      *audit.Service
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		territories: p.Territories,
		licensees:   p.Licensees,
		consultants: p.Consultants,
		allocations: p.Allocations,
		settlements: p.Settlements,
		audits:      p.Audits,
	}
}

// ProvideRouter builds the admin HTTP surface. Every route delegates to a
// service method; errors surface through the error middleware.
func ProvideRouter(h *Handler, hc health.HealthService) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Error())

	r.GET("/healthz", hc.Liveness)
	r.GET("/readyz", hc.Readiness)

	v1 := r.Group("/v1")
	{
		v1.POST("/territories", h.createTerritory)
		v1.GET("/territories", h.listTerritories)
		v1.GET("/territories/:id", h.getTerritory)
		v1.POST("/territories/:id/assign", h.assignTerritory)
		v1.GET("/territories/:id/consultants", h.listEligibleConsultants)

		v1.POST("/licensees", h.createLicensee)
		v1.GET("/licensees", h.listLicensees)
		v1.GET("/licensees/:id", h.getLicensee)
		v1.GET("/licensees/:id/impact", h.licenseeImpact)
		v1.POST("/licensees/:id/suspend", h.suspendLicensee)
		v1.POST("/licensees/:id/reactivate", h.reactivateLicensee)
		v1.POST("/licensees/:id/terminate", h.terminateLicensee)

		v1.POST("/consultants", h.createConsultant)
		v1.GET("/consultants/:id", h.getConsultant)
		v1.PUT("/consultants/:id/availability", h.setConsultantAvailability)
		v1.POST("/consultants/:id/reassign", h.reassignConsultantJobs)

		v1.POST("/jobs", h.createJob)
		v1.GET("/jobs/:id", h.getJob)
		v1.POST("/jobs/:id/assign", h.assignJob)
		v1.POST("/jobs/:id/auto-assign", h.autoAssignJob)
		v1.POST("/jobs/:id/unassign", h.unassignJob)

		v1.POST("/revenue-records", h.recordRevenue)
		v1.POST("/settlements/generate", h.generateSettlement)
		v1.POST("/settlements/generate-all", h.generateAllSettlements)
		v1.POST("/settlements/:id/pay", h.markSettlementPaid)
		v1.GET("/settlements/stats", h.settlementStats)

		v1.GET("/audit", h.listAudit)
	}

	return r
}

func actor(c *gin.Context) string {
	if v := c.GetHeader("X-Actor"); v != "" {
		return v
	}
	return "operator"
}

func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return false
	}
	return true
}

func respond[T any](c *gin.Context, status int, v T, err error) {
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(status, v)
}

// --- territories ---

func (h *Handler) createTerritory(c *gin.Context) {
	var body struct {
		Name       string `json:"name"`
		Code       string `json:"code"`
		LicenseeID string `json:"licensee_id"`
	}
	if !bind(c, &body) {
		return
	}
	t, err := h.territories.Create(c.Request.Context(), territory.CreateRequest{
		Name:       body.Name,
		Code:       body.Code,
		LicenseeID: body.LicenseeID,
		Actor:      actor(c),
	})
	respond(c, http.StatusCreated, t, err)
}

func (h *Handler) listTerritories(c *gin.Context) {
	ts, err := h.territories.List(c.Request.Context(), territory.ListRequest{
		OwnerType:  territory.OwnerType(c.Query("owner_type")),
		LicenseeID: c.Query("licensee_id"),
	})
	respond(c, http.StatusOK, ts, err)
}

func (h *Handler) getTerritory(c *gin.Context) {
	t, err := h.territories.Get(c.Request.Context(), c.Param("id"))
	respond(c, http.StatusOK, t, err)
}

func (h *Handler) assignTerritory(c *gin.Context) {
	var body struct {
		LicenseeID string `json:"licensee_id"`
	}
	if !bind(c, &body) {
		return
	}
	t, err := h.territories.AssignToLicensee(c.Request.Context(), c.Param("id"), body.LicenseeID, actor(c))
	respond(c, http.StatusOK, t, err)
}

func (h *Handler) listEligibleConsultants(c *gin.Context) {
	cs, err := h.consultants.ListEligible(c.Request.Context(), c.Param("id"), consultant.Filter{
		Role:         c.Query("role"),
		Availability: consultant.Availability(c.Query("availability")),
		Industry:     c.Query("industry"),
		Language:     c.Query("language"),
		Search:       c.Query("search"),
	})
	respond(c, http.StatusOK, cs, err)
}

// --- licensees ---

func (h *Handler) createLicensee(c *gin.Context) {
	var body struct {
		CompanyName     string          `json:"company_name"`
		LegalName       string          `json:"legal_name"`
		ContactName     string          `json:"contact_name"`
		ContactEmail    string          `json:"contact_email"`
		ContactPhone    string          `json:"contact_phone"`
		RevenueSharePct decimal.Decimal `json:"revenue_share_pct"`
	}
	if !bind(c, &body) {
		return
	}
	lic, err := h.licensees.Create(c.Request.Context(), licensee.CreateRequest{
		CompanyName:     body.CompanyName,
		LegalName:       body.LegalName,
		ContactName:     body.ContactName,
		ContactEmail:    body.ContactEmail,
		ContactPhone:    body.ContactPhone,
		RevenueSharePct: body.RevenueSharePct,
		Actor:           actor(c),
	})
	respond(c, http.StatusCreated, lic, err)
}

func (h *Handler) listLicensees(c *gin.Context) {
	ls, err := h.licensees.List(c.Request.Context(), licensee.ListRequest{
		Status: licensee.Status(c.Query("status")),
	})
	respond(c, http.StatusOK, ls, err)
}

func (h *Handler) getLicensee(c *gin.Context) {
	lic, err := h.licensees.Get(c.Request.Context(), c.Param("id"))
	respond(c, http.StatusOK, lic, err)
}

func (h *Handler) licenseeImpact(c *gin.Context) {
	preview, err := h.licensees.GetImpactPreview(c.Request.Context(), c.Param("id"))
	respond(c, http.StatusOK, preview, err)
}

func (h *Handler) lifecycleRequest(c *gin.Context) (licensee.LifecycleRequest, bool) {
	var body struct {
		Notes string `json:"notes"`
	}
	// Body is optional on lifecycle calls.
	_ = c.ShouldBindJSON(&body)
	return licensee.LifecycleRequest{
		LicenseeID: c.Param("id"),
		Actor:      actor(c),
		Notes:      body.Notes,
	}, true
}

func (h *Handler) suspendLicensee(c *gin.Context) {
	req, _ := h.lifecycleRequest(c)
	report, err := h.licensees.Suspend(c.Request.Context(), req)
	respond(c, http.StatusOK, report, err)
}

func (h *Handler) reactivateLicensee(c *gin.Context) {
	req, _ := h.lifecycleRequest(c)
	report, err := h.licensees.Reactivate(c.Request.Context(), req)
	respond(c, http.StatusOK, report, err)
}

func (h *Handler) terminateLicensee(c *gin.Context) {
	req, _ := h.lifecycleRequest(c)
	report, err := h.licensees.Terminate(c.Request.Context(), req)
	respond(c, http.StatusOK, report, err)
}

// --- consultants ---

func (h *Handler) createConsultant(c *gin.Context) {
	var body struct {
		TerritoryID  string `json:"territory_id"`
		Name         string `json:"name"`
		Email        string `json:"email"`
		Role         string `json:"role"`
		MaxJobs      int    `json:"max_jobs"`
		MaxEmployers int    `json:"max_employers"`
	}
	if !bind(c, &body) {
		return
	}
	con, err := h.consultants.Create(c.Request.Context(), consultant.CreateRequest{
		TerritoryID:  body.TerritoryID,
		Name:         body.Name,
		Email:        body.Email,
		Role:         body.Role,
		MaxJobs:      body.MaxJobs,
		MaxEmployers: body.MaxEmployers,
		Actor:        actor(c),
	})
	respond(c, http.StatusCreated, con, err)
}

func (h *Handler) getConsultant(c *gin.Context) {
	con, err := h.consultants.Get(c.Request.Context(), c.Param("id"))
	respond(c, http.StatusOK, con, err)
}

func (h *Handler) setConsultantAvailability(c *gin.Context) {
	var body struct {
		Availability string `json:"availability"`
	}
	if !bind(c, &body) {
		return
	}
	con, err := h.consultants.SetAvailability(c.Request.Context(), consultant.SetAvailabilityRequest{
		ConsultantID: c.Param("id"),
		Availability: consultant.Availability(body.Availability),
		Actor:        actor(c),
	})
	respond(c, http.StatusOK, con, err)
}

func (h *Handler) reassignConsultantJobs(c *gin.Context) {
	var body struct {
		ToConsultantID string `json:"to_consultant_id"`
	}
	if !bind(c, &body) {
		return
	}
	moved, err := h.allocations.ReassignConsultantJobs(c.Request.Context(), c.Param("id"), body.ToConsultantID, actor(c))
	respond(c, http.StatusOK, gin.H{"jobs_moved": moved}, err)
}

// --- jobs ---

func (h *Handler) createJob(c *gin.Context) {
	var body struct {
		Title       string `json:"title"`
		TerritoryID string `json:"territory_id"`
	}
	if !bind(c, &body) {
		return
	}
	job, err := h.allocations.CreateJob(c.Request.Context(), allocation.CreateJobRequest{
		Title:       body.Title,
		TerritoryID: body.TerritoryID,
		Actor:       actor(c),
	})
	respond(c, http.StatusCreated, job, err)
}

func (h *Handler) getJob(c *gin.Context) {
	job, err := h.allocations.GetJob(c.Request.Context(), c.Param("id"))
	respond(c, http.StatusOK, job, err)
}

func (h *Handler) assignJob(c *gin.Context) {
	var body struct {
		ConsultantID string `json:"consultant_id"`
		TerritoryID  string `json:"territory_id"`
		Source       string `json:"source"`
	}
	if !bind(c, &body) {
		return
	}

	if body.ConsultantID != "" {
		source, err := allocation.ParseManualSource(body.Source)
		if err != nil {
			_ = c.Error(err)
			return
		}
		job, err := h.allocations.AssignToConsultant(c.Request.Context(), allocation.AssignRequest{
			JobID:        c.Param("id"),
			ConsultantID: body.ConsultantID,
			Actor:        actor(c),
			Source:       source,
		})
		respond(c, http.StatusOK, job, err)
		return
	}
	if body.TerritoryID != "" {
		consultantID, err := h.allocations.AssignToTerritory(c.Request.Context(), c.Param("id"), body.TerritoryID, actor(c))
		respond(c, http.StatusOK, gin.H{"consultant_id": consultantID}, err)
		return
	}
	_ = c.Error(errutil.BadRequest("consultant_id or territory_id is required"))
}

func (h *Handler) autoAssignJob(c *gin.Context) {
	consultantID, err := h.allocations.AutoAssign(c.Request.Context(), c.Param("id"), actor(c))
	respond(c, http.StatusOK, gin.H{"consultant_id": consultantID}, err)
}

func (h *Handler) unassignJob(c *gin.Context) {
	err := h.allocations.Unassign(c.Request.Context(), c.Param("id"), actor(c))
	respond(c, http.StatusOK, gin.H{"status": "unassigned"}, err)
}

// --- settlement ---

func (h *Handler) recordRevenue(c *gin.Context) {
	var body struct {
		TerritoryID  string          `json:"territory_id"`
		LicenseeID   string          `json:"licensee_id"`
		PeriodStart  time.Time       `json:"period_start"`
		PeriodEnd    time.Time       `json:"period_end"`
		TotalRevenue decimal.Decimal `json:"total_revenue"`
		SharePct     decimal.Decimal `json:"share_pct"`
	}
	if !bind(c, &body) {
		return
	}
	rec, err := h.settlements.RecordRevenue(c.Request.Context(), settlement.RecordRevenueRequest{
		TerritoryID:  body.TerritoryID,
		LicenseeID:   body.LicenseeID,
		PeriodStart:  body.PeriodStart,
		PeriodEnd:    body.PeriodEnd,
		TotalRevenue: body.TotalRevenue,
		SharePct:     body.SharePct,
		Actor:        actor(c),
	})
	respond(c, http.StatusCreated, rec, err)
}

func (h *Handler) generateSettlement(c *gin.Context) {
	var body struct {
		LicenseeID string    `json:"licensee_id"`
		PeriodEnd  time.Time `json:"period_end"`
	}
	if !bind(c, &body) {
		return
	}
	if body.PeriodEnd.IsZero() {
		body.PeriodEnd = time.Now()
	}
	result, err := h.settlements.GenerateSettlement(c.Request.Context(), body.LicenseeID, body.PeriodEnd, actor(c))
	respond(c, http.StatusCreated, result, err)
}

func (h *Handler) generateAllSettlements(c *gin.Context) {
	var body struct {
		PeriodEnd time.Time `json:"period_end"`
	}
	_ = c.ShouldBindJSON(&body)
	if body.PeriodEnd.IsZero() {
		body.PeriodEnd = time.Now()
	}
	items, err := h.settlements.GenerateAllPendingSettlements(c.Request.Context(), body.PeriodEnd, actor(c))
	respond(c, http.StatusOK, items, err)
}

func (h *Handler) markSettlementPaid(c *gin.Context) {
	var body struct {
		PaymentReference string `json:"payment_reference"`
	}
	if !bind(c, &body) {
		return
	}
	stl, err := h.settlements.MarkSettlementPaid(c.Request.Context(), c.Param("id"), body.PaymentReference, actor(c))
	respond(c, http.StatusOK, stl, err)
}

func (h *Handler) settlementStats(c *gin.Context) {
	stats, err := h.settlements.GetSettlementStats(c.Request.Context())
	respond(c, http.StatusOK, stats, err)
}

// --- audit ---

func (h *Handler) listAudit(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	entries, err := h.audits.List(c.Request.Context(), audit.ListRequest{
		EntityType: c.Query("entity_type"),
		EntityID:   c.Query("entity_id"),
		Limit:      limit,
	})
	respond(c, http.StatusOK, entries, err)
}
