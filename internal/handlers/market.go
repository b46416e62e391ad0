package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"task-market/internal/middleware"
	"task-market/internal/models"
	"task-market/internal/services"

	"github.com/gin-gonic/gin"
)

type MarketHandler struct {
	market services.MarketService
}

func NewMarketHandler(market services.MarketService) *MarketHandler {
	return &MarketHandler{market: market}
}

type CreateTaskRequest struct {
	TaskID *models.TaskID  `json:"task_id" binding:"required"`
	Stake  *models.Balance `json:"stake" binding:"required"`
	Detail []byte          `json:"detail"`
}

type UpdateStatusRequest struct {
	Status *int `json:"status" binding:"required"`
}

type BidRequest struct {
	Stake *models.Balance `json:"stake" binding:"required"`
}

type DelegateRequest struct {
	Bidder models.AccountID `json:"bidder" binding:"required"`
}

type TaskListResponse struct {
	Tasks    []models.Task `json:"tasks"`
	Total    uint64        `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

// Register mounts the market routes on an authenticated group.
func (h *MarketHandler) Register(rg *gin.RouterGroup) {
	tasks := rg.Group("/tasks")
	tasks.POST("", h.CreateTask)
	tasks.GET("", h.ListTasks)
	tasks.GET("/count", h.TaskCount)
	tasks.GET("/:id", h.GetTask)
	tasks.DELETE("/:id", h.RevokeTask)
	tasks.PATCH("/:id/status", h.UpdateTaskStatus)
	tasks.GET("/:id/status", h.GetStatus)
	tasks.GET("/:id/stake", h.GetCreatorStake)
	tasks.POST("/:id/bids", h.BidTask)
	tasks.GET("/:id/bids/:bidder", h.GetBidStake)
	tasks.GET("/:id/bidders", h.Bidders)
	tasks.POST("/:id/delegate", h.DelegateTask)
	tasks.GET("/:id/receiver", h.Receiver)

	rg.GET("/accounts", h.Accounts)
	rg.GET("/accounts/:account/tasks", h.AccountTasks)
	rg.GET("/accounts/:account/balance", h.Balance)
	rg.GET("/events", h.Events)
}

func caller(c *gin.Context) (models.AccountID, bool) {
	account, ok := middleware.Caller(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "account not authenticated"})
	}
	return account, ok
}

func taskID(c *gin.Context) (models.TaskID, bool) {
	id, err := models.ParseU128(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_task_id",
			"message": "task id must be an unsigned 128-bit integer",
		})
		return models.TaskID{}, false
	}
	return id, true
}

func (h *MarketHandler) CreateTask(c *gin.Context) {
	account, ok := caller(c)
	if !ok {
		return
	}

	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	event, err := h.market.CreateTask(c.Request.Context(), account, *req.TaskID, *req.Stake, req.Detail)
	if err != nil {
		handleMarketError(c, err)
		return
	}
	c.JSON(http.StatusCreated, event)
}

func (h *MarketHandler) UpdateTaskStatus(c *gin.Context) {
	account, ok := caller(c)
	if !ok {
		return
	}
	id, ok := taskID(c)
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if *req.Status < 0 || *req.Status > 255 {
		handleMarketError(c, models.ErrInvalidStatus.With("unknown status code "+strconv.Itoa(*req.Status)))
		return
	}

	event, err := h.market.UpdateTaskStatus(c.Request.Context(), account, id, uint8(*req.Status))
	if err != nil {
		handleMarketError(c, err)
		return
	}
	c.JSON(http.StatusOK, event)
}

func (h *MarketHandler) BidTask(c *gin.Context) {
	account, ok := caller(c)
	if !ok {
		return
	}
	id, ok := taskID(c)
	if !ok {
		return
	}

	var req BidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	event, err := h.market.BidTask(c.Request.Context(), account, id, *req.Stake)
	if err != nil {
		handleMarketError(c, err)
		return
	}
	c.JSON(http.StatusCreated, event)
}

func (h *MarketHandler) DelegateTask(c *gin.Context) {
	account, ok := caller(c)
	if !ok {
		return
	}
	id, ok := taskID(c)
	if !ok {
		return
	}

	var req DelegateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	event, err := h.market.DelegateTask(c.Request.Context(), account, req.Bidder, id)
	if err != nil {
		handleMarketError(c, err)
		return
	}
	c.JSON(http.StatusOK, event)
}

func (h *MarketHandler) RevokeTask(c *gin.Context) {
	account, ok := caller(c)
	if !ok {
		return
	}
	id, ok := taskID(c)
	if !ok {
		return
	}

	event, err := h.market.RevokeTask(c.Request.Context(), account, id)
	if err != nil {
		handleMarketError(c, err)
		return
	}
	c.JSON(http.StatusOK, event)
}

func (h *MarketHandler) ListTasks(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil {
		badRequest(c, err)
		return
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("pageSize", "20"))
	if err != nil {
		badRequest(c, err)
		return
	}

	page, pageSize = services.NormalizePage(page, pageSize)

	tasks, total, err := h.market.ListTasks(c.Request.Context(), page, pageSize)
	if err != nil {
		handleMarketError(c, err)
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	c.JSON(http.StatusOK, TaskListResponse{Tasks: tasks, Total: total, Page: page, PageSize: pageSize})
}

func (h *MarketHandler) TaskCount(c *gin.Context) {
	count, err := h.market.TaskCount(c.Request.Context())
	if err != nil {
		handleMarketError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (h *MarketHandler) GetTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	view, err := h.market.GetTask(c.Request.Context(), id)
	if err != nil {
		handleMarketError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *MarketHandler) GetStatus(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	status, err := h.market.GetStatus(c.Request.Context(), id)
	if err != nil {
		handleMarketError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": id, "status": status, "name": status.String()})
}

func (h *MarketHandler) GetCreatorStake(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	stake, err := h.market.GetCreatorStake(c.Request.Context(), id)
	if err != nil {
		handleMarketError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": id, "stake": stake})
}

func (h *MarketHandler) GetBidStake(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	bidder := models.AccountID(c.Param("bidder"))
	stake, err := h.market.GetBidStake(c.Request.Context(), id, bidder)
	if err != nil {
		handleMarketError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": id, "bidder": bidder, "stake": stake})
}

func (h *MarketHandler) Bidders(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	bidders, err := h.market.Bidders(c.Request.Context(), id)
	if err != nil {
		handleMarketError(c, err)
		return
	}
	if bidders == nil {
		bidders = []models.AccountID{}
	}
	c.JSON(http.StatusOK, gin.H{"task_id": id, "bidders": bidders})
}

func (h *MarketHandler) Receiver(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	receiver, err := h.market.Receiver(c.Request.Context(), id)
	if err != nil {
		handleMarketError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": id, "receiver": receiver})
}

func (h *MarketHandler) Accounts(c *gin.Context) {
	accounts, err := h.market.Accounts(c.Request.Context())
	if err != nil {
		handleMarketError(c, err)
		return
	}
	if accounts == nil {
		accounts = []models.AccountID{}
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

func (h *MarketHandler) AccountTasks(c *gin.Context) {
	account := models.AccountID(c.Param("account"))
	kind := models.TaskSetKind(c.DefaultQuery("kind", string(models.TaskSetCreated)))
	if !kind.Valid() {
		badRequest(c, errors.New("kind must be one of created, bid, received"))
		return
	}

	ids, err := h.market.AccountTasks(c.Request.Context(), account, kind)
	if err != nil {
		handleMarketError(c, err)
		return
	}
	if ids == nil {
		ids = []models.TaskID{}
	}
	c.JSON(http.StatusOK, gin.H{"account": account, "kind": kind, "tasks": ids})
}

func (h *MarketHandler) Balance(c *gin.Context) {
	balance, err := h.market.Balance(c.Request.Context(), models.AccountID(c.Param("account")))
	if err != nil {
		handleMarketError(c, err)
		return
	}
	c.JSON(http.StatusOK, balance)
}

func (h *MarketHandler) Events(c *gin.Context) {
	since, err := strconv.ParseUint(c.DefaultQuery("since", "0"), 10, 64)
	if err != nil {
		badRequest(c, err)
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil {
		badRequest(c, err)
		return
	}

	events, err := h.market.Events(c.Request.Context(), since, limit)
	if err != nil {
		handleMarketError(c, err)
		return
	}
	if events == nil {
		events = []models.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
