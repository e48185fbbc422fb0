package handler

import (
	"errors"
	"net/http"
	"strconv"

	"novelpay/internal/config"
	"novelpay/internal/gateway"
	"novelpay/internal/model"
	"novelpay/internal/repository"
	"novelpay/internal/service"
	"novelpay/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	accountService  *service.AccountService
	topupService    *service.TopupService
	confirmService  *service.ConfirmService
	purchaseService *service.PurchaseService
	stripeGw        *gateway.StripeGateway
}

// NewHandler 创建处理器实例
// 网关实例允许为 nil（对应渠道未配置），相关接口返回网关不可用
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config,
	vnpayGw *gateway.VNPayGateway, stripeGw *gateway.StripeGateway) *Handler {
	var stripeVerifier gateway.SessionVerifier
	if stripeGw != nil {
		stripeVerifier = stripeGw
	}
	return &Handler{
		accountService:  service.NewAccountService(db),
		topupService:    service.NewTopupService(db, cfg, vnpayGw, stripeGw),
		confirmService:  service.NewConfirmService(db, rdb, cfg, vnpayGw, stripeVerifier),
		purchaseService: service.NewPurchaseService(db, rdb, cfg),
		stripeGw:        stripeGw,
	}
}

// ============================================================
// 充值相关接口
// ============================================================

// CreatePaymentRequest 充值下单请求
type CreatePaymentRequest struct {
	UserID   int64  `json:"user_id" binding:"required"`
	Coins    int64  `json:"coins" binding:"required,gt=0"`   // 充值硬币数，须为10的整数倍
	Provider string `json:"provider" binding:"required"`     // STRIPE / VNPAY
}

// CreatePayment 充值下单，返回网关跳转地址
// POST /api/v1/payments/create
func (h *Handler) CreatePayment(c *gin.Context) {
	var req CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.topupService.CreateTopup(c.Request.Context(), &service.CreateTopupRequest{
		UserID:   req.UserID,
		Coins:    req.Coins,
		Provider: req.Provider,
	}, c.ClientIP())
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	response.Success(c, result)
}

// ConfirmPaymentRequest 充值确认请求
type ConfirmPaymentRequest struct {
	Provider  string            `json:"provider" binding:"required"`
	TxnNo     string            `json:"txn_no" binding:"required"`
	SessionID string            `json:"session_id"`
	VnpParams map[string]string `json:"vnp_params"`
}

// ConfirmPayment 充值确认
// POST /api/v1/payments/confirm
//
// 【关键点】确认是幂等的：终态交易的重复确认返回已有结果，不再加币。
// 验签失败按失败交易落账，响应里带状态而不是报错
func (h *Handler) ConfirmPayment(c *gin.Context) {
	var req ConfirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.confirmService.Confirm(c.Request.Context(), &service.ConfirmRequest{
		Provider:  req.Provider,
		TxnNo:     req.TxnNo,
		SessionID: req.SessionID,
		VnpParams: req.VnpParams,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	response.Success(c, result)
}

// VNPayReturn VNPAY 浏览器回跳入口
// GET /api/v1/payments/vnpay/return?vnp_TxnRef=...&vnp_SecureHash=...
// 回跳参数原样交给确认编排，和 POST 确认走同一条幂等路径
func (h *Handler) VNPayReturn(c *gin.Context) {
	params := make(map[string]string)
	for k, vs := range c.Request.URL.Query() {
		if len(vs) > 0 {
			params[k] = vs[0]
		}
	}

	txnNo := params["vnp_TxnRef"]
	if txnNo == "" {
		response.ParamError(c, "vnp_TxnRef 参数不能为空")
		return
	}

	result, err := h.confirmService.Confirm(c.Request.Context(), &service.ConfirmRequest{
		Provider:  model.ProviderVNPay,
		TxnNo:     txnNo,
		VnpParams: params,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	response.Success(c, result)
}

// StripeWebhook Stripe 回调入口
// POST /api/v1/payments/webhook/stripe
// 验签失败回 400；与充值无关的事件直接回 200；处理失败回 500 让 Stripe 重投
func (h *Handler) StripeWebhook(c *gin.Context) {
	if h.stripeGw == nil {
		c.Status(http.StatusInternalServerError)
		return
	}

	payload, err := c.GetRawData()
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	result, err := h.stripeGw.VerifyWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	if result == nil || result.TxnRef == "" {
		c.Status(http.StatusOK)
		return
	}

	if _, err := h.confirmService.ConfirmFromWebhook(c.Request.Context(), result); err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			// 不属于本系统的会话，应答 200 终止重投
			c.Status(http.StatusOK)
			return
		}
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Status(http.StatusOK)
}

// ListPayments 查询用户流水列表
// GET /api/v1/payments/list?user_id=xxx&page=1&page_size=10
func (h *Handler) ListPayments(c *gin.Context) {
	userIDStr := c.Query("user_id")
	userID, err := strconv.ParseInt(userIDStr, 10, 64)
	if err != nil {
		response.ParamError(c, "user_id 参数错误")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	txns, total, err := h.accountService.ListTransactions(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"list":      txns,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 章节购买接口
// ============================================================

// PurchaseChapterRequest 购买章节请求
type PurchaseChapterRequest struct {
	UserID int64 `json:"user_id" binding:"required"`
}

// PurchaseChapter 购买章节
// POST /api/v1/chapters/:chapter_id/purchase
//
// 【关键点】购买按 (用户, 章节) 幂等：重复请求不会二次扣币
func (h *Handler) PurchaseChapter(c *gin.Context) {
	chapterID, err := strconv.ParseInt(c.Param("chapter_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "chapter_id 参数错误")
		return
	}

	var req PurchaseChapterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.purchaseService.Purchase(c.Request.Context(), req.UserID, chapterID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	response.Success(c, result)
}

// ============================================================
// 账户接口
// ============================================================

// GetBalance 查询用户硬币余额
// GET /api/v1/account/balance?user_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	userIDStr := c.Query("user_id")
	userID, err := strconv.ParseInt(userIDStr, 10, 64)
	if err != nil {
		response.ParamError(c, "user_id 参数错误")
		return
	}

	account, err := h.accountService.GetAccount(c.Request.Context(), userID)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"user_id": account.UserID,
		"coins":   account.Coins,
	})
}

// writeServiceError 业务错误到响应码的统一映射
func (h *Handler) writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrTransactionNotFound):
		response.BusinessError(c, response.CodeTransactionNotFound, err.Error())
	case errors.Is(err, repository.ErrChapterNotFound), errors.Is(err, repository.ErrNovelNotFound):
		response.BusinessError(c, response.CodeChapterNotFound, err.Error())
	case errors.Is(err, service.ErrInsufficientBalance):
		response.BusinessError(c, response.CodeBalanceNotEnough, err.Error())
	case errors.Is(err, service.ErrAlreadyOwned):
		response.BusinessError(c, response.CodeAlreadyOwned, err.Error())
	case errors.Is(err, service.ErrChapterNotLocked):
		response.BusinessError(c, response.CodeChapterNotLocked, err.Error())
	case errors.Is(err, service.ErrSelfPurchase):
		response.BusinessError(c, response.CodeSelfPurchase, err.Error())
	case errors.Is(err, service.ErrInvalidCoins), errors.Is(err, service.ErrUnsupportedProvider),
		errors.Is(err, gateway.ErrInvalidParam):
		response.ParamError(c, err.Error())
	case errors.Is(err, gateway.ErrConfigMissing):
		response.BusinessError(c, response.CodeGatewayUnavailable, "支付渠道未配置")
	default:
		response.ServerError(c, err.Error())
	}
}
