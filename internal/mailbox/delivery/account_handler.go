package delivery

import (
	"context"
	"errors"
	"net/http"

	"crmsync-backend/internal/mailbox/domain"
	"crmsync-backend/internal/mailbox/queue"

	"github.com/gin-gonic/gin"
)

type AccountStore interface {
	FindByID(ctx context.Context, id string) (*domain.EmailAccount, error)
}

type SyncQueue interface {
	EnqueueSync(accountID, userID string, p queue.Priority) bool
	EnqueueSend(accountID string, msg *domain.OutboundMessage) string
	Stats() queue.Stats
}

type ConnectionTester interface {
	TestConnection(ctx context.Context, accountID string) (domain.ConnectionResult, error)
}

type ServerConfigurer interface {
	ConfigureServers(ctx context.Context, accountID string, imap, smtp domain.ServerConfig) error
}

// AccountHandler exposes sync, send, server settings and connection checks for the caller's accounts.
type AccountHandler struct {
	accounts AccountStore
	queue    SyncQueue
	tester   ConnectionTester
	servers  ServerConfigurer
}

func NewAccountHandler(accounts AccountStore, q SyncQueue, tester ConnectionTester, servers ServerConfigurer) *AccountHandler {
	return &AccountHandler{accounts: accounts, queue: q, tester: tester, servers: servers}
}

type syncRequest struct {
	Priority string `json:"priority"`
}

// POST /api/accounts/:id/sync
func (h *AccountHandler) Sync(c *gin.Context) {
	account, ok := h.ownedAccount(c)
	if !ok {
		return
	}

	var req syncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	priority, err := queue.ParsePriority(req.Priority)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	added := h.queue.EnqueueSync(account.ID, account.UserID, priority)
	c.JSON(http.StatusAccepted, gin.H{
		"account_id": account.ID,
		"priority":   priority.String(),
		"queued":     added,
	})
}

// POST /api/accounts/:id/send
func (h *AccountHandler) Send(c *gin.Context) {
	account, ok := h.ownedAccount(c)
	if !ok {
		return
	}

	var msg domain.OutboundMessage
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobID := h.queue.EnqueueSend(account.ID, &msg)
	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
}

// POST /api/accounts/:id/test
func (h *AccountHandler) Test(c *gin.Context) {
	account, ok := h.ownedAccount(c)
	if !ok {
		return
	}

	result, err := h.tester.TestConnection(c.Request.Context(), account.ID)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownAccount) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

type serverRequest struct {
	Host     string `json:"host"`
	Port     int    `json:"port" binding:"gte=0,lte=65535"`
	Username string `json:"username"`
	Password string `json:"password"`
	UseTLS   bool   `json:"use_tls"`
}

func (r serverRequest) config() domain.ServerConfig {
	return domain.ServerConfig{Host: r.Host, Port: r.Port, Username: r.Username, Password: r.Password, UseTLS: r.UseTLS}
}

type serversRequest struct {
	IMAP serverRequest `json:"imap"`
	SMTP serverRequest `json:"smtp"`
}

// PUT /api/accounts/:id/servers
func (h *AccountHandler) Servers(c *gin.Context) {
	account, ok := h.ownedAccount(c)
	if !ok {
		return
	}
	if account.Provider != domain.ProviderIMAP {
		c.JSON(http.StatusBadRequest, gin.H{"error": "server settings apply to imap accounts only"})
		return
	}

	var req serversRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.IMAP.Host == "" || req.SMTP.Host == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "imap and smtp hosts are required"})
		return
	}

	if err := h.servers.ConfigureServers(c.Request.Context(), account.ID, req.IMAP.config(), req.SMTP.config()); err != nil {
		if errors.Is(err, domain.ErrUnknownAccount) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save server settings"})
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/queue/stats
func (h *AccountHandler) QueueStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.queue.Stats())
}

// ownedAccount loads :id and writes a 404 unless it belongs to the caller.
func (h *AccountHandler) ownedAccount(c *gin.Context) (*domain.EmailAccount, bool) {
	account, err := h.accounts.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load account"})
		return nil, false
	}
	if account == nil || account.UserID != c.GetString("userID") {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return nil, false
	}
	return account, true
}
