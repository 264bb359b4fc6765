package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/betbot/unitrade/internal/domain"
	"github.com/betbot/unitrade/internal/vault"
	"github.com/betbot/unitrade/pkg/logger"
)

func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(HeaderAdminToken)
		if s.cfg.AdminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, errorBody{Error: &domain.Error{Kind: "Forbidden", Message: "admin token required"}})
			return
		}
		c.Next()
	}
}

func (s *Server) handleEncryptPreview(c *gin.Context) {
	var in struct {
		PlainText string `json:"plainText"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid body")
		return
	}
	ct, err := s.cfg.Vault.Encrypt(in.PlainText)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cipherText": ct, "algorithm": vault.Algorithm})
}

func (s *Server) handleDecryptPreview(c *gin.Context) {
	var in struct {
		CipherText string `json:"cipherText"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid body")
		return
	}
	pt, err := s.cfg.Vault.Decrypt(in.CipherText)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plainText": pt})
}

// pathTarget 解析 :accountID / :exchange
func pathTarget(c *gin.Context) (string, domain.Exchange, bool) {
	accountID := strings.TrimSpace(c.Param("accountID"))
	if accountID == "" {
		badRequest(c, "account id is required")
		return "", "", false
	}
	ex, ok := domain.ParseExchange(c.Param("exchange"))
	if !ok {
		writeError(c, domain.RoutingError(domain.CodeUnknownExchange, "unknown exchange "+c.Param("exchange")))
		return "", "", false
	}
	return accountID, ex, true
}

func (s *Server) handlePutCredential(c *gin.Context) {
	accountID, ex, ok := pathTarget(c)
	if !ok {
		return
	}
	var in struct {
		APIKey     string `json:"apiKey"`
		APISecret  string `json:"apiSecret"`
		Passphrase string `json:"passphrase"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid credential body")
		return
	}
	if (ex == domain.ExchangeBitget || ex == domain.ExchangeBlofin) && in.Passphrase == "" {
		badRequest(c, "passphrase is required for "+string(ex))
		return
	}
	cred := vault.Credential{APIKey: []byte(in.APIKey), APISecret: []byte(in.APISecret), Passphrase: []byte(in.Passphrase)}
	enc, err := s.cfg.Vault.Seal(cred)
	cred.Wipe()
	if err != nil {
		writeError(c, err)
		return
	}

	ctx, cancel := s.timeout(c)
	defer cancel()
	if err := s.cfg.Credentials.Put(ctx, accountID, ex, enc); err != nil {
		writeError(c, err)
		return
	}
	logger.WithField("account", accountID).WithField("exchange", ex).Info("credential stored")
	c.JSON(http.StatusOK, gin.H{"exchange": ex, "algorithm": enc.Algorithm, "createdAt": enc.CreatedAt})
}

func (s *Server) handleDeleteCredential(c *gin.Context) {
	accountID, ex, ok := pathTarget(c)
	if !ok {
		return
	}
	ctx, cancel := s.timeout(c)
	defer cancel()
	if err := s.cfg.Credentials.Delete(ctx, accountID, ex); err != nil {
		writeError(c, err)
		return
	}
	logger.WithField("account", accountID).WithField("exchange", ex).Info("credential deleted")
	c.Status(http.StatusNoContent)
}

func (s *Server) handlePostBalance(c *gin.Context) {
	accountID := strings.TrimSpace(c.Param("accountID"))
	var in struct {
		Exchange     domain.Exchange `json:"exchange"`
		AvailableUSD *float64        `json:"availableUsd"`
		Source       string          `json:"source"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid balance body")
		return
	}
	ex, ok := domain.ParseExchange(string(in.Exchange))
	if !ok {
		writeError(c, domain.RoutingError(domain.CodeUnknownExchange, "unknown exchange "+string(in.Exchange)))
		return
	}
	if in.AvailableUSD == nil || *in.AvailableUSD < 0 {
		badRequest(c, "availableUsd must be a non-negative number")
		return
	}
	ctx, cancel := s.timeout(c)
	defer cancel()
	if err := s.cfg.Balances.InsertBalance(ctx, accountID, ex, *in.AvailableUSD, in.Source); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"accountId": accountID, "exchange": ex, "availableUsd": *in.AvailableUSD})
}
