// Package api exposes the wallet engine over HTTP for the UI: projected
// account lists, pending entries, fee estimates and a WebSocket channel
// pushing refresh results.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/rollupwallet/wallet-daemon/coordinator"
	"github.com/rollupwallet/wallet-daemon/daemon"
	"github.com/rollupwallet/wallet-daemon/fees"
	"github.com/rollupwallet/wallet-daemon/metrics"
	"github.com/rollupwallet/wallet-daemon/refresher"
	"github.com/rollupwallet/wallet-daemon/types"
)

// Start launches the GIN API server with WebSocket support. It blocks until
// the server fails.
func Start(port string, d *daemon.Daemon, log *logrus.Logger) error {
	gin.SetMode(gin.ReleaseMode) // No debug noise

	wsManager := NewWebSocketManager(log)
	go wsManager.Run()

	d.SetUpdateHook(func(address string, task refresher.Task) {
		wsManager.BroadcastUpdate(address, task)
	})

	server := gin.New()
	server.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("[API] %s - %s %s %d\n",
				param.TimeStamp.Format("2006-01-02 15:04:05"),
				param.Method,
				param.Path,
				param.StatusCode,
			)
		},
	}))
	server.Use(gin.Recovery())

	server.GET("/addresses", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"addresses": d.Addresses()})
	})
	server.GET("/accounts/:address", func(c *gin.Context) {
		handleAccounts(c, d)
	})
	server.GET("/accounts/:address/:accountIndex", func(c *gin.Context) {
		handleAccount(c, d)
	})
	server.GET("/balance/:address/total", func(c *gin.Context) {
		handleTotalBalance(c, d)
	})
	server.POST("/refresh/:address", func(c *gin.Context) {
		handleRefresh(c, d)
	})
	server.POST("/accounts/:address/page", func(c *gin.Context) {
		handleFetchPage(c, d)
	})
	server.GET("/transactions/:address", func(c *gin.Context) {
		handleTransactions(c, d)
	})
	server.GET("/pending/:address", func(c *gin.Context) {
		handlePending(c, d)
	})
	server.POST("/pending/:address/deposits", func(c *gin.Context) {
		handleRegisterDeposit(c, d, log)
	})
	server.DELETE("/pending/:address/deposits/:hash", func(c *gin.Context) {
		handleRemoveDeposit(c, d)
	})
	server.POST("/pending/:address/withdraws", func(c *gin.Context) {
		handleRegisterWithdraw(c, d, log)
	})
	server.POST("/fees/estimate", func(c *gin.Context) {
		handleFeeEstimate(c, d, log)
	})
	server.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))
	server.GET("/ws", func(c *gin.Context) {
		handleWebSocket(c, wsManager)
	})

	log.Infof("Starting API server on %s", port)
	return server.Run(port)
}

func handleAccounts(c *gin.Context, d *daemon.Daemon) {
	task, ok := d.Task(c.Param("address"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown address"})
		return
	}
	c.JSON(http.StatusOK, task)
}

func handleAccount(c *gin.Context, d *daemon.Daemon) {
	projected, err := d.Account(c.Request.Context(), c.Param("address"), c.Param("accountIndex"))
	if errors.Is(err, coordinator.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown account"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, projected)
}

func handleTotalBalance(c *gin.Context, d *daemon.Daemon) {
	total, err := d.TotalFiatBalance(c.Param("address"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": total})
}

func handleRefresh(c *gin.Context, d *daemon.Daemon) {
	if err := d.Refresh(c.Request.Context(), c.Param("address")); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	task, _ := d.Task(c.Param("address"))
	c.JSON(http.StatusOK, task)
}

func handleFetchPage(c *gin.Context, d *daemon.Daemon) {
	var fromItem *uint
	if raw := c.Query("fromItem"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid fromItem"})
			return
		}
		item := uint(parsed)
		fromItem = &item
	}
	if err := d.FetchPage(c.Request.Context(), c.Param("address"), fromItem); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	task, _ := d.Task(c.Param("address"))
	c.JSON(http.StatusOK, task)
}

func handleTransactions(c *gin.Context, d *daemon.Daemon) {
	var tokenID *uint32
	if raw := c.Query("tokenId"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tokenId"})
			return
		}
		id := uint32(parsed)
		tokenID = &id
	}
	var fromItem *uint
	if raw := c.Query("fromItem"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid fromItem"})
			return
		}
		item := uint(parsed)
		fromItem = &item
	}
	res, err := d.Transactions(c.Request.Context(), c.Param("address"), tokenID, fromItem)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func handlePending(c *gin.Context, d *daemon.Daemon) {
	pending, err := d.Pending(c.Param("address"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, pending)
}

func handleRegisterDeposit(c *gin.Context, d *daemon.Daemon, log *logrus.Logger) {
	var req struct {
		TokenID uint32 `json:"tokenId"`
		Amount  string `json:"amount"`
		Hash    string `json:"hash"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	deposit, err := d.RegisterDeposit(c.Request.Context(), c.Param("address"), req.TokenID, req.Amount, req.Hash)
	if err != nil {
		log.Errorf("Failed to register deposit: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, deposit)
}

func handleRemoveDeposit(c *gin.Context, d *daemon.Daemon) {
	if err := d.RemovePendingDeposit(c.Param("address"), c.Param("hash")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func handleRegisterWithdraw(c *gin.Context, d *daemon.Daemon, log *logrus.Logger) {
	var req struct {
		AccountIndex string `json:"accountIndex"`
		BatchNum     int64  `json:"batchNum"`
		Hash         string `json:"hash"`
		Instant      bool   `json:"instant"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := d.RegisterWithdraw(c.Request.Context(), c.Param("address"), req.AccountIndex, req.BatchNum, req.Hash, req.Instant); err != nil {
		log.Errorf("Failed to register withdraw: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusCreated)
}

// handleFeeEstimate quotes the minimum and quantized L2 fee for a prospective
// transaction, plus the L1 deposit fee when the current gas price is known.
func handleFeeEstimate(c *gin.Context, d *daemon.Daemon, log *logrus.Logger) {
	var req struct {
		Type            types.TxType `json:"type"`
		Token           types.Token  `json:"token"`
		Amount          string       `json:"amount"`
		ReceiverAddress string       `json:"receiverAddress"`
		AccountExists   bool         `json:"accountExists"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	minimum := fees.MinimumL2Fee(req.Type, req.Token, d.FeeSchedule(), req.ReceiverAddress, req.AccountExists)
	quantized := minimum
	if req.Amount != "" {
		amount, err := types.ParseAmount(req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		quantized = fees.QuantizedFee(amount, minimum)
	}

	resp := gin.H{
		"minimumFee":   minimum.String(),
		"quantizedFee": quantized.String(),
	}
	if gasPrice, err := d.SuggestGasPrice(c.Request.Context()); err != nil {
		log.Warnf("Failed to fetch gas price for deposit fee estimate: %v", err)
	} else {
		resp["depositFee"] = fees.DepositFee(gasPrice).String()
	}
	c.JSON(http.StatusOK, resp)
}
