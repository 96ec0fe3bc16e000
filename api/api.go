/*
Copyright 2024 Tabwise Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/tabwise-finance/tabwise"
	"github.com/tabwise-finance/tabwise/api/middleware"
	"github.com/tabwise-finance/tabwise/config"
	"github.com/tabwise-finance/tabwise/internal/apierror"
)

type Api struct {
	tabwise *tabwise.Tabwise
	router  *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/groups", a.CreateGroup)
	router.GET("/groups/:id", a.GetGroup)
	router.GET("/groups", a.GetAllGroups)
	router.POST("/groups/:id/members", a.AddMember)
	router.DELETE("/groups/:id/members", a.RemoveMember)
	router.PUT("/groups/:id/members", a.UpdateMemberPermissions)
	router.POST("/groups/:id/deactivate", a.DeactivateGroup)

	router.POST("/bills", a.CreateBill)
	router.GET("/bills/:id", a.GetBill)
	router.GET("/groups/:id/bills", a.GetBillsByGroup)
	router.POST("/bills/:id/settle", a.SettleBill)

	router.POST("/verify", a.VerifyStructure)
	router.POST("/verify/batch", a.BatchVerifyStructures)
	router.GET("/structures/:commitment", a.GetVerifiedStructure)

	router.POST("/escrows", a.InitializeEscrow)
	router.GET("/escrows/:bill_id", a.GetEscrow)
	router.POST("/escrows/:bill_id/pay", a.PayEscrow)
	router.POST("/escrows/:bill_id/refund", a.RefundEscrow)
	router.POST("/escrows/:bill_id/disputes", a.RaiseDispute)
	router.GET("/escrows/:bill_id/disputes", a.GetOpenDispute)

	router.POST("/bridge/bills", a.RegisterCrossChainBill)
	router.GET("/bridge/bills/:bill_id", a.GetCrossChainBill)
	router.POST("/bridge/bills/:bill_id/pay", a.SendCrossChainPayment)
	router.GET("/bridge/bills/:bill_id/pending", a.GetPendingPayments)
	router.POST("/bridge/bills/:bill_id/reconcile", a.ReconcilePendingPayments)

	admin := router.Group("/admin", middleware.AdminAuthMiddleware())
	admin.POST("/pause", a.PauseEngine)
	admin.POST("/resume", a.ResumeEngine)
	admin.POST("/structures/:commitment/revoke", a.RevokeStructure)
	admin.POST("/escrows/:bill_id/disputes/resolve", a.ResolveDispute)
	admin.POST("/tokens", a.RegisterToken)
	admin.DELETE("/tokens/:symbol", a.RemoveToken)
	admin.POST("/chains", a.RegisterChain)

	return a.router
}

func NewAPI(t *tabwise.Tabwise) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{tabwise: t, router: r}
}

// handleError maps engine errors to HTTP responses with a consistent shape.
func handleError(c *gin.Context, err error) {
	status := apierror.MapErrorToHTTPStatus(err)
	if apiErr, ok := err.(apierror.APIError); ok {
		c.JSON(status, gin.H{"error": apiErr.Message, "code": apiErr.Code, "details": apiErr.Details})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func pagination(c *gin.Context) (int, int) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (a Api) PauseEngine(c *gin.Context) {
	a.tabwise.Pause()
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

func (a Api) ResumeEngine(c *gin.Context) {
	a.tabwise.Resume()
	c.JSON(http.StatusOK, gin.H{"paused": false})
}
