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

	"github.com/gin-gonic/gin"

	model2 "github.com/tabwise-finance/tabwise/api/model"
)

func (a Api) RegisterCrossChainBill(c *gin.Context) {
	var req model2.RegisterCrossChainBill
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.ValidateRegisterCrossChainBill(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := a.tabwise.RegisterCrossChainBill(c.Request.Context(), req.BillID, req.Token, req.Total, req.Chains, req.Amounts)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetCrossChainBill(c *gin.Context) {
	billID, passed := c.Params.Get("bill_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bill_id is required. pass bill_id in the route /:bill_id"})
		return
	}

	resp, err := a.tabwise.GetCrossChainBill(billID)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) SendCrossChainPayment(c *gin.Context) {
	billID, passed := c.Params.Get("bill_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bill_id is required. pass bill_id in the route /:bill_id"})
		return
	}

	var req model2.SendPayment
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.ValidateSendPayment(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := a.tabwise.SendCrossChainPayment(c.Request.Context(), billID, req.Payer, req.DestinationChain, req.DestinationAddress, req.Amount, req.Fee)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetPendingPayments(c *gin.Context) {
	billID, passed := c.Params.Get("bill_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bill_id is required. pass bill_id in the route /:bill_id"})
		return
	}
	includeProcessed := c.Query("include_processed") == "true"

	resp, err := a.tabwise.PendingPayments(billID, includeProcessed)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) ReconcilePendingPayments(c *gin.Context) {
	billID, passed := c.Params.Get("bill_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bill_id is required. pass bill_id in the route /:bill_id"})
		return
	}

	applied, err := a.tabwise.ReconcilePendingPayments(c.Request.Context(), billID)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"bill_id": billID, "applied": applied})
}
