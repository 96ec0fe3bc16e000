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

func (a Api) InitializeEscrow(c *gin.Context) {
	var req model2.InitializeEscrow
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.ValidateInitializeEscrow(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := a.tabwise.InitializeEscrow(c.Request.Context(), req.Commitment, req.Payee)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetEscrow(c *gin.Context) {
	billID, passed := c.Params.Get("bill_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bill_id is required. pass bill_id in the route /:bill_id"})
		return
	}

	resp, err := a.tabwise.GetEscrow(billID)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) PayEscrow(c *gin.Context) {
	billID, passed := c.Params.Get("bill_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bill_id is required. pass bill_id in the route /:bill_id"})
		return
	}

	var req model2.PayEscrow
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.ValidatePayEscrow(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := a.tabwise.PayEscrow(c.Request.Context(), billID, req.Payer, req.Amount)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (a Api) RefundEscrow(c *gin.Context) {
	billID, passed := c.Params.Get("bill_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bill_id is required. pass bill_id in the route /:bill_id"})
		return
	}

	resp, err := a.tabwise.RefundEscrow(c.Request.Context(), billID)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) RaiseDispute(c *gin.Context) {
	billID, passed := c.Params.Get("bill_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bill_id is required. pass bill_id in the route /:bill_id"})
		return
	}

	var req model2.RaiseDispute
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.ValidateRaiseDispute(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := a.tabwise.RaiseDispute(c.Request.Context(), billID, req.Challenger, req.Reason)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetOpenDispute(c *gin.Context) {
	billID, passed := c.Params.Get("bill_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bill_id is required. pass bill_id in the route /:bill_id"})
		return
	}

	resp, err := a.tabwise.GetOpenDispute(billID)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
