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

func (a Api) RevokeStructure(c *gin.Context) {
	commitment, passed := c.Params.Get("commitment")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "commitment is required. pass commitment in the route /:commitment"})
		return
	}

	if err := a.tabwise.RevokeStructure(c.Request.Context(), commitment); err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"commitment": commitment, "revoked": true})
}

func (a Api) ResolveDispute(c *gin.Context) {
	billID, passed := c.Params.Get("bill_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bill_id is required. pass bill_id in the route /:bill_id"})
		return
	}

	var req model2.ResolveDispute
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := a.tabwise.ResolveDispute(c.Request.Context(), billID, req.Approved); err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"bill_id": billID, "approved": req.Approved})
}

func (a Api) RegisterToken(c *gin.Context) {
	var req model2.RegisterToken
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.ValidateRegisterToken(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := a.tabwise.AddSupportedToken(req.Symbol); err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"symbol": req.Symbol})
}

func (a Api) RemoveToken(c *gin.Context) {
	symbol, passed := c.Params.Get("symbol")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required. pass symbol in the route /:symbol"})
		return
	}

	if err := a.tabwise.RemoveSupportedToken(symbol); err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"symbol": symbol})
}

func (a Api) RegisterChain(c *gin.Context) {
	var req model2.RegisterChain
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.ValidateRegisterChain(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := a.tabwise.AddSupportedChain(req.Chain); err != nil {
		handleError(c, err)
		return
	}
	if req.Counterpart != "" {
		if err := a.tabwise.SetTrustedCounterpart(req.Chain, req.Counterpart); err != nil {
			handleError(c, err)
			return
		}
	}

	c.JSON(http.StatusCreated, gin.H{"chain": req.Chain, "counterpart": req.Counterpart})
}
