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

func (a Api) VerifyStructure(c *gin.Context) {
	var req model2.VerifyStructure
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.ValidateVerifyStructure(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := a.tabwise.VerifyStructure(c.Request.Context(), req.ToStructure(), req.Root, req.ToProof())
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (a Api) BatchVerifyStructures(c *gin.Context) {
	var req model2.BatchVerify
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.ValidateBatchVerify(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	structures, proofs := req.ToStructuresAndProofs()
	resp, err := a.tabwise.BatchVerifyStructures(c.Request.Context(), structures, req.Root, proofs)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetVerifiedStructure(c *gin.Context) {
	commitment, passed := c.Params.Get("commitment")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "commitment is required. pass commitment in the route /:commitment"})
		return
	}

	resp, err := a.tabwise.GetVerifiedStructure(commitment)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
