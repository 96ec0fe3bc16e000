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

func (a Api) CreateGroup(c *gin.Context) {
	var newGroup model2.CreateGroup
	if err := c.ShouldBindJSON(&newGroup); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := newGroup.ValidateCreateGroup(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := a.tabwise.CreateGroup(c.Request.Context(), newGroup.ToGroup())
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetGroup(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.tabwise.GetGroup(id)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetAllGroups(c *gin.Context) {
	limit, offset := pagination(c)

	if member := c.Query("member"); member != "" {
		resp, err := a.tabwise.GetGroupsByMember(member, limit, offset)
		if err != nil {
			handleError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	resp, err := a.tabwise.GetAllGroups(limit, offset)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) AddMember(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	var req model2.ModifyMember
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.ValidateModifyMember(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := a.tabwise.AddMember(c.Request.Context(), id, req.Actor, req.Address, req.CanCreateBills); err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"group_id": id, "address": req.Address})
}

func (a Api) RemoveMember(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	var req model2.ModifyMember
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.ValidateModifyMember(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := a.tabwise.RemoveMember(c.Request.Context(), id, req.Actor, req.Address); err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"group_id": id, "address": req.Address})
}

func (a Api) UpdateMemberPermissions(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	var req model2.ModifyMember
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.ValidateModifyMember(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := a.tabwise.UpdateMemberPermissions(c.Request.Context(), id, req.Actor, req.Address, req.CanCreateBills); err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"group_id": id, "address": req.Address, "can_create_bills": req.CanCreateBills})
}

func (a Api) DeactivateGroup(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	var req model2.ModifyMember
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Actor == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "actor: cannot be blank."})
		return
	}

	if err := a.tabwise.DeactivateGroup(c.Request.Context(), id, req.Actor); err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"group_id": id, "active": false})
}
