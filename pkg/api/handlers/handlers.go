/*
 * Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
 *
 * WSO2 LLC. licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

// Package handlers implements the admin/ops HTTP endpoints: liveness,
// agent status, manual sync, and read-only views of the active policy
// snapshot and the collected schema catalog. The surface is diagnostic;
// policy is only ever written by the Hub sync loop.
package handlers

import (
	"context"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wso2/data-protection/crypto-agent/pkg/api/middleware"
	"github.com/wso2/data-protection/crypto-agent/pkg/controlplane"
	"github.com/wso2/data-protection/crypto-agent/pkg/engine"
	"github.com/wso2/data-protection/crypto-agent/pkg/models"
	"github.com/wso2/data-protection/crypto-agent/pkg/policy"
	"github.com/wso2/data-protection/crypto-agent/pkg/storage"
)

// Agent is the orchestrator view the admin surface reads from
type Agent interface {
	State() controlplane.State
	Identity() models.InstanceIdentity
	ForceSync(ctx context.Context)
	Engine() *engine.Client
}

// AdminServer serves the admin API endpoints
type AdminServer struct {
	agent    Agent
	resolver *policy.Resolver
	store    storage.Store
	logger   *zap.Logger
}

// NewAdminServer creates the admin API server
func NewAdminServer(agent Agent, resolver *policy.Resolver, store storage.Store, logger *zap.Logger) *AdminServer {
	return &AdminServer{
		agent:    agent,
		resolver: resolver,
		store:    store,
		logger:   logger,
	}
}

// Register attaches the admin routes to the router
func (s *AdminServer) Register(router *gin.Engine) {
	router.GET("/health", s.GetHealth)

	v1 := router.Group("/api/v1")
	v1.GET("/status", s.GetStatus)
	v1.POST("/sync", s.TriggerSync)
	v1.GET("/mappings", s.GetMappings)
	v1.GET("/schemas", s.GetSchemas)
}

// GetHealth handles GET /health
func (s *AdminServer) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type schemaCounts struct {
	Total      int `json:"total"`
	Registered int `json:"registered"`
	Created    int `json:"created"`
}

type statusResponse struct {
	Status          string       `json:"status"`
	State           string       `json:"state"`
	Registered      bool         `json:"registered"`
	HubID           string       `json:"hubId,omitempty"`
	Alias           string       `json:"alias"`
	PolicyVersion   uint64       `json:"policyVersion"`
	EngineConnected bool         `json:"engineConnected"`
	EndpointPinned  bool         `json:"endpointPinned"`
	Schemas         schemaCounts `json:"schemas"`
}

// GetStatus handles GET /api/v1/status. Hub identifiers are redacted; the
// full value only ever travels in the X-Tenant header.
func (s *AdminServer) GetStatus(c *gin.Context) {
	identity := s.agent.Identity()

	resp := statusResponse{
		Status:          "ok",
		State:           s.agent.State().String(),
		Registered:      identity.Registered(),
		HubID:           identity.RedactedHubID(),
		Alias:           identity.Alias,
		PolicyVersion:   s.resolver.CurrentVersion(),
		EngineConnected: s.agent.Engine() != nil,
	}

	if entries, err := s.store.LoadSchemas(); err == nil {
		resp.Schemas.Total = len(entries)
		for _, entry := range entries {
			switch entry.Status {
			case models.SchemaStatusRegistered:
				resp.Schemas.Registered++
			case models.SchemaStatusCreated:
				resp.Schemas.Created++
			}
		}
	}
	if _, err := s.store.LoadEndpoints(); err == nil {
		resp.EndpointPinned = true
	}

	c.JSON(http.StatusOK, resp)
}

// TriggerSync handles POST /api/v1/sync. The sync runs inline; a tick
// already in flight makes this a no-op.
func (s *AdminServer) TriggerSync(c *gin.Context) {
	log := middleware.GetLogger(c, s.logger)
	log.Info("Manual sync requested")

	s.agent.ForceSync(c.Request.Context())

	c.JSON(http.StatusAccepted, gin.H{
		"status": "ok",
		"state":  s.agent.State().String(),
	})
}

type mappingView struct {
	Key        string `json:"key"`
	PolicyName string `json:"policyName"`
}

// GetMappings handles GET /api/v1/mappings
func (s *AdminServer) GetMappings(c *gin.Context) {
	mappings, attributes := s.resolver.Mappings()

	views := make([]mappingView, 0, len(mappings))
	for key, name := range mappings {
		views = append(views, mappingView{Key: key, PolicyName: name})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Key < views[j].Key })

	c.JSON(http.StatusOK, gin.H{
		"version":  s.resolver.CurrentVersion(),
		"count":    len(views),
		"mappings": views,
		"policies": attributes,
	})
}

type schemaView struct {
	Key        string `json:"key"`
	Status     string `json:"status"`
	PolicyName string `json:"policyName,omitempty"`
}

// GetSchemas handles GET /api/v1/schemas
func (s *AdminServer) GetSchemas(c *gin.Context) {
	entries, err := s.store.LoadSchemas()
	if err != nil && !storage.IsNotFoundError(err) {
		middleware.GetLogger(c, s.logger).Error("Failed to load schema catalog", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": "Failed to load schema catalog",
		})
		return
	}

	views := make([]schemaView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, schemaView{
			Key:        entry.Key(),
			Status:     string(entry.Status),
			PolicyName: entry.PolicyName,
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Key < views[j].Key })

	c.JSON(http.StatusOK, gin.H{
		"count":   len(views),
		"schemas": views,
	})
}
