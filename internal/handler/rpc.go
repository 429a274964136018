package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/altverseweb3/backend/internal/circuitbreaker"
	"github.com/altverseweb3/backend/internal/middleware"
	"github.com/altverseweb3/backend/internal/rpc"
	"github.com/gin-gonic/gin"
)

type RPCHandler struct {
	client *rpc.Client
}

func NewRPCHandler(client *rpc.Client) *RPCHandler {
	return &RPCHandler{client: client}
}

type rpcRequest struct {
	Network string          `json:"network"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Handles POST /rpc
func (h *RPCHandler) Call(c *gin.Context) {
	var req rpcRequest
	if err := decodeBody(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
		return
	}

	if req.Network == "" || req.Method == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields: 'network' and 'method'"})
		return
	}
	c.Set(middleware.RPCNetworkKey, req.Network)

	reply, err := h.client.Call(c.Request.Context(), req.Network, req.Method, req.Params)
	switch {
	case err == nil:
		c.Data(http.StatusOK, "application/json", reply)
	case errors.Is(err, rpc.ErrUnknownNetwork):
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Unknown network: '%s'", req.Network)})
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "RPC provider temporarily unavailable"})
	default:
		c.Error(err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to retrieve data from RPC provider"})
	}
}
