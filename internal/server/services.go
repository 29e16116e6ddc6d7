// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lectern Contributors

package server

import (
	"github.com/lectern-dev/lectern/internal/config"
	"github.com/lectern-dev/lectern/internal/index"
	"github.com/lectern-dev/lectern/internal/ingest"
	"github.com/lectern-dev/lectern/internal/provider"
	"github.com/lectern-dev/lectern/internal/retrieval"
)

// Services bundles the dependencies the HTTP handlers operate on.
type Services struct {
	Retriever  *retrieval.Retriever
	Provider   provider.Provider
	Pipeline   *ingest.Pipeline
	Index      index.Index
	Generation config.GenerationConfig
	IngestDir  string
}

// RegisterServices sets the service dependencies and registers the REST
// routes that need them.
func (s *Server) RegisterServices(svc *Services) {
	s.services = svc
	s.registerRoutes()
}
