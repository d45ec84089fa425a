package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hla-match-prediction/internal/domain"
	"github.com/hla-match-prediction/internal/middleware"
)

// defaultGenotypeLimit caps the genotypes returned by the likelihood endpoint
const defaultGenotypeLimit = 100

// GenotypeLikelihoodRequest is one subject's typing
type GenotypeLikelihoodRequest struct {
	Label               string                       `json:"label,omitempty"`
	Hla                 domain.PhenotypeInfo[string] `json:"hla"`
	FrequencySet        domain.FrequencySetSelector  `json:"frequency_set"`
	ExcludedLoci        []domain.Locus               `json:"excluded_loci,omitempty"`
	NomenclatureVersion string                       `json:"nomenclature_version,omitempty"`
}

// GenotypeLikelihoodResponse is the normalized distribution, most likely
// genotypes first
type GenotypeLikelihoodResponse struct {
	*domain.GenotypeLikelihoods
	GenotypeCount int                         `json:"genotype_count"`
	Truncated     bool                        `json:"truncated"`
	Genotypes     []domain.GenotypeLikelihood `json:"genotypes"`
}

type healthResult struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// handleHealth runs the registered dependency checks
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	result := healthResult{Status: "healthy", Timestamp: time.Now().UTC(), Version: Version}
	status := http.StatusOK
	if len(s.healthChecks) > 0 {
		result.Checks = make(map[string]string, len(s.healthChecks))
	}
	for name, check := range s.healthChecks {
		if err := check(ctx); err != nil {
			result.Checks[name] = err.Error()
			result.Status = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		result.Checks[name] = "ok"
	}
	c.JSON(status, result)
}

// handleMatchProbability runs a patient against a donor batch
func (s *Server) handleMatchProbability(c *gin.Context) {
	var req domain.MatchProbabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, domain.NewValidationError("body", err.Error(), nil))
		return
	}
	if req.RequestID == "" {
		req.RequestID = c.GetString(middleware.CorrelationIDKey)
	}

	resp, err := s.predictor.CalculateMatchProbabilities(c.Request.Context(), &req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleGenotypeLikelihood returns one subject's distribution. The limit
// query parameter caps the genotypes listed; 0 lists none.
func (s *Server) handleGenotypeLikelihood(c *gin.Context) {
	limit := defaultGenotypeLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(c, domain.NewValidationError("limit", "limit must be a non-negative integer", v))
			return
		}
		limit = n
	}

	var req GenotypeLikelihoodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, domain.NewValidationError("body", err.Error(), nil))
		return
	}

	likelihoods, err := s.predictor.CalculateGenotypeLikelihoods(
		c.Request.Context(),
		domain.SubjectInput{Label: req.Label, Hla: req.Hla, FrequencySet: req.FrequencySet},
		req.ExcludedLoci,
		req.NomenclatureVersion,
	)
	if err != nil {
		s.writeError(c, err)
		return
	}

	sorted := likelihoods.Sorted()
	resp := GenotypeLikelihoodResponse{
		GenotypeLikelihoods: likelihoods,
		GenotypeCount:       len(sorted),
		Genotypes:           sorted,
	}
	if len(sorted) > limit {
		resp.Genotypes = sorted[:limit]
		resp.Truncated = true
	}
	c.JSON(http.StatusOK, resp)
}

// handleActiveFrequencySet shows which set a population resolves to
func (s *Server) handleActiveFrequencySet(c *gin.Context) {
	set, err := s.frequencies.SelectActiveSet(c.Request.Context(), c.Query("registry"), c.Query("ethnicity"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, set)
}
