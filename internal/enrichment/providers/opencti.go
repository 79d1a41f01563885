// Package providers implements threat-intelligence lookups for
// internal/enrichment.Provider, one file per backend.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/target/soc-core/internal/domain/model"
)

// openctiIndicatorQuery mirrors the shape (not the full field set) of the
// original GraphQL query: filter stixCyberObservables by value, pull back
// score, labels, and indicator pattern matches.
const openctiIndicatorQuery = `
query GetObservable($value: String!) {
  stixCyberObservables(filters: {mode: and, filters: [{key: "value", values: [$value]}], filterGroups: []}, first: 10) {
    edges {
      node {
        x_opencti_score
        objectLabel { value }
        indicators { edges { node { valid_until } } }
      }
    }
  }
}`

type openctiGraphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type openctiObservableNode struct {
	Score      *float64 `json:"x_opencti_score"`
	ObjectLabel []struct {
		Value string `json:"value"`
	} `json:"objectLabel"`
}

type openctiGraphQLResponse struct {
	Data struct {
		StixCyberObservables struct {
			Edges []struct {
				Node openctiObservableNode `json:"node"`
			} `json:"edges"`
		} `json:"stixCyberObservables"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// OpenCTIProvider enriches indicators against an OpenCTI threat
// intelligence platform's GraphQL API.
type OpenCTIProvider struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// NewOpenCTIProvider builds a provider pointed at baseURL, authenticating
// with an OpenCTI API token.
func NewOpenCTIProvider(baseURL, token string, client *http.Client) *OpenCTIProvider {
	if client == nil {
		client = &http.Client{}
	}
	return &OpenCTIProvider{BaseURL: baseURL, Token: token, HTTP: client}
}

func (p *OpenCTIProvider) Name() string { return "opencti" }

func (p *OpenCTIProvider) Enrich(ctx context.Context, indicator string, _ model.IOCType) (*model.ProviderHit, error) {
	body, err := json.Marshal(openctiGraphQLRequest{
		Query:     openctiIndicatorQuery,
		Variables: map[string]any{"value": indicator},
	})
	if err != nil {
		return nil, fmt.Errorf("opencti: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/graphql", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("opencti: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.Token)
	}

	resp, err := p.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opencti: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("opencti: unexpected status %d", resp.StatusCode)
	}

	var parsed openctiGraphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("opencti: decode response: %w", err)
	}
	if len(parsed.Errors) > 0 {
		return nil, fmt.Errorf("opencti: graphql error: %s", parsed.Errors[0].Message)
	}

	edges := parsed.Data.StixCyberObservables.Edges
	if len(edges) == 0 {
		return &model.ProviderHit{Verdict: model.VerdictUnknown}, nil
	}

	node := edges[0].Node
	var score float64
	if node.Score != nil {
		score = *node.Score
	}
	tags := make([]string, 0, len(node.ObjectLabel))
	for _, l := range node.ObjectLabel {
		tags = append(tags, l.Value)
	}

	return &model.ProviderHit{
		Verdict: verdictFromScore(score),
		Score:   score,
		Tags:    tags,
	}, nil
}

func verdictFromScore(score float64) model.Verdict {
	switch {
	case score >= 75:
		return model.VerdictMalicious
	case score >= 40:
		return model.VerdictSuspicious
	case score > 0:
		return model.VerdictUnknown
	default:
		return model.VerdictClean
	}
}
