package target

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Verdict is the oracle's reading of one detection response.
type Verdict struct {
	Detected   bool
	Confidence float64
	Reason     string
}

// blockIndicators are body substrings that mark a blocked request when
// the endpoint does not speak the JSON verdict schema.
var blockIndicators = []string{
	"blocked",
	"forbidden",
	"access denied",
	"request rejected",
	"security violation",
}

// ContentOracle classifies a detection endpoint's HTTP response into a
// verdict. Endpoints that return the JSON verdict schema are read
// directly; anything else falls back to status and body heuristics.
type ContentOracle struct{}

// NewContentOracle creates the default response classifier.
func NewContentOracle() *ContentOracle {
	return &ContentOracle{}
}

// detectionResponse is the JSON verdict schema detection endpoints may
// speak. Confidence and reason are optional.
type detectionResponse struct {
	Detected   *bool   `json:"detected"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Classify turns a status code and body into a verdict. Server errors
// are protocol failures, not detection outcomes, and return an error so
// the result is excluded from scoring.
func (o *ContentOracle) Classify(statusCode int, body []byte) (Verdict, error) {
	if statusCode >= 500 {
		return Verdict{}, fmt.Errorf("detection endpoint returned %d", statusCode)
	}

	var resp detectionResponse
	if err := json.Unmarshal(body, &resp); err == nil && resp.Detected != nil {
		confidence := resp.Confidence
		if confidence <= 0 || confidence > 1 {
			confidence = 0.5
		}
		return Verdict{
			Detected:   *resp.Detected,
			Confidence: confidence,
			Reason:     resp.Reason,
		}, nil
	}

	// WAF-style deployments block at the HTTP layer instead of
	// answering with a verdict document.
	if statusCode == 403 || statusCode == 406 {
		return Verdict{
			Detected:   true,
			Confidence: 0.9,
			Reason:     fmt.Sprintf("request blocked with status %d", statusCode),
		}, nil
	}

	lower := strings.ToLower(string(body))
	for _, indicator := range blockIndicators {
		if strings.Contains(lower, indicator) {
			return Verdict{
				Detected:   true,
				Confidence: 0.7,
				Reason:     "block indicator in response: " + indicator,
			}, nil
		}
	}

	if statusCode >= 200 && statusCode < 300 {
		return Verdict{Detected: false, Confidence: 0.5, Reason: "request passed"}, nil
	}
	return Verdict{}, fmt.Errorf("unclassifiable response status %d", statusCode)
}
