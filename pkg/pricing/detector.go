package pricing

import (
	"strings"
)

// DetectProvider derives the provider and region from a function or state
// machine ARN. Plain names carry neither and fall back to "default".
func DetectProvider(resourceID string) (string, string) {
	parts := strings.Split(resourceID, ":")
	if len(parts) < 4 || parts[0] != "arn" {
		return "default", ""
	}

	// arn:<partition>:lambda:<region>:<account>:function:<name>
	// arn:<partition>:states:<region>:<account>:stateMachine:<name>
	if strings.HasPrefix(parts[1], "aws") && (parts[2] == "lambda" || parts[2] == "states") {
		return "aws", parts[3]
	}
	return "default", ""
}
