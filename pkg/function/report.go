package function

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/opscart/lambda-sizer/pkg/models"
	"github.com/opscart/lambda-sizer/pkg/pricing"
)

// ErrReportParse is matched by every *ReportError.
var ErrReportParse = errors.New("malformed execution report")

// ReportError names the mandatory field a report was missing.
type ReportError struct {
	Field  string
	Report string
}

func (e *ReportError) Error() string {
	return fmt.Sprintf("%s: missing %q", ErrReportParse, e.Field)
}

func (e *ReportError) Unwrap() error {
	return ErrReportParse
}

var (
	durationPattern = regexp.MustCompile(`((?:[A-Z][a-z]+ )*)Duration: ([0-9]*\.?[0-9]+) ms`)
	memoryPattern   = regexp.MustCompile(`Memory Size: ([0-9]+) MB`)
)

// ParseReport extracts an execution log from a free-form report such as
//
//	REPORT RequestId: 6f1c	Duration: 12.34 ms	Billed Duration: 13 ms	Memory Size: 128 MB	Max Memory Used: 70 MB	Init Duration: 45.60 ms
//
// Duration, Billed Duration and Memory Size are mandatory.
func ParseReport(report string, rates pricing.Rates) (models.ExecutionLog, error) {
	var (
		duration, billed, initDuration float64
		haveDuration, haveBilled       bool
	)

	for _, match := range durationPattern.FindAllStringSubmatch(report, -1) {
		value, err := strconv.ParseFloat(match[2], 64)
		if err != nil {
			continue
		}
		switch strings.TrimSpace(match[1]) {
		case "":
			duration, haveDuration = value, true
		case "Billed":
			billed, haveBilled = value, true
		case "Init":
			initDuration = value
		}
	}

	if !haveDuration {
		return models.ExecutionLog{}, &ReportError{Field: "Duration", Report: report}
	}
	if !haveBilled {
		return models.ExecutionLog{}, &ReportError{Field: "Billed Duration", Report: report}
	}

	match := memoryPattern.FindStringSubmatch(report)
	if match == nil {
		return models.ExecutionLog{}, &ReportError{Field: "Memory Size", Report: report}
	}
	memory, err := strconv.Atoi(match[1])
	if err != nil {
		return models.ExecutionLog{}, &ReportError{Field: "Memory Size", Report: report}
	}

	return rates.Log(duration, billed, memory, initDuration), nil
}
