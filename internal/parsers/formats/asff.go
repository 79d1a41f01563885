package formats

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"strings"
	"time"

	"github.com/target/soc-core/internal/domain/model"
	"github.com/target/soc-core/internal/parsers"
)

var asffNamespaceCategory = map[string][]string{
	"Software and Configuration Checks": {"configuration"},
	"TTPs":                              {"intrusion_detection"},
	"Effects":                           {"intrusion_detection"},
	"Unusual Behaviors":                 {"intrusion_detection"},
	"Sensitive Data Identifications":    {"file"},
	"Backdoor":                          {"malware"},
	"Behavior":                          {"intrusion_detection"},
	"CryptoCurrency":                    {"intrusion_detection"},
	"PenTest":                           {"intrusion_detection"},
	"Persistence":                       {"intrusion_detection"},
	"Policy":                            {"configuration"},
	"PrivilegeEscalation":               {"intrusion_detection"},
	"Recon":                             {"intrusion_detection"},
	"Stealth":                           {"intrusion_detection"},
	"Trojan":                            {"malware"},
	"UnauthorizedAccess":                {"authentication"},
	"Vulnerabilities":                   {"package"},
	"SensitiveData":                     {"file"},
	"IAMUser":                           {"iam"},
}

var asffSeverityScore = map[string]int{
	"INFORMATIONAL": 10,
	"LOW":            30,
	"MEDIUM":         50,
	"HIGH":           70,
	"CRITICAL":       90,
}

// AsffParser parses AWS Security Hub findings in AWS Security Finding Format
// (ASFF), the common output of GuardDuty, Inspector, Macie, and IAM Access
// Analyzer.
type AsffParser struct{}

var _ parsers.Parser = AsffParser{}

func (AsffParser) Metadata() model.ParserMetadata {
	return model.ParserMetadata{
		Name:                "asff",
		Category:            model.ParserCategoryCloudAudit,
		Description:         "AWS Security Hub finding (ASFF) parser",
		SupportedExtensions: []string{".json"},
		SupportedMimeTypes:  []string{"application/json"},
		Priority:            50,
	}
}

func (AsffParser) CanParse(fileName string, sniff []byte) bool {
	return strings.Contains(string(sniff), "\"SchemaVersion\"") && strings.Contains(string(sniff), "\"AwsAccountId\"")
}

type asffFinding map[string]any

func (AsffParser) Parse(ctx context.Context, r io.Reader, sourceName string) iter.Seq2[*model.ParsedEvent, error] {
	return func(yield func(*model.ParsedEvent, error) bool) {
		body, err := io.ReadAll(r)
		if err != nil {
			yield(nil, fmt.Errorf("asff: read: %w", err))
			return
		}

		var envelope struct {
			Findings []asffFinding `json:"Findings"`
		}
		findings := []asffFinding{}
		switch {
		case json.Unmarshal(body, &envelope) == nil && len(envelope.Findings) > 0:
			findings = envelope.Findings
		default:
			var arr []asffFinding
			if err := json.Unmarshal(body, &arr); err == nil {
				findings = arr
			} else {
				var single asffFinding
				if err := json.Unmarshal(body, &single); err == nil {
					findings = []asffFinding{single}
				} else {
					yieldAsffJSONL(ctx, body, sourceName, yield)
					return
				}
			}
		}

		for i, f := range findings {
			if ctx.Err() != nil {
				yield(nil, ctx.Err())
				return
			}
			if !yield(buildAsffEvent(f, sourceName, i+1), nil) {
				return
			}
		}
	}
}

func yieldAsffJSONL(ctx context.Context, body []byte, sourceName string, yield func(*model.ParsedEvent, error) bool) {
	for i, line := range strings.Split(string(body), "\n") {
		if ctx.Err() != nil {
			yield(nil, ctx.Err())
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var f asffFinding
		if err := json.Unmarshal([]byte(line), &f); err != nil {
			continue
		}
		if !yield(buildAsffEvent(f, sourceName, i+1), nil) {
			return
		}
	}
}

func buildAsffEvent(f asffFinding, sourceName string, line int) *model.ParsedEvent {
	timestamp := asffTimestamp(f)
	productARN, _ := f["ProductArn"].(string)
	productName := asffProductName(productARN)

	findingType := "Unknown"
	if types, ok := f["Types"].([]any); ok && len(types) > 0 {
		if s, ok := types[0].(string); ok {
			findingType = s
		}
	}

	severityLabel := "MEDIUM"
	if sev, ok := f["Severity"].(map[string]any); ok {
		if label, ok := sev["Label"].(string); ok {
			severityLabel = label
		}
	}

	ev := &model.ParsedEvent{
		Timestamp:     timestamp,
		Message:       asffMessage(f, severityLabel),
		SourceType:    fmt.Sprintf("asff:%s", productName),
		SourceFile:    sourceName,
		SourceLine:    line,
		EventKind:     "alert",
		EventAction:   findingType,
		EventCategory: asffCategories(findingType, f),
		EventType:     []string{"info"},
		Raw:           f,
	}

	status, _ := f["WorkflowState"].(string)
	if wf, ok := f["Workflow"].(map[string]any); ok {
		if s, ok := wf["Status"].(string); ok {
			status = s
		}
	}
	switch status {
	case "RESOLVED", "SUPPRESSED":
		outcome := "success"
		ev.EventOutcome = &outcome
	case "NEW":
		outcome := "unknown"
		ev.EventOutcome = &outcome
	}

	labels := map[string]string{
		"finding_id":    strField(f, "Id"),
		"product_arn":   productARN,
		"product_name":  productName,
		"generator_id":  strField(f, "GeneratorId"),
		"aws_account":   strField(f, "AwsAccountId"),
		"region":        strField(f, "Region"),
		"record_state":  strField(f, "RecordState"),
		"workflow_status": status,
		"severity_label":  severityLabel,
	}
	ev.Labels = labels

	if resources, ok := f["Resources"].([]any); ok && len(resources) > 0 {
		if res, ok := resources[0].(map[string]any); ok {
			if id, ok := res["Id"].(string); ok {
				ev.HostName = &id
			}
		}
	}
	return ev
}

func asffTimestamp(f asffFinding) time.Time {
	for _, field := range []string{"UpdatedAt", "CreatedAt", "FirstObservedAt"} {
		if v, ok := f[field].(string); ok {
			v = strings.Replace(v, "Z", "+00:00", 1)
			if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Now().UTC()
}

func asffMessage(f asffFinding, severityLabel string) string {
	title := strField(f, "Title")
	if title == "" {
		title = "Security Finding"
	}
	account := strField(f, "AwsAccountId")
	if account == "" {
		account = "unknown"
	}
	resourceInfo := ""
	if resources, ok := f["Resources"].([]any); ok && len(resources) > 0 {
		if res, ok := resources[0].(map[string]any); ok {
			rtype, _ := res["Type"].(string)
			rid, _ := res["Id"].(string)
			if rid != "" {
				if len(rid) > 50 {
					rid = "..." + rid[len(rid)-47:]
				}
				resourceInfo = fmt.Sprintf(" (%s: %s)", rtype, rid)
			}
		}
	}
	return fmt.Sprintf("[%s] %s%s in %s", severityLabel, title, resourceInfo, account)
}

func asffProductName(arn string) string {
	if idx := strings.LastIndex(arn, "/"); idx >= 0 {
		return arn[idx+1:]
	}
	return "unknown"
}

func asffCategories(findingType string, f asffFinding) []string {
	if idx := strings.Index(findingType, "/"); idx >= 0 {
		if cats, ok := asffNamespaceCategory[findingType[:idx]]; ok {
			return cats
		}
	}
	if resources, ok := f["Resources"].([]any); ok && len(resources) > 0 {
		if res, ok := resources[0].(map[string]any); ok {
			if rtype, ok := res["Type"].(string); ok {
				switch rtype {
				case "AwsEc2Instance":
					return []string{"host"}
				case "AwsS3Bucket", "AwsS3Object":
					return []string{"file"}
				case "AwsIamUser", "AwsIamRole", "AwsIamAccessKey", "AwsIamPolicy":
					return []string{"iam"}
				}
			}
		}
	}
	return []string{"cloud"}
}

func strField(f asffFinding, key string) string {
	v, _ := f[key].(string)
	return v
}

// SeverityScore converts an ASFF severity label to its 0-100 equivalent,
// falling back to Severity.Normalized when the label isn't recognized.
func SeverityScore(label string, fallback int) int {
	if v, ok := asffSeverityScore[label]; ok {
		return v
	}
	return fallback
}
