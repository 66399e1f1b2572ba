// Package verifier validates exported verification packages. It is
// stateless: every judgement is derived from the package itself plus
// the token and document hash the caller supplies out-of-band.
package verifier

import (
	"bytes"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/willchan-117/human-verifier/internal/report"
)

//go:embed schema.json
var schemaFS embed.FS

// Sentinel errors for malformed input.
var (
	ErrEmptyPackage   = errors.New("verifier: empty package")
	ErrInvalidPackage = errors.New("verifier: package does not match schema")
)

// Request is the raw verification input.
type Request struct {
	// Package is the exported artifact as produced by the builder.
	Package json.RawMessage `json:"package"`
	// Token is supplied by the caller out-of-band and must equal the
	// token embedded in the package.
	Token string `json:"token"`
	// DocumentHash is the caller's freshly computed content hash of the
	// document under review.
	DocumentHash string `json:"documentHash"`
}

// FlagTelemetry counts flagged sessions across the report.
type FlagTelemetry struct {
	LargePaste     int `json:"largePaste"`
	SpeedSpike     int `json:"speedSpike"`
	SustainedSpeed int `json:"sustainedSpeed"`
	TotalSessions  int `json:"totalSessions"`
}

// Telemetry is informational and never affects the verdict.
type Telemetry struct {
	Flags           FlagTelemetry `json:"flags"`
	ExportTimestamp string        `json:"exportTimestamp"`
}

// Result is the verification response envelope.
type Result struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Details   []string  `json:"details"`
	Telemetry Telemetry `json:"telemetry"`
}

// Verifier checks verification packages against their embedded hashes.
type Verifier struct {
	schema *jsonschema.Schema
}

// New compiles the embedded package schema and returns a ready Verifier.
func New() (*Verifier, error) {
	data, err := schemaFS.ReadFile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("verifier: read schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	const url = "verification-package-v1.schema.json"
	if err := compiler.AddResource(url, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("verifier: add schema resource: %w", err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("verifier: compile schema: %w", err)
	}
	return &Verifier{schema: schema}, nil
}

// Verify runs the three checks. All three always run; none short-circuits
// the others. An error is returned only for input the schema rejects,
// never for a failed check.
func (v *Verifier) Verify(req Request) (*Result, error) {
	if len(bytes.TrimSpace(req.Package)) == 0 {
		return nil, ErrEmptyPackage
	}
	if err := v.precheck(req.Package); err != nil {
		return nil, err
	}

	var pkg report.Package
	if err := json.Unmarshal(req.Package, &pkg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPackage, err)
	}

	res := &Result{Details: make([]string, 0, 3)}

	hashOK := v.checkReportIntegrity(&pkg, res)
	tokenOK := v.checkToken(&pkg, req.Token, res)
	docOK := v.checkDocumentIntegrity(&pkg, req.DocumentHash, res)

	res.Success = hashOK && tokenOK && docOK
	if res.Success {
		res.Message = "Verification passed: report is authentic and untampered"
	} else {
		res.Message = "Verification failed: one or more checks did not pass"
	}
	res.Telemetry = telemetry(pkg.Report)
	return res, nil
}

func (v *Verifier) precheck(raw json.RawMessage) error {
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPackage, err)
	}
	if err := v.schema.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPackage, err)
	}
	return nil
}

func (v *Verifier) checkReportIntegrity(pkg *report.Package, res *Result) bool {
	computed, err := report.HashReport(pkg.Report)
	if err != nil {
		res.Details = append(res.Details, "FAIL report integrity: report is not canonicalizable")
		return false
	}
	if subtle.ConstantTimeCompare([]byte(computed), []byte(pkg.Hash)) != 1 {
		res.Details = append(res.Details, "FAIL report integrity: recomputed hash does not match, report was modified after export")
		return false
	}
	res.Details = append(res.Details, "PASS report integrity: recomputed hash matches")
	return true
}

func (v *Verifier) checkToken(pkg *report.Package, callerToken string, res *Result) bool {
	if callerToken == "" {
		res.Details = append(res.Details, "FAIL token match: no token supplied")
		return false
	}
	if subtle.ConstantTimeCompare([]byte(pkg.Token), []byte(callerToken)) != 1 {
		res.Details = append(res.Details, "FAIL token match: supplied token does not match the exported token")
		return false
	}
	res.Details = append(res.Details, "PASS token match: supplied token matches")
	return true
}

func (v *Verifier) checkDocumentIntegrity(pkg *report.Package, callerHash string, res *Result) bool {
	stored := pkg.DocumentHash
	if stored == "" || stored == report.MissingDocumentHash {
		res.Details = append(res.Details, "WARN document integrity: no document hash stored in package, check skipped")
		return true
	}
	if callerHash == "" {
		res.Details = append(res.Details, "FAIL document integrity: no document hash supplied for comparison")
		return false
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(callerHash)) != 1 {
		res.Details = append(res.Details, "FAIL document integrity: document content changed since export, tampering detected")
		return false
	}
	res.Details = append(res.Details, "PASS document integrity: document hash matches")
	return true
}

// telemetry extracts flag counts and the export timestamp from the
// report. Decoding failures yield zero telemetry, never an error: the
// telemetry path cannot affect the verdict.
func telemetry(raw json.RawMessage) Telemetry {
	var rep report.Report
	if err := json.Unmarshal(raw, &rep); err != nil {
		return Telemetry{}
	}
	t := Telemetry{ExportTimestamp: rep.Summary.ExportTimestamp}
	if t.ExportTimestamp == "" {
		t.ExportTimestamp = rep.ExportedAt
	}
	if t.ExportTimestamp == "" {
		t.ExportTimestamp = "N/A"
	}
	t.Flags.TotalSessions = len(rep.Sessions)
	for _, s := range rep.Sessions {
		if s.Flags.LargePaste {
			t.Flags.LargePaste++
		}
		if s.Flags.SpeedSpike {
			t.Flags.SpeedSpike++
		}
		if s.Flags.SustainedSpeed {
			t.Flags.SustainedSpeed++
		}
	}
	return t
}

// Failure builds the error envelope used when a request cannot be
// verified at all, for example when the package fails the schema check.
func Failure(err error) *Result {
	return &Result{
		Success: false,
		Message: "Verification error: " + err.Error(),
		Details: []string{},
		Telemetry: Telemetry{
			ExportTimestamp: "N/A",
		},
	}
}
